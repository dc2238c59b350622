package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/client"
)

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Connect a provider account",
	Long: `Login runs the provider authorization flow and stores the resulting
token in the encrypted local vault. Only read-only contact access is
requested.`,
	Example: `  catchup login alice
  catchup login alice --no-browser`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var loginNoBrowser bool

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false,
		"Print the authorization URL and paste the code manually")
}

func runLogin(cmd *cobra.Command, args []string) error {
	userID := args[0]
	ctx := context.Background()

	if cfg.Provider.ClientID == "" {
		return errors.New("provider.client_id not configured (set CATCHUP_CLIENT_ID)")
	}

	oauthCfg := client.OAuthConfig(cfg.Provider)
	state := uuid.NewString()
	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))

	var code string
	var err error
	if loginNoBrowser {
		code, err = promptCode(authURL)
	} else {
		code, err = awaitCallback(ctx, oauthCfg.RedirectURL, authURL, state)
	}
	if err != nil {
		return err
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	if err := apiClient.Vault.Store(ctx, userID, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"user_id": userID,
		})
	} else {
		printSuccess("Connected provider account for %s", userID)
	}
	return nil
}

// promptCode prints the authorization URL and reads the pasted code.
func promptCode(authURL string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("--no-browser requires an interactive terminal")
	}

	printInfo("Open this URL in a browser and authorize access:\n\n  %s\n", authURL)
	fmt.Fprint(os.Stderr, "Authorization code: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}

	code := strings.TrimSpace(line)
	if code == "" {
		return "", errors.New("empty authorization code")
	}
	return code, nil
}

// awaitCallback serves the redirect URL until the provider delivers the
// authorization code.
func awaitCallback(ctx context.Context, redirectURL, authURL, state string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}

	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(parsed.Path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			results <- callback{err: errors.New("authorization state mismatch")}
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			http.Error(w, errMsg, http.StatusBadRequest)
			results <- callback{err: fmt.Errorf("authorization denied: %s", errMsg)}
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		results <- callback{code: q.Get("code")}
	})

	server := &http.Server{Addr: parsed.Host, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- callback{err: fmt.Errorf("callback server: %w", err)}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	printInfo("Open this URL in a browser and authorize access:\n\n  %s\n", authURL)
	printInfo("Waiting for authorization...")

	select {
	case result := <-results:
		if result.err != nil {
			return "", result.err
		}
		return result.code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
