package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	syncsvc "github.com/kaivalyagandhi/catchup-app-sub016/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <user-id>",
	Short: "Synchronize contacts from the provider",
	Long: `Sync pulls the user's provider contacts into the local address book.
Incremental by default, fetching only changes since the last run. Use
--full to force a complete listing.`,
	Example: `  catchup sync alice
  catchup sync alice --full`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var syncFull bool

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Force full sync instead of incremental")
}

func runSync(cmd *cobra.Command, args []string) error {
	userID := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nSync interrupted, cancelling...")
		cancel()
	}()

	result, err := apiClient.Sync.Sync(ctx, userID, syncsvc.Options{Full: syncFull})
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success":    false,
				"user_id":    userID,
				"error":      err.Error(),
				"error_code": models.Classify(err),
			})
			return err
		}
		switch {
		case errors.Is(err, models.ErrSyncInProgress):
			printWarning("A sync for %s is already running", userID)
		case errors.Is(err, models.ErrNotAuthenticated):
			printError("User %s is not connected. Run: catchup login %s", userID, userID)
		default:
			printError("Sync failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"result":  result,
		})
		return nil
	}

	fmt.Printf("\nSync summary for %s:\n", userID)
	fmt.Printf("   Created:   %d\n", result.ContactsCreated)
	fmt.Printf("   Updated:   %d\n", result.ContactsUpdated)
	fmt.Printf("   Archived:  %d\n", result.ContactsArchived)
	if result.GroupsImported > 0 {
		fmt.Printf("   Groups:    %d imported, %d suggestions\n",
			result.GroupsImported, result.SuggestionsGenerated)
	}
	fmt.Printf("   Duration:  %s\n", result.Duration.Round(time.Millisecond))

	if result.RecoveredFull {
		printWarning("   Resume token was invalidated; recovered with a full sync")
	}
	if len(result.Errors) > 0 {
		printWarning("   Skipped %d malformed records:", len(result.Errors))
		for _, re := range result.Errors {
			fmt.Printf("     - %s: %s\n", re.ExternalID, re.Reason)
		}
	}

	printSuccess("\nSync completed")
	return nil
}
