package vault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/oauth2"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

const keyFileName = "vault.key"

// FileVault keeps one encrypted token file per user under a directory.
// Tokens are sealed with XChaCha20-Poly1305 using a key generated on first
// use and stored alongside with 0600 permissions.
type FileVault struct {
	dir      string
	aead     func() ([]byte, error) // lazily loaded key
	oauthCfg *oauth2.Config
	logger   *events.Logger
}

// tokenRecord is the plaintext layout inside an encrypted token file.
type tokenRecord struct {
	Token        *oauth2.Token `json:"token"`
	Disconnected bool          `json:"disconnected,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewFileVault creates a vault rooted at dir.
func NewFileVault(dir string, oauthCfg *oauth2.Config, logger *events.Logger) (*FileVault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	v := &FileVault{
		dir:      dir,
		oauthCfg: oauthCfg,
		logger:   logger.WithField("component", "token_vault"),
	}
	v.aead = v.loadOrCreateKey
	return v, nil
}

// AccessToken returns a valid access token, refreshing through the OAuth
// endpoint when the stored one has expired.
func (v *FileVault) AccessToken(ctx context.Context, userID string) (*oauth2.Token, error) {
	rec, err := v.read(userID)
	if err != nil {
		return nil, err
	}
	if rec.Disconnected {
		return nil, models.ErrNotAuthenticated
	}

	if rec.Token.Valid() {
		return rec.Token, nil
	}

	// One refresh attempt; a rejected refresh token means the connection
	// is gone and the user must reconnect.
	refreshed, err := v.oauthCfg.TokenSource(ctx, rec.Token).Token()
	if err != nil {
		if isInvalidGrant(err) {
			v.logger.WithField("user_id", userID).Warn("Refresh token rejected, marking disconnected")
			_ = v.ReportInvalid(ctx, userID)
			return nil, models.ErrNotAuthenticated
		}
		return nil, &models.TransientError{Op: "token_refresh", Err: err}
	}

	if err := v.Store(ctx, userID, refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Store seals and writes the token, reactivating the connection.
func (v *FileVault) Store(ctx context.Context, userID string, token *oauth2.Token) error {
	return v.write(userID, &tokenRecord{
		Token:     token,
		UpdatedAt: time.Now().UTC(),
	})
}

// ReportInvalid marks the connection disconnected without discarding the
// record, so the state is visible to the status surface.
func (v *FileVault) ReportInvalid(ctx context.Context, userID string) error {
	rec, err := v.read(userID)
	if err != nil {
		return err
	}
	rec.Disconnected = true
	rec.UpdatedAt = time.Now().UTC()
	return v.write(userID, rec)
}

func (v *FileVault) read(userID string) (*tokenRecord, error) {
	data, err := os.ReadFile(v.tokenPath(userID))
	if os.IsNotExist(err) {
		return nil, models.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	key, err := v.aead()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("token file truncated")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("unseal token: %w", err)
	}

	var rec tokenRecord
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("parse token record: %w", err)
	}
	return &rec, nil
}

func (v *FileVault) write(userID string, rec *tokenRecord) error {
	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	key, err := v.aead()
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plain, []byte(userID))

	path := v.tokenPath(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, path)
}

// loadOrCreateKey reads the vault key, generating one on first use.
func (v *FileVault) loadOrCreateKey() ([]byte, error) {
	path := filepath.Join(v.dir, keyFileName)

	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("vault key has wrong size")
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read vault key: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("write vault key: %w", err)
	}

	v.logger.Info("Generated new vault key")
	return key, nil
}

func (v *FileVault) tokenPath(userID string) string {
	// User IDs come from our own store, but keep the filename safe anyway.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		}
		return '_'
	}, userID)
	return filepath.Join(v.dir, safe+".token")
}

func isInvalidGrant(err error) bool {
	return strings.Contains(err.Error(), "invalid_grant")
}
