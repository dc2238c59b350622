package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <user-id>",
	Short: "Show the user's sync state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	userID := args[0]

	cursor, err := apiClient.Sync.Status(context.Background(), userID)
	if errors.Is(err, models.ErrCursorNotFound) {
		if jsonOutput {
			printJSON(map[string]interface{}{"user_id": userID, "status": "never_synced"})
		} else {
			printInfo("No sync has run yet for %s", userID)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(cursor)
		return nil
	}

	fmt.Printf("Sync status for %s:\n", userID)
	fmt.Printf("   Status:          %s\n", cursor.Status)
	fmt.Printf("   Contacts synced: %d\n", cursor.TotalContactsSynced)
	fmt.Printf("   Last full sync:  %s\n", formatTime(cursor.LastFullSyncAt))
	fmt.Printf("   Last increment:  %s\n", formatTime(cursor.LastIncrementalSyncAt))

	if cursor.Running() {
		printWarning("   A sync is running (claimed %s)", formatTime(cursor.ClaimedAt))
	}
	if cursor.Status == models.StatusFailed && cursor.LastError != "" {
		printError("   Last error: %s", cursor.LastError)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
