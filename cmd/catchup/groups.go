package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Review provider group mapping suggestions",
	Long: `Groups manages how provider groups map onto local groups. The sync
engine only suggests mappings; nothing is created or linked until a
suggestion is approved here.`,
}

var groupsListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List group mapping suggestions",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsList,
}

var groupsApproveCmd = &cobra.Command{
	Use:   "approve <user-id> <group-external-id>",
	Short: "Approve a suggestion and apply it",
	Long: `Approve accepts a pending suggestion. A create_new suggestion creates
the local group; a map_to_existing suggestion links the provider group to
its target. Membership is applied on the next sync.`,
	Args: cobra.ExactArgs(2),
	RunE: runGroupsApprove,
}

var groupsRejectCmd = &cobra.Command{
	Use:   "reject <user-id> <group-external-id>",
	Short: "Reject a suggestion",
	Args:  cobra.ExactArgs(2),
	RunE:  runGroupsReject,
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsListCmd, groupsApproveCmd, groupsRejectCmd)
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	userID := args[0]

	mappings, err := apiClient.Store.ListGroupMappings(context.Background(), userID)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(mappings)
		return nil
	}

	if len(mappings) == 0 {
		printInfo("No group mappings for %s. Run a full sync first.", userID)
		return nil
	}

	for _, m := range mappings {
		fmt.Printf("%s  %q\n", m.ExternalID, m.ProviderName)
		fmt.Printf("   Status:     %s\n", m.Status)
		fmt.Printf("   Suggestion: %s (confidence %.0f%%)\n", m.SuggestedAction, m.Confidence*100)
		fmt.Printf("   Reason:     %s\n", m.Reason)
		if m.LocalGroupID != "" {
			fmt.Printf("   Local group: %s\n", m.LocalGroupID)
		}
		fmt.Println()
	}
	return nil
}

func runGroupsApprove(cmd *cobra.Command, args []string) error {
	userID, externalID := args[0], args[1]
	ctx := context.Background()

	mapping, err := findMapping(ctx, userID, externalID)
	if err != nil {
		return err
	}

	if mapping.SuggestedAction == models.ActionCreateNew && mapping.LocalGroupID == "" {
		group := &models.Group{UserID: userID, Name: mapping.ProviderName}
		if err := apiClient.Store.CreateGroup(ctx, group); err != nil {
			return fmt.Errorf("create local group: %w", err)
		}
		mapping.LocalGroupID = group.ID
	}

	mapping.Status = models.MappingApproved
	if err := apiClient.Store.UpsertGroupMapping(ctx, mapping); err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}

	if jsonOutput {
		printJSON(mapping)
	} else {
		printSuccess("Approved %q -> local group %s. Membership applies on the next sync.",
			mapping.ProviderName, mapping.LocalGroupID)
	}
	return nil
}

func runGroupsReject(cmd *cobra.Command, args []string) error {
	userID, externalID := args[0], args[1]
	ctx := context.Background()

	mapping, err := findMapping(ctx, userID, externalID)
	if err != nil {
		return err
	}

	mapping.Status = models.MappingRejected
	if err := apiClient.Store.UpsertGroupMapping(ctx, mapping); err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}

	if jsonOutput {
		printJSON(mapping)
	} else {
		printSuccess("Rejected mapping for %q", mapping.ProviderName)
	}
	return nil
}

func findMapping(ctx context.Context, userID, externalID string) (*models.GroupMapping, error) {
	mappings, err := apiClient.Store.ListGroupMappings(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range mappings {
		if mappings[i].ExternalID == externalID {
			return &mappings[i], nil
		}
	}
	return nil, fmt.Errorf("no mapping for group %s (run a full sync first)", externalID)
}
