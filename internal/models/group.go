package models

// MappingStatus is the human-review state of a group mapping.
type MappingStatus string

const (
	MappingPending  MappingStatus = "pending"
	MappingApproved MappingStatus = "approved"
	MappingRejected MappingStatus = "rejected"
)

// SuggestedAction is what the suggester recommends for a provider group.
type SuggestedAction string

const (
	ActionCreateNew     SuggestedAction = "create_new"
	ActionMapToExisting SuggestedAction = "map_to_existing"
)

// Group is a user-defined local group.
type Group struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// External IDs of member contacts, for overlap scoring.
	MemberExternalIDs []string `json:"member_external_ids,omitempty"`
}

// ProviderGroup is a group/tag as reported by the provider.
type ProviderGroup struct {
	ExternalID        string   `json:"external_id"`
	ETag              string   `json:"etag,omitempty"`
	Name              string   `json:"name"`
	MemberExternalIDs []string `json:"member_external_ids,omitempty"`
}

// GroupMapping links a provider group to the local grouping scheme.
// Membership sync only ever executes for approved mappings.
type GroupMapping struct {
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id"`
	ETag       string `json:"etag,omitempty"`

	// Provider group name at suggestion time, kept so approving a
	// create_new suggestion can name the new local group.
	ProviderName string `json:"provider_name,omitempty"`

	LocalGroupID    string          `json:"local_group_id,omitempty"`
	Status          MappingStatus   `json:"status"`
	SuggestedAction SuggestedAction `json:"suggested_action"`
	Confidence      float64         `json:"confidence"`
	Reason          string          `json:"reason"`
}

// GroupSuggestion is the suggester's output for one provider group.
type GroupSuggestion struct {
	Action        SuggestedAction `json:"action"`
	TargetGroupID string          `json:"target_group_id,omitempty"`
	Confidence    float64         `json:"confidence"`
	Reason        string          `json:"reason"`
}
