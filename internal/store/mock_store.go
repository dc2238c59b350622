package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/dedup"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// MockStore is an in-memory Store for tests. CAS semantics match the real
// backends, including the missing-row-counts-as-idle rule.
type MockStore struct {
	mu sync.Mutex

	cursors  map[string]*models.SyncCursor
	contacts map[string][]models.Contact
	groups   map[string][]models.Group
	members  map[string]map[string][]string // userID -> groupID -> contactIDs
	mappings map[string][]models.GroupMapping

	// Error injection.
	ReadCursorErr error
	CASErr        error
	ApplyBatchErr error

	// ApplyBatchErrAt fails the Nth ApplyBatch call (1-based) once, for
	// mid-run interruption tests. Zero disables it.
	ApplyBatchErrAt int
	applyCalls      int
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		cursors:  make(map[string]*models.SyncCursor),
		contacts: make(map[string][]models.Contact),
		groups:   make(map[string][]models.Group),
		members:  make(map[string]map[string][]string),
		mappings: make(map[string][]models.GroupMapping),
	}
}

func (m *MockStore) ReadCursor(ctx context.Context, userID string) (*models.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadCursorErr != nil {
		return nil, m.ReadCursorErr
	}

	c, ok := m.cursors[userID]
	if !ok {
		return nil, models.ErrCursorNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *MockStore) CASWriteCursor(ctx context.Context, userID string, expected []models.SyncStatus, cursor *models.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CASErr != nil {
		return m.CASErr
	}

	current := models.StatusIdle
	if c, ok := m.cursors[userID]; ok {
		current = c.Status
	}

	matched := false
	for _, st := range expected {
		if st == current {
			matched = true
			break
		}
	}
	if !matched {
		return models.ErrCursorConflict
	}

	copied := *cursor
	copied.UpdatedAt = time.Now().UTC()
	m.cursors[userID] = &copied
	return nil
}

// SeedCursor installs a cursor directly, bypassing CAS.
func (m *MockStore) SeedCursor(cursor *models.SyncCursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *cursor
	m.cursors[cursor.UserID] = &copied
}

func (m *MockStore) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var live []models.Contact
	for _, c := range m.contacts[userID] {
		if !c.Archived {
			live = append(live, c)
		}
	}
	return live, nil
}

func (m *MockStore) ApplyBatch(ctx context.Context, userID string, instructions []dedup.Instruction) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyCalls++
	if m.ApplyBatchErr != nil {
		return 0, 0, m.ApplyBatchErr
	}
	if m.ApplyBatchErrAt > 0 && m.applyCalls == m.ApplyBatchErrAt {
		return 0, 0, &models.TransientError{Op: "datastore", Err: fmt.Errorf("injected batch failure")}
	}

	var created, updated int
	for _, instr := range instructions {
		switch instr.Op {
		case dedup.OpCreate:
			c := instr.Contact
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.UserID = userID
			c.LastSyncedAt = time.Now().UTC()
			m.contacts[userID] = append(m.contacts[userID], c)
			created++

		case dedup.OpMerge:
			for i := range m.contacts[userID] {
				c := &m.contacts[userID][i]
				if c.ID != instr.ContactID {
					continue
				}
				applyPatch(c, instr.Patch)
				c.LastSyncedAt = time.Now().UTC()
				break
			}
			if len(instr.Patch) > 0 {
				updated++
			}
		}
	}
	return created, updated, nil
}

func applyPatch(c *models.Contact, patch map[string]interface{}) {
	for field, val := range patch {
		switch field {
		case models.FieldName:
			c.Name, _ = val.(string)
		case models.FieldEmail:
			c.Email, _ = val.(string)
		case models.FieldPhone:
			c.Phone, _ = val.(string)
		case models.FieldOrganization:
			c.Organization, _ = val.(string)
		case models.FieldLocations:
			c.Locations, _ = val.([]string)
		case models.FieldGroups:
			c.GroupExternalIDs, _ = val.([]string)
		case "external_id":
			c.ExternalID, _ = val.(string)
		case "etag":
			c.ETag, _ = val.(string)
		}
	}
}

func (m *MockStore) ArchiveContact(ctx context.Context, userID, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.contacts[userID] {
		c := &m.contacts[userID][i]
		if c.ExternalID == externalID && !c.Archived {
			c.Archived = true
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) ListGroups(ctx context.Context, userID string) ([]models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := make([]models.Group, len(m.groups[userID]))
	copy(groups, m.groups[userID])
	return groups, nil
}

func (m *MockStore) CreateGroup(ctx context.Context, group *models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	m.groups[group.UserID] = append(m.groups[group.UserID], *group)
	return nil
}

func (m *MockStore) AddGroupMember(ctx context.Context, userID, groupID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members[userID] == nil {
		m.members[userID] = make(map[string][]string)
	}
	for _, id := range m.members[userID][groupID] {
		if id == contactID {
			return nil
		}
	}
	m.members[userID][groupID] = append(m.members[userID][groupID], contactID)
	return nil
}

// GroupMembers returns a group's member contact IDs, for test assertions.
func (m *MockStore) GroupMembers(userID, groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.members[userID][groupID]...)
}

func (m *MockStore) ListGroupMappings(ctx context.Context, userID string) ([]models.GroupMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mappings := make([]models.GroupMapping, len(m.mappings[userID]))
	copy(mappings, m.mappings[userID])
	return mappings, nil
}

func (m *MockStore) UpsertGroupMapping(ctx context.Context, mapping *models.GroupMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.mappings[mapping.UserID] {
		if m.mappings[mapping.UserID][i].ExternalID == mapping.ExternalID {
			m.mappings[mapping.UserID][i] = *mapping
			return nil
		}
	}
	m.mappings[mapping.UserID] = append(m.mappings[mapping.UserID], *mapping)
	return nil
}

// SeedLocalEdit simulates a user overriding a field locally.
func (m *MockStore) SeedLocalEdit(userID, contactID, field string, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.contacts[userID] {
		c := &m.contacts[userID][i]
		if c.ID != contactID {
			continue
		}
		applyPatch(c, map[string]interface{}{field: value})
		c.MarkLocallyEdited(field)
		return
	}
}

// AllContacts returns every stored contact including archived ones, for test
// assertions.
func (m *MockStore) AllContacts(userID string) []models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Contact(nil), m.contacts[userID]...)
}
