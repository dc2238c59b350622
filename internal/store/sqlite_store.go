package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/dedup"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens (and if needed initializes) the database at dbPath.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_store"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS contacts (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        external_id TEXT,
        etag TEXT,
        name TEXT NOT NULL DEFAULT '',
        email TEXT NOT NULL DEFAULT '',
        phone TEXT NOT NULL DEFAULT '',
        organization TEXT NOT NULL DEFAULT '',
        locations TEXT NOT NULL DEFAULT '[]',
        group_external_ids TEXT NOT NULL DEFAULT '[]',
        locally_edited TEXT NOT NULL DEFAULT '[]',
        archived INTEGER NOT NULL DEFAULT 0,
        last_synced_at TIMESTAMP,
        UNIQUE(user_id, external_id)
    );
    CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);

    CREATE TABLE IF NOT EXISTS local_groups (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        name TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_local_groups_user ON local_groups(user_id);

    CREATE TABLE IF NOT EXISTS group_members (
        user_id TEXT NOT NULL,
        group_id TEXT NOT NULL,
        contact_id TEXT NOT NULL,
        PRIMARY KEY (user_id, group_id, contact_id)
    );

    CREATE TABLE IF NOT EXISTS group_mappings (
        user_id TEXT NOT NULL,
        external_id TEXT NOT NULL,
        etag TEXT NOT NULL DEFAULT '',
        provider_name TEXT NOT NULL DEFAULT '',
        local_group_id TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL,
        suggested_action TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0,
        reason TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (user_id, external_id)
    );

    CREATE TABLE IF NOT EXISTS sync_cursors (
        user_id TEXT PRIMARY KEY,
        sync_token TEXT NOT NULL DEFAULT '',
        page_token TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'idle',
        last_full_sync_at TIMESTAMP,
        last_incremental_sync_at TIMESTAMP,
        total_contacts_synced INTEGER NOT NULL DEFAULT 0,
        last_error TEXT NOT NULL DEFAULT '',
        last_idempotency_key TEXT NOT NULL DEFAULT '',
        claimed_at TIMESTAMP,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ReadCursor loads a user's sync cursor.
func (s *SQLiteStore) ReadCursor(ctx context.Context, userID string) (*models.SyncCursor, error) {
	c := models.SyncCursor{UserID: userID}
	var lastFull, lastIncr, claimedAt, updatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
        SELECT sync_token, page_token, status, last_full_sync_at,
               last_incremental_sync_at, total_contacts_synced, last_error,
               last_idempotency_key, claimed_at, updated_at
        FROM sync_cursors WHERE user_id = ?
    `, userID).Scan(&c.SyncToken, &c.PageToken, &c.Status, &lastFull,
		&lastIncr, &c.TotalContactsSynced, &c.LastError,
		&c.LastIdempotencyKey, &claimedAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, models.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cursor: %w", err)
	}

	if lastFull.Valid {
		c.LastFullSyncAt = lastFull.Time
	}
	if lastIncr.Valid {
		c.LastIncrementalSyncAt = lastIncr.Time
	}
	if claimedAt.Valid {
		c.ClaimedAt = claimedAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}

	return &c, nil
}

// CASWriteCursor writes the cursor only if the stored status matches one of
// expected. A missing row is created idle first, so a fresh user's claim
// races on the same guard as everyone else's.
func (s *SQLiteStore) CASWriteCursor(ctx context.Context, userID string, expected []models.SyncStatus, cursor *models.SyncCursor) error {
	if _, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO sync_cursors (user_id, status) VALUES (?, 'idle')
    `, userID); err != nil {
		return fmt.Errorf("seed cursor row: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(expected)), ",")
	args := []interface{}{
		cursor.SyncToken, cursor.PageToken, string(cursor.Status),
		nullTime(cursor.LastFullSyncAt), nullTime(cursor.LastIncrementalSyncAt),
		cursor.TotalContactsSynced, cursor.LastError, cursor.LastIdempotencyKey,
		nullTime(cursor.ClaimedAt), userID,
	}
	for _, st := range expected {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
        UPDATE sync_cursors SET
            sync_token = ?, page_token = ?, status = ?,
            last_full_sync_at = ?, last_incremental_sync_at = ?,
            total_contacts_synced = ?, last_error = ?, last_idempotency_key = ?,
            claimed_at = ?, updated_at = CURRENT_TIMESTAMP
        WHERE user_id = ? AND status IN (%s)
    `, placeholders), args...)
	if err != nil {
		return fmt.Errorf("cas write cursor: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrCursorConflict
	}
	return nil
}

// ListContacts returns the user's live contacts.
func (s *SQLiteStore) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, external_id, etag, name, email, phone, organization,
               locations, group_external_ids, locally_edited, last_synced_at
        FROM contacts WHERE user_id = ? AND archived = 0
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		c := models.Contact{UserID: userID}
		var extID, etag sql.NullString
		var locations, groupIDs, locallyEdited string
		var lastSynced sql.NullTime

		if err := rows.Scan(&c.ID, &extID, &etag, &c.Name, &c.Email, &c.Phone,
			&c.Organization, &locations, &groupIDs, &locallyEdited, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}

		c.ExternalID = extID.String
		c.ETag = etag.String
		if lastSynced.Valid {
			c.LastSyncedAt = lastSynced.Time
		}
		if err := unmarshalList(locations, &c.Locations); err != nil {
			return nil, err
		}
		if err := unmarshalList(groupIDs, &c.GroupExternalIDs); err != nil {
			return nil, err
		}
		if err := unmarshalList(locallyEdited, &c.LocallyEdited); err != nil {
			return nil, err
		}

		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

// ApplyBatch applies one page's create/merge instructions in a single
// transaction.
func (s *SQLiteStore) ApplyBatch(ctx context.Context, userID string, instructions []dedup.Instruction) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var created, updated int

	for _, instr := range instructions {
		switch instr.Op {
		case dedup.OpCreate:
			c := instr.Contact
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO contacts (id, user_id, external_id, etag, name,
                    email, phone, organization, locations, group_external_ids,
                    locally_edited, last_synced_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?)
            `, c.ID, userID, nullString(c.ExternalID), nullString(c.ETag),
				c.Name, c.Email, c.Phone, c.Organization,
				marshalList(c.Locations), marshalList(c.GroupExternalIDs), now); err != nil {
				return 0, 0, fmt.Errorf("insert contact %s: %w", c.ExternalID, err)
			}
			created++

		case dedup.OpMerge:
			set, args := mergeSQL(instr.Patch)
			set = append(set, "last_synced_at = ?")
			args = append(args, now, instr.ContactID, userID)

			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				"UPDATE contacts SET %s WHERE id = ? AND user_id = ?",
				strings.Join(set, ", ")), args...); err != nil {
				return 0, 0, fmt.Errorf("merge contact %s: %w", instr.ContactID, err)
			}
			if len(instr.Patch) > 0 {
				updated++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit batch: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"created": created,
		"updated": updated,
	}).Debug("Applied contact batch")

	return created, updated, nil
}

// mergeSQL maps a dedup patch onto UPDATE clauses.
func mergeSQL(patch map[string]interface{}) ([]string, []interface{}) {
	var set []string
	var args []interface{}

	add := func(col string, val interface{}) {
		set = append(set, col+" = ?")
		args = append(args, val)
	}

	for field, val := range patch {
		switch field {
		case models.FieldName:
			add("name", val)
		case models.FieldEmail:
			add("email", val)
		case models.FieldPhone:
			add("phone", val)
		case models.FieldOrganization:
			add("organization", val)
		case models.FieldLocations:
			add("locations", marshalList(toStrings(val)))
		case models.FieldGroups:
			add("group_external_ids", marshalList(toStrings(val)))
		case "external_id":
			add("external_id", val)
		case "etag":
			add("etag", val)
		}
	}

	return set, args
}

// ArchiveContact soft-deletes a contact by provider external ID.
func (s *SQLiteStore) ArchiveContact(ctx context.Context, userID, externalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE contacts SET archived = 1
        WHERE user_id = ? AND external_id = ? AND archived = 0
    `, userID, externalID)
	if err != nil {
		return false, fmt.Errorf("archive contact: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListGroups returns local groups with member external IDs for overlap
// scoring.
func (s *SQLiteStore) ListGroups(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT g.id, g.name, COALESCE(c.external_id, '')
        FROM local_groups g
        LEFT JOIN group_members m ON m.group_id = g.id AND m.user_id = g.user_id
        LEFT JOIN contacts c ON c.id = m.contact_id
        WHERE g.user_id = ?
        ORDER BY g.id
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	byID := make(map[string]int)

	for rows.Next() {
		var id, name, memberExtID string
		if err := rows.Scan(&id, &name, &memberExtID); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}

		i, ok := byID[id]
		if !ok {
			groups = append(groups, models.Group{ID: id, UserID: userID, Name: name})
			i = len(groups) - 1
			byID[id] = i
		}
		if memberExtID != "" {
			groups[i].MemberExternalIDs = append(groups[i].MemberExternalIDs, memberExtID)
		}
	}

	return groups, rows.Err()
}

// CreateGroup inserts a local group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO local_groups (id, user_id, name) VALUES (?, ?, ?)
    `, group.ID, group.UserID, group.Name)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// AddGroupMember records a contact's membership. Re-adding is a no-op.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, userID, groupID, contactID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO group_members (user_id, group_id, contact_id)
        VALUES (?, ?, ?)
    `, userID, groupID, contactID)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

// ListGroupMappings returns all mappings for a user.
func (s *SQLiteStore) ListGroupMappings(ctx context.Context, userID string) ([]models.GroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT external_id, etag, provider_name, local_group_id, status,
               suggested_action, confidence, reason
        FROM group_mappings WHERE user_id = ?
        ORDER BY external_id
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.GroupMapping
	for rows.Next() {
		m := models.GroupMapping{UserID: userID}
		if err := rows.Scan(&m.ExternalID, &m.ETag, &m.ProviderName,
			&m.LocalGroupID, &m.Status, &m.SuggestedAction,
			&m.Confidence, &m.Reason); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// UpsertGroupMapping inserts or replaces a mapping.
func (s *SQLiteStore) UpsertGroupMapping(ctx context.Context, m *models.GroupMapping) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO group_mappings (user_id, external_id, etag, provider_name,
            local_group_id, status, suggested_action, confidence, reason)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id, external_id) DO UPDATE SET
            etag = excluded.etag,
            provider_name = excluded.provider_name,
            local_group_id = excluded.local_group_id,
            status = excluded.status,
            suggested_action = excluded.suggested_action,
            confidence = excluded.confidence,
            reason = excluded.reason
    `, m.UserID, m.ExternalID, m.ETag, m.ProviderName, m.LocalGroupID,
		string(m.Status), string(m.SuggestedAction), m.Confidence, m.Reason)
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Helpers

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalList(data string, dst *[]string) error {
	if data == "" || data == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("parse list column: %w", err)
	}
	return nil
}

func toStrings(val interface{}) []string {
	if list, ok := val.([]string); ok {
		return list
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
