package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

func TestNewSyncCursor(t *testing.T) {
	c := models.NewSyncCursor("user-1")
	assert.Equal(t, "user-1", c.UserID)
	assert.Equal(t, models.StatusIdle, c.Status)
	assert.False(t, c.Running())
}

func TestCursorRunning(t *testing.T) {
	c := models.NewSyncCursor("user-1")

	c.Status = models.StatusFullRunning
	assert.True(t, c.Running())

	c.Status = models.StatusIncrementalRunning
	assert.True(t, c.Running())

	c.Status = models.StatusFailed
	assert.False(t, c.Running())
}

func TestStaleClaim(t *testing.T) {
	now := time.Now()
	c := models.NewSyncCursor("user-1")
	c.Status = models.StatusFullRunning
	c.ClaimedAt = now.Add(-20 * time.Minute)

	assert.True(t, c.StaleClaim(15*time.Minute, now))
	assert.False(t, c.StaleClaim(30*time.Minute, now))

	// Idle cursors are never stale claims.
	c.Status = models.StatusIdle
	assert.False(t, c.StaleClaim(time.Minute, now))

	// A running claim without a timestamp is immediately reclaimable.
	c.Status = models.StatusIncrementalRunning
	c.ClaimedAt = time.Time{}
	assert.True(t, c.StaleClaim(15*time.Minute, now))
}

func TestContactLocallyEdited(t *testing.T) {
	c := &models.Contact{Name: "Ada"}
	assert.False(t, c.IsLocallyEdited(models.FieldEmail))

	c.MarkLocallyEdited(models.FieldEmail)
	c.MarkLocallyEdited(models.FieldEmail) // no duplicate entries
	assert.True(t, c.IsLocallyEdited(models.FieldEmail))
	assert.Len(t, c.LocallyEdited, 1)
}

func TestContactHasContactMethod(t *testing.T) {
	assert.False(t, (&models.Contact{Name: "Ada"}).HasContactMethod())
	assert.True(t, (&models.Contact{Email: "ada@example.com"}).HasContactMethod())
	assert.True(t, (&models.Contact{Phone: "+15551234567"}).HasContactMethod())
}
