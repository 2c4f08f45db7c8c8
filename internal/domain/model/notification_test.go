package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNotificationRequestValidate(t *testing.T) {
	valid := func() *CreateNotificationRequest {
		return &CreateNotificationRequest{
			RecipientID:   "user-1",
			RecipientKind: RecipientKindUser,
			Title:         "Welcome",
		}
	}

	require.NoError(t, valid().Validate())

	r := valid()
	r.RecipientID = "  "
	assert.EqualError(t, r.Validate(), "recipient id is required")

	r = valid()
	r.RecipientKind = "bot"
	assert.EqualError(t, r.Validate(), "invalid recipient kind")

	r = valid()
	r.Title = ""
	assert.EqualError(t, r.Validate(), "title is required")
}

func TestChannelSelectionDefaults(t *testing.T) {
	var nilSelection *ChannelSelection
	assert.True(t, nilSelection.EmailEnabled(), "email defaults on")
	assert.False(t, nilSelection.RealtimeEnabled(), "realtime defaults off")

	empty := &ChannelSelection{}
	assert.True(t, empty.EmailEnabled())
	assert.False(t, empty.RealtimeEnabled())

	off := false
	on := true
	explicit := &ChannelSelection{Email: &off, Realtime: &on}
	assert.False(t, explicit.EmailEnabled())
	assert.True(t, explicit.RealtimeEnabled())
}

func TestNotificationExpired(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	n := &Notification{
		TriggerDate: now.Add(-time.Hour),
		ExpiresAt:   now.Add(time.Hour),
	}
	assert.False(t, n.Expired(now))

	n.ExpiresAt = now.Add(-time.Minute)
	assert.True(t, n.Expired(now))

	// Exactly at the horizon counts as expired.
	n.ExpiresAt = now
	assert.True(t, n.Expired(now))

	// A future trigger date keeps the row alive regardless of expiry.
	n.TriggerDate = now.Add(time.Hour)
	assert.False(t, n.Expired(now))
}

func TestRecipientKindValid(t *testing.T) {
	assert.True(t, RecipientKindUser.Valid())
	assert.True(t, RecipientKindAdmin.Valid())
	assert.False(t, RecipientKind("service").Valid())
	assert.False(t, RecipientKind("").Valid())
}
