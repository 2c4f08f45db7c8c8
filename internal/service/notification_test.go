package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

func newNotificationService(t *testing.T, repo *mockNotificationRepo) *NotificationService {
	t.Helper()
	svc, err := NewNotificationService(NotificationServiceOptions{Repo: repo})
	require.NoError(t, err)
	return svc
}

func TestNotificationServiceRequiresRepo(t *testing.T) {
	_, err := NewNotificationService(NotificationServiceOptions{})
	assert.EqualError(t, err, "NotificationRepository is required")
}

func TestNotificationServiceRequiresIDs(t *testing.T) {
	svc := newNotificationService(t, &mockNotificationRepo{})

	_, err := svc.GetByID(context.Background(), "")
	assert.EqualError(t, err, "notification id is required")

	_, err = svc.MarkRead(context.Background(), "")
	assert.EqualError(t, err, "notification id is required")

	_, err = svc.ListActive(context.Background(), core.ListNotificationsParams{})
	assert.EqualError(t, err, "recipient id is required")
}

func TestNotificationServiceMarkRead(t *testing.T) {
	repo := &mockNotificationRepo{}
	readAt := time.Now()
	repo.markReadFunc = func(_ context.Context, id string) (*model.Notification, error) {
		assert.Equal(t, "notif-1", id)
		return &model.Notification{ID: id, IsRead: true, ReadAt: &readAt}, nil
	}
	svc := newNotificationService(t, repo)

	n, err := svc.MarkRead(context.Background(), "notif-1")
	require.NoError(t, err)
	assert.True(t, n.IsRead)
	require.NotNil(t, n.ReadAt)
}

func TestNotificationServiceListActivePassesParams(t *testing.T) {
	repo := &mockNotificationRepo{}
	var seen core.ListNotificationsParams
	repo.listActiveFunc = func(_ context.Context, params core.ListNotificationsParams) ([]*model.Notification, error) {
		seen = params
		return []*model.Notification{{ID: "notif-1"}}, nil
	}
	svc := newNotificationService(t, repo)

	params := core.ListNotificationsParams{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		UnreadOnly:    true,
		Limit:         25,
		Offset:        50,
	}
	out, err := svc.ListActive(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, params, seen)
}
