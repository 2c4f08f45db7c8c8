package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfolio/mailroom/config"
	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/data"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

type dispatchFixture struct {
	notifications *mockNotificationRepo
	recipients    *mockRecipientDirectory
	jobRepo       *mockJobRepo
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		notifications: &mockNotificationRepo{},
		recipients:    &mockRecipientDirectory{},
		jobRepo:       &mockJobRepo{},
	}

	f.recipients.lookupFunc = func(_ context.Context, kind model.RecipientKind, id string) (*model.Recipient, error) {
		return &model.Recipient{ID: id, Kind: kind, Email: strPtr("user@example.com")}, nil
	}
	f.notifications.createFunc = func(_ context.Context, req *model.CreateNotificationRequest) (*model.Notification, error) {
		return &model.Notification{
			ID:            "notif-1",
			RecipientID:   req.RecipientID,
			RecipientKind: req.RecipientKind,
			Title:         req.Title,
			Message:       req.Message,
			Status:        model.NotificationStatusActive,
			TriggerDate:   req.TriggerDate,
			ExpiresAt:     req.ExpiresAt,
			EmailDelivery: req.EmailDelivery,
		}, nil
	}
	f.notifications.updateEmailFunc = func(context.Context, core.UpdateEmailDeliveryParams) (bool, error) {
		return true, nil
	}
	f.jobRepo.enqueueFunc = func(_ context.Context, req *model.EnqueueJobRequest) (*model.Job, error) {
		return &model.Job{ID: "job-1", Kind: req.Kind, Payload: req.Payload, Priority: req.Priority}, nil
	}
	return f
}

func (f *dispatchFixture) service(t *testing.T, cfg config.DispatcherConfig) *DispatcherService {
	t.Helper()
	jobs, err := NewJobService(JobServiceOptions{Repo: f.jobRepo, DefaultLease: 30 * time.Second})
	require.NoError(t, err)

	svc, err := NewDispatcherService(DispatcherOptions{
		Notifications: f.notifications,
		Recipients:    f.recipients,
		Jobs:          jobs,
		Config:        cfg,
	})
	require.NoError(t, err)
	return svc
}

func TestDispatchUnknownRecipientIsNoop(t *testing.T) {
	f := newDispatchFixture()
	f.recipients.lookupFunc = func(context.Context, model.RecipientKind, string) (*model.Recipient, error) {
		return nil, data.ErrRecipientNotFound
	}

	created := false
	f.notifications.createFunc = func(context.Context, *model.CreateNotificationRequest) (*model.Notification, error) {
		created = true
		return nil, errors.New("should not be called")
	}

	svc := f.service(t, config.DispatcherConfig{})
	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "ghost",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
	})
	require.NoError(t, err)
	assert.Nil(t, notification)
	assert.False(t, created)
}

func TestDispatchEnqueuesEmailJob(t *testing.T) {
	f := newDispatchFixture()

	var enqueued *model.EnqueueJobRequest
	f.jobRepo.enqueueFunc = func(_ context.Context, req *model.EnqueueJobRequest) (*model.Job, error) {
		enqueued = req
		return &model.Job{ID: "job-1", Kind: req.Kind, Payload: req.Payload, Priority: req.Priority}, nil
	}

	svc := f.service(t, config.DispatcherConfig{DefaultBrandID: "brand-default", EmailJobPriority: 3})
	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Project published",
		Message:       "Your project is live.",
		EmailKind:     "notification",
	})
	require.NoError(t, err)
	require.NotNil(t, notification)

	require.NotNil(t, enqueued)
	assert.Equal(t, model.JobKindSendEmail, enqueued.Kind)
	assert.Equal(t, 3, enqueued.Priority)

	var payload model.EmailJobPayload
	require.NoError(t, json.Unmarshal(enqueued.Payload, &payload))
	assert.Equal(t, "notification", payload.EmailKind)
	assert.Equal(t, "user@example.com", payload.Recipient)
	assert.Equal(t, "brand-default", payload.BrandID)
	assert.Equal(t, "notif-1", payload.NotificationID)
	assert.Equal(t, "Project published", payload.Subject)

	assert.Equal(t, model.EmailDeliveryQueued, notification.EmailDelivery.Status)
	require.NotNil(t, notification.EmailDelivery.JobID)
	assert.Equal(t, "job-1", *notification.EmailDelivery.JobID)
}

func TestDispatchEmailChannelDisabled(t *testing.T) {
	f := newDispatchFixture()
	enqueued := false
	f.jobRepo.enqueueFunc = func(context.Context, *model.EnqueueJobRequest) (*model.Job, error) {
		enqueued = true
		return nil, errors.New("should not be called")
	}

	svc := f.service(t, config.DispatcherConfig{})
	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
		EmailKind:     "notification",
		Channels:      &model.ChannelSelection{Email: boolPtr(false)},
	})
	require.NoError(t, err)
	require.NotNil(t, notification)

	assert.Equal(t, model.EmailDeliveryDisabled, notification.EmailDelivery.Status)
	require.NotNil(t, notification.EmailDelivery.StatusReason)
	assert.Equal(t, model.StatusReasonChannelDisabled, *notification.EmailDelivery.StatusReason)
	assert.False(t, enqueued)
}

func TestDispatchWithoutEmailKindStaysInApp(t *testing.T) {
	f := newDispatchFixture()
	svc := f.service(t, config.DispatcherConfig{})

	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
	})
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, model.EmailDeliverySkipped, notification.EmailDelivery.Status)
	require.NotNil(t, notification.EmailDelivery.StatusReason)
	assert.Equal(t, model.StatusReasonMissingEmailKind, *notification.EmailDelivery.StatusReason)
}

func TestDispatchLookupFailureIsSwallowed(t *testing.T) {
	f := newDispatchFixture()
	f.recipients.lookupFunc = func(context.Context, model.RecipientKind, string) (*model.Recipient, error) {
		return nil, errors.New("directory unavailable")
	}

	created := false
	f.notifications.createFunc = func(context.Context, *model.CreateNotificationRequest) (*model.Notification, error) {
		created = true
		return nil, errors.New("should not be called")
	}

	svc := f.service(t, config.DispatcherConfig{})
	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
	})
	require.NoError(t, err)
	assert.Nil(t, notification)
	assert.False(t, created)
}

func TestDispatchMissingEmailAddressSkips(t *testing.T) {
	f := newDispatchFixture()
	f.recipients.lookupFunc = func(_ context.Context, kind model.RecipientKind, id string) (*model.Recipient, error) {
		return &model.Recipient{ID: id, Kind: kind}, nil
	}

	svc := f.service(t, config.DispatcherConfig{})
	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
		EmailKind:     "notification",
	})
	require.NoError(t, err)
	require.NotNil(t, notification)

	assert.Equal(t, model.EmailDeliverySkipped, notification.EmailDelivery.Status)
	require.NotNil(t, notification.EmailDelivery.StatusReason)
	assert.Equal(t, model.StatusReasonMissingEmailAddress, *notification.EmailDelivery.StatusReason)
}

func TestDispatchEnqueueFailureDoesNotFailDispatch(t *testing.T) {
	f := newDispatchFixture()
	f.jobRepo.enqueueFunc = func(context.Context, *model.EnqueueJobRequest) (*model.Job, error) {
		return nil, errors.New("queue down")
	}

	var recorded core.UpdateEmailDeliveryParams
	f.notifications.updateEmailFunc = func(_ context.Context, params core.UpdateEmailDeliveryParams) (bool, error) {
		recorded = params
		return true, nil
	}

	svc := f.service(t, config.DispatcherConfig{})
	notification, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
		EmailKind:     "notification",
	})
	require.NoError(t, err)
	require.NotNil(t, notification)

	assert.Equal(t, model.EmailDeliveryFailed, notification.EmailDelivery.Status)
	require.NotNil(t, notification.EmailDelivery.StatusReason)
	assert.Equal(t, model.StatusReasonQueueEnqueueFailed, *notification.EmailDelivery.StatusReason)
	assert.Equal(t, model.EmailDeliveryFailed, recorded.State.Status)
}

func TestDispatchAppliesDefaultTTL(t *testing.T) {
	f := newDispatchFixture()

	var created *model.CreateNotificationRequest
	f.notifications.createFunc = func(_ context.Context, req *model.CreateNotificationRequest) (*model.Notification, error) {
		created = req
		return &model.Notification{ID: "notif-1", EmailDelivery: req.EmailDelivery}, nil
	}

	trigger := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := f.service(t, config.DispatcherConfig{DefaultTTL: 48 * time.Hour})
	_, err := svc.Dispatch(context.Background(), &model.DispatchRequest{
		RecipientID:   "user-1",
		RecipientKind: model.RecipientKindUser,
		Title:         "Hello",
		TriggerDate:   &trigger,
	})
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.Equal(t, trigger, created.TriggerDate)
	assert.Equal(t, trigger.Add(48*time.Hour), created.ExpiresAt)
}
