package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/data"
	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/service"
)

// fakeLogRepo is a minimal core.DeliveryLogRepository for handler tests.
// Only the lookups the webhook path touches are configurable.
type fakeLogRepo struct {
	findByMessageIDFunc func(ctx context.Context, messageID string) (*model.DeliveryLogEntry, error)
	findRecentFunc      func(ctx context.Context, params core.FindRecentByRecipientParams) (*model.DeliveryLogEntry, error)
	markBouncedFunc     func(ctx context.Context, params core.MarkBouncedParams) (*model.DeliveryLogEntry, error)
}

func (f *fakeLogRepo) OpenAttempt(context.Context, *model.OpenDeliveryAttemptParams) (*model.DeliveryLogEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) GetByJobID(context.Context, string) (*model.DeliveryLogEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) GetByID(context.Context, string) (*model.DeliveryLogEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) MarkSent(context.Context, core.MarkSentParams) (*model.DeliveryLogEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) MarkFailed(context.Context, string, string) (*model.DeliveryLogEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) MarkFailedIfPending(context.Context, string, string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeLogRepo) MarkBounced(ctx context.Context, params core.MarkBouncedParams) (*model.DeliveryLogEntry, error) {
	if f.markBouncedFunc != nil {
		return f.markBouncedFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) AdvanceEngagement(context.Context, string, *model.BounceEvent) (*model.DeliveryLogEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) FindByProviderMessageID(ctx context.Context, messageID string) (*model.DeliveryLogEntry, error) {
	if f.findByMessageIDFunc != nil {
		return f.findByMessageIDFunc(ctx, messageID)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) FindRecentByRecipient(
	ctx context.Context,
	params core.FindRecentByRecipientParams,
) (*model.DeliveryLogEntry, error) {
	if f.findRecentFunc != nil {
		return f.findRecentFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeLogRepo) SoftDelete(context.Context, string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeLogRepo) Stats(context.Context) (*model.DeliveryLogStats, error) {
	return nil, errors.New("not implemented")
}

// fakeNotificationRepo is a minimal core.NotificationRepository for handler tests.
type fakeNotificationRepo struct {
	updateEmailByJobIDFunc func(ctx context.Context, jobID string, state model.EmailDeliveryState) (bool, error)
}

func (f *fakeNotificationRepo) Create(context.Context, *model.CreateNotificationRequest) (*model.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotificationRepo) GetByID(context.Context, string) (*model.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotificationRepo) UpdateEmailDelivery(context.Context, core.UpdateEmailDeliveryParams) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeNotificationRepo) UpdateEmailDeliveryByJobID(
	ctx context.Context,
	jobID string,
	state model.EmailDeliveryState,
) (bool, error) {
	if f.updateEmailByJobIDFunc != nil {
		return f.updateEmailByJobIDFunc(ctx, jobID, state)
	}
	return false, errors.New("not implemented")
}

func (f *fakeNotificationRepo) MarkRead(context.Context, string) (*model.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotificationRepo) ListActive(context.Context, core.ListNotificationsParams) ([]*model.Notification, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNotificationRepo) ExpireDue(context.Context, time.Time, int) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeNotificationRepo) DeleteExpiredBefore(context.Context, time.Duration, int) (int64, error) {
	return 0, errors.New("not implemented")
}

func newWebhookHandler(t *testing.T, logs *fakeLogRepo, notifications *fakeNotificationRepo) *WebhookHandlers {
	t.Helper()
	svc, err := service.NewBounceService(service.BounceServiceOptions{
		Logs:          logs,
		Notifications: notifications,
	})
	require.NoError(t, err)
	return &WebhookHandlers{Svc: svc}
}

func postWebhook(h *WebhookHandlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/email", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)
	return rec
}

func TestWebhookIngestEmptyBody(t *testing.T) {
	h := newWebhookHandler(t, &fakeLogRepo{}, &fakeNotificationRepo{})

	rec := postWebhook(h, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty_payload")
}

func TestWebhookIngestUnparseableBodyStillAcks(t *testing.T) {
	h := newWebhookHandler(t, &fakeLogRepo{}, &fakeNotificationRepo{})

	rec := postWebhook(h, "<xml>not json</xml>")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), "unrecognized payload")
	assert.Contains(t, rec.Body.String(), `"received":0`)
}

func TestWebhookIngestUnmatchedEventStillAcks(t *testing.T) {
	logs := &fakeLogRepo{
		findByMessageIDFunc: func(_ context.Context, _ string) (*model.DeliveryLogEntry, error) {
			return nil, data.ErrDeliveryLogNotFound
		},
		findRecentFunc: func(_ context.Context, _ core.FindRecentByRecipientParams) (*model.DeliveryLogEntry, error) {
			return nil, data.ErrDeliveryLogNotFound
		},
	}
	h := newWebhookHandler(t, logs, &fakeNotificationRepo{})

	rec := postWebhook(h, `{"email":"stranger@example.com","event":"bounce","messageId":"m-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), "email log not found")
	assert.Contains(t, rec.Body.String(), `"received":1`)
	assert.Contains(t, rec.Body.String(), `"matched":0`)
}

func TestWebhookIngestMatchedBounce(t *testing.T) {
	entry := &model.DeliveryLogEntry{ID: "log-1", JobID: "job-1", Status: model.DeliveryStatusSent}
	logs := &fakeLogRepo{
		findByMessageIDFunc: func(_ context.Context, _ string) (*model.DeliveryLogEntry, error) {
			return entry, nil
		},
		markBouncedFunc: func(_ context.Context, _ core.MarkBouncedParams) (*model.DeliveryLogEntry, error) {
			return entry, nil
		},
	}
	notifications := &fakeNotificationRepo{
		updateEmailByJobIDFunc: func(_ context.Context, _ string, _ model.EmailDeliveryState) (bool, error) {
			return true, nil
		},
	}
	h := newWebhookHandler(t, logs, notifications)

	rec := postWebhook(h, `{"email":"user@example.com","event":"bounce","messageId":"m-1","reason":"no such user"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), "webhook processed")
	assert.Contains(t, rec.Body.String(), `"responseCode":200`)
	assert.Contains(t, rec.Body.String(), `"matched":1`)
}

func TestWebhookIngestStoreErrorReturns500(t *testing.T) {
	logs := &fakeLogRepo{
		findByMessageIDFunc: func(_ context.Context, _ string) (*model.DeliveryLogEntry, error) {
			return nil, errors.New("connection reset")
		},
	}
	h := newWebhookHandler(t, logs, &fakeNotificationRepo{})

	rec := postWebhook(h, `{"email":"user@example.com","event":"bounce","messageId":"m-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingest_failed")
}
