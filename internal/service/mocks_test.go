package service

import (
	"context"
	"errors"
	"time"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

// mockJobRepo is a mock implementation of core.JobRepository for testing.
type mockJobRepo struct {
	enqueueFunc           func(ctx context.Context, req *model.EnqueueJobRequest) (*model.Job, error)
	getByIDFunc           func(ctx context.Context, id string) (*model.Job, error)
	reserveNextFunc       func(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error)
	waitFunc              func(ctx context.Context, kind model.JobKind) error
	heartbeatFunc         func(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	completeFunc          func(ctx context.Context, id string) (bool, error)
	failFunc              func(ctx context.Context, id, errMsg string) (bool, error)
	failPermanentlyFunc   func(ctx context.Context, id, errMsg string) (bool, error)
	statsFunc             func(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	requeueExpiredFunc    func(ctx context.Context, kind model.JobKind) (int64, error)
	deleteOldFinishedFunc func(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

func (m *mockJobRepo) Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (*model.Job, error) {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) ReserveNext(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error) {
	if m.reserveNextFunc != nil {
		return m.reserveNextFunc(ctx, kind, leaseSeconds)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	if m.waitFunc != nil {
		return m.waitFunc(ctx, kind)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockJobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if m.heartbeatFunc != nil {
		return m.heartbeatFunc(ctx, jobID, leaseSeconds)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Complete(ctx context.Context, id string) (bool, error) {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, id)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if m.failFunc != nil {
		return m.failFunc(ctx, id, errMsg)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) FailPermanently(ctx context.Context, id, errMsg string) (bool, error) {
	if m.failPermanentlyFunc != nil {
		return m.failPermanentlyFunc(ctx, id, errMsg)
	}
	return false, errors.New("not implemented")
}

func (m *mockJobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx, kind)
	}
	return nil, errors.New("not implemented")
}

func (m *mockJobRepo) RequeueExpired(ctx context.Context, kind model.JobKind) (int64, error) {
	if m.requeueExpiredFunc != nil {
		return m.requeueExpiredFunc(ctx, kind)
	}
	return 0, errors.New("not implemented")
}

func (m *mockJobRepo) DeleteOldFinished(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if m.deleteOldFinishedFunc != nil {
		return m.deleteOldFinishedFunc(ctx, maxAge, batchSize)
	}
	return 0, errors.New("not implemented")
}

// mockDeliveryLogRepo is a mock implementation of core.DeliveryLogRepository for testing.
type mockDeliveryLogRepo struct {
	openAttemptFunc         func(ctx context.Context, params *model.OpenDeliveryAttemptParams) (*model.DeliveryLogEntry, error)
	getByJobIDFunc          func(ctx context.Context, jobID string) (*model.DeliveryLogEntry, error)
	getByIDFunc             func(ctx context.Context, id string) (*model.DeliveryLogEntry, error)
	markSentFunc            func(ctx context.Context, params core.MarkSentParams) (*model.DeliveryLogEntry, error)
	markFailedFunc          func(ctx context.Context, jobID, errMsg string) (*model.DeliveryLogEntry, error)
	markFailedIfPendingFunc func(ctx context.Context, jobID, errMsg string) (bool, error)
	markBouncedFunc         func(ctx context.Context, params core.MarkBouncedParams) (*model.DeliveryLogEntry, error)
	advanceEngagementFunc   func(ctx context.Context, logID string, event *model.BounceEvent) (*model.DeliveryLogEntry, error)
	findByMessageIDFunc     func(ctx context.Context, messageID string) (*model.DeliveryLogEntry, error)
	findRecentFunc          func(ctx context.Context, params core.FindRecentByRecipientParams) (*model.DeliveryLogEntry, error)
	softDeleteFunc          func(ctx context.Context, id string) (bool, error)
	statsFunc               func(ctx context.Context) (*model.DeliveryLogStats, error)
}

func (m *mockDeliveryLogRepo) OpenAttempt(
	ctx context.Context,
	params *model.OpenDeliveryAttemptParams,
) (*model.DeliveryLogEntry, error) {
	if m.openAttemptFunc != nil {
		return m.openAttemptFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) GetByJobID(ctx context.Context, jobID string) (*model.DeliveryLogEntry, error) {
	if m.getByJobIDFunc != nil {
		return m.getByJobIDFunc(ctx, jobID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) GetByID(ctx context.Context, id string) (*model.DeliveryLogEntry, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) MarkSent(
	ctx context.Context,
	params core.MarkSentParams,
) (*model.DeliveryLogEntry, error) {
	if m.markSentFunc != nil {
		return m.markSentFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) MarkFailed(ctx context.Context, jobID, errMsg string) (*model.DeliveryLogEntry, error) {
	if m.markFailedFunc != nil {
		return m.markFailedFunc(ctx, jobID, errMsg)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) MarkFailedIfPending(ctx context.Context, jobID, errMsg string) (bool, error) {
	if m.markFailedIfPendingFunc != nil {
		return m.markFailedIfPendingFunc(ctx, jobID, errMsg)
	}
	return false, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) MarkBounced(
	ctx context.Context,
	params core.MarkBouncedParams,
) (*model.DeliveryLogEntry, error) {
	if m.markBouncedFunc != nil {
		return m.markBouncedFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) AdvanceEngagement(
	ctx context.Context,
	logID string,
	event *model.BounceEvent,
) (*model.DeliveryLogEntry, error) {
	if m.advanceEngagementFunc != nil {
		return m.advanceEngagementFunc(ctx, logID, event)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) FindByProviderMessageID(
	ctx context.Context,
	messageID string,
) (*model.DeliveryLogEntry, error) {
	if m.findByMessageIDFunc != nil {
		return m.findByMessageIDFunc(ctx, messageID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) FindRecentByRecipient(
	ctx context.Context,
	params core.FindRecentByRecipientParams,
) (*model.DeliveryLogEntry, error) {
	if m.findRecentFunc != nil {
		return m.findRecentFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) SoftDelete(ctx context.Context, id string) (bool, error) {
	if m.softDeleteFunc != nil {
		return m.softDeleteFunc(ctx, id)
	}
	return false, errors.New("not implemented")
}

func (m *mockDeliveryLogRepo) Stats(ctx context.Context) (*model.DeliveryLogStats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

// mockNotificationRepo is a mock implementation of core.NotificationRepository for testing.
type mockNotificationRepo struct {
	createFunc              func(ctx context.Context, req *model.CreateNotificationRequest) (*model.Notification, error)
	getByIDFunc             func(ctx context.Context, id string) (*model.Notification, error)
	updateEmailFunc         func(ctx context.Context, params core.UpdateEmailDeliveryParams) (bool, error)
	updateEmailByJobIDFunc  func(ctx context.Context, jobID string, state model.EmailDeliveryState) (bool, error)
	markReadFunc            func(ctx context.Context, id string) (*model.Notification, error)
	listActiveFunc          func(ctx context.Context, params core.ListNotificationsParams) ([]*model.Notification, error)
	expireDueFunc           func(ctx context.Context, now time.Time, batchSize int) (int64, error)
	deleteExpiredBeforeFunc func(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

func (m *mockNotificationRepo) Create(
	ctx context.Context,
	req *model.CreateNotificationRequest,
) (*model.Notification, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNotificationRepo) UpdateEmailDelivery(
	ctx context.Context,
	params core.UpdateEmailDeliveryParams,
) (bool, error) {
	if m.updateEmailFunc != nil {
		return m.updateEmailFunc(ctx, params)
	}
	return false, errors.New("not implemented")
}

func (m *mockNotificationRepo) UpdateEmailDeliveryByJobID(
	ctx context.Context,
	jobID string,
	state model.EmailDeliveryState,
) (bool, error) {
	if m.updateEmailByJobIDFunc != nil {
		return m.updateEmailByJobIDFunc(ctx, jobID, state)
	}
	return false, errors.New("not implemented")
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	if m.markReadFunc != nil {
		return m.markReadFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNotificationRepo) ListActive(
	ctx context.Context,
	params core.ListNotificationsParams,
) ([]*model.Notification, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNotificationRepo) ExpireDue(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if m.expireDueFunc != nil {
		return m.expireDueFunc(ctx, now, batchSize)
	}
	return 0, errors.New("not implemented")
}

func (m *mockNotificationRepo) DeleteExpiredBefore(
	ctx context.Context,
	maxAge time.Duration,
	batchSize int,
) (int64, error) {
	if m.deleteExpiredBeforeFunc != nil {
		return m.deleteExpiredBeforeFunc(ctx, maxAge, batchSize)
	}
	return 0, errors.New("not implemented")
}

// mockRecipientDirectory is a mock implementation of core.RecipientDirectory for testing.
type mockRecipientDirectory struct {
	lookupFunc func(ctx context.Context, kind model.RecipientKind, id string) (*model.Recipient, error)
}

func (m *mockRecipientDirectory) Lookup(
	ctx context.Context,
	kind model.RecipientKind,
	id string,
) (*model.Recipient, error) {
	if m.lookupFunc != nil {
		return m.lookupFunc(ctx, kind, id)
	}
	return nil, errors.New("not implemented")
}

// mockBrandRepo is a mock implementation of core.BrandRepository for testing.
type mockBrandRepo struct {
	getByIDFunc func(ctx context.Context, id string) (*model.Brand, error)
}

func (m *mockBrandRepo) GetByID(ctx context.Context, id string) (*model.Brand, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

// mockRenderer is a mock implementation of core.TemplateRenderer for testing.
type mockRenderer struct {
	renderFunc func(kind string, brand *model.Brand, data map[string]any) (*core.RenderedEmail, error)
}

func (m *mockRenderer) Render(kind string, brand *model.Brand, data map[string]any) (*core.RenderedEmail, error) {
	if m.renderFunc != nil {
		return m.renderFunc(kind, brand, data)
	}
	return nil, errors.New("not implemented")
}

// mockTransport is a mock implementation of core.MailTransport for testing.
type mockTransport struct {
	sendFunc func(ctx context.Context, input core.SendMailInput) (string, error)
}

func (m *mockTransport) Send(ctx context.Context, input core.SendMailInput) (string, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, input)
	}
	return "", errors.New("not implemented")
}
