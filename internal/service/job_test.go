package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/domain/queue"
)

// stubNotifier avoids spinning up background listeners in unit tests.
type stubNotifier struct{}

func (stubNotifier) Subscribe(model.JobKind) (func(), <-chan struct{}) {
	ch := make(chan struct{}, 1)
	return func() {}, ch
}

func (stubNotifier) StopAll() {}

func newJobService(t *testing.T, repo *mockJobRepo) *JobService {
	t.Helper()
	svc, err := NewJobService(JobServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
		Notifier:     stubNotifier{},
	})
	require.NoError(t, err)
	return svc
}

func TestNewJobServiceValidation(t *testing.T) {
	_, err := NewJobService(JobServiceOptions{DefaultLease: time.Second})
	assert.EqualError(t, err, "JobRepository is required")

	_, err = NewJobService(JobServiceOptions{Repo: &mockJobRepo{}})
	assert.EqualError(t, err, "DefaultLease must be positive")
}

func TestNewJobServiceAcceptsLeasePolicy(t *testing.T) {
	policy, err := queue.NewLeasePolicy(time.Minute)
	require.NoError(t, err)

	svc, err := NewJobService(JobServiceOptions{
		Repo:        &mockJobRepo{},
		LeasePolicy: policy,
		Notifier:    stubNotifier{},
	})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestReserveNextResolvesLease(t *testing.T) {
	repo := &mockJobRepo{}
	var seenSeconds int
	repo.reserveNextFunc = func(_ context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error) {
		assert.Equal(t, model.JobKindSendEmail, kind)
		seenSeconds = leaseSeconds
		return &model.Job{ID: "job-1", Kind: kind}, nil
	}
	svc := newJobService(t, repo)

	job, err := svc.ReserveNext(context.Background(), model.JobKindSendEmail, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, 45, seenSeconds)

	// Zero falls back to the configured default.
	_, err = svc.ReserveNext(context.Background(), model.JobKindSendEmail, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, seenSeconds)

	// Sub-second requests clamp to one second.
	_, err = svc.ReserveNext(context.Background(), model.JobKindSendEmail, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, seenSeconds)
}

func TestReserveNextNoJobs(t *testing.T) {
	repo := &mockJobRepo{}
	repo.reserveNextFunc = func(context.Context, model.JobKind, int) (*model.Job, error) {
		return nil, model.ErrNoJobsAvailable
	}
	svc := newJobService(t, repo)

	_, err := svc.ReserveNext(context.Background(), model.JobKindSendEmail, 0)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestEnqueueWrapsRepoError(t *testing.T) {
	repo := &mockJobRepo{}
	repo.enqueueFunc = func(context.Context, *model.EnqueueJobRequest) (*model.Job, error) {
		return nil, errors.New("constraint violation")
	}
	svc := newJobService(t, repo)

	_, err := svc.Enqueue(context.Background(), &model.EnqueueJobRequest{
		Kind:    model.JobKindNoop,
		Payload: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue job")
	assert.Contains(t, err.Error(), "constraint violation")
}

func TestFailRequiresErrorMessage(t *testing.T) {
	svc := newJobService(t, &mockJobRepo{})

	_, err := svc.Fail(context.Background(), "job-1", "")
	assert.EqualError(t, err, "error message required")

	_, err = svc.FailPermanently(context.Background(), "job-1", "")
	assert.EqualError(t, err, "error message required")
}

func TestHeartbeatResolvesLease(t *testing.T) {
	repo := &mockJobRepo{}
	var seenSeconds int
	repo.heartbeatFunc = func(_ context.Context, jobID string, leaseSeconds int) (bool, error) {
		assert.Equal(t, "job-1", jobID)
		seenSeconds = leaseSeconds
		return true, nil
	}
	svc := newJobService(t, repo)

	extended, err := svc.Heartbeat(context.Background(), "job-1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, 120, seenSeconds)
}
