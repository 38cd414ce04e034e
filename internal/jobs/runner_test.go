package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/leads"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
	memkv "github.com/havenly/havenly-backend/pkg/kv/memory"
)

type mockWork struct{ mock.Mock }

func (m *mockWork) PublishDue(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockWork) SendDueFollowups(ctx context.Context, now time.Time) (*leads.FollowupReport, error) {
	args := m.Called(ctx, now)
	r, _ := args.Get(0).(*leads.FollowupReport)
	return r, args.Error(1)
}

func (m *mockWork) Discover(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newRunner(w *mockWork) *Runner {
	r := NewRunner(w, w, w, log.Nop())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r
}

func TestRunnerJobs(t *testing.T) {
	w := &mockWork{}
	r := newRunner(w)
	ctx := context.Background()

	w.On("PublishDue", mock.Anything, r.now()).Return(int64(2), nil).Once()
	res, err := r.PublishScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Published)
	assert.Equal(t, r.now(), res.RanAt)

	w.On("SendDueFollowups", mock.Anything, r.now()).Return(&leads.FollowupReport{Checked: 3, Sent: 2, Failed: 1}, nil).Once()
	report, err := r.SendFollowups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)

	w.On("Discover", mock.Anything).Return(0, errors.New("feed down")).Once()
	_, err = r.DiscoverTopics(ctx)
	assert.ErrorContains(t, err, "feed down")

	assert.ErrorContains(t, r.Run(ctx, "vacuum"), "unknown job")
	w.AssertExpectations(t)
}

func TestSchedulerTickHonoursLease(t *testing.T) {
	w := &mockWork{}
	r := newRunner(w)
	cache := store.NewCache(memkv.New(0), log.Nop(), metrics.NewNoop())
	s := NewScheduler(r, cache, log.Nop())
	ctx := context.Background()

	w.On("PublishDue", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	s.tick(ctx, JobPublish)
	w.AssertNumberOfCalls(t, "PublishDue", 1)

	// Another replica holds the lease: the run is skipped.
	ok, err := cache.AcquireLease(ctx, JobPublish, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	s.tick(ctx, JobPublish)
	w.AssertNumberOfCalls(t, "PublishDue", 1)

	require.NoError(t, cache.ReleaseLease(ctx, JobPublish))
	w.On("PublishDue", mock.Anything, mock.Anything).Return(int64(1), nil).Once()
	s.tick(ctx, JobPublish)
	w.AssertNumberOfCalls(t, "PublishDue", 2)
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	s := NewScheduler(newRunner(&mockWork{}), nil, log.Nop())
	err := s.Start(context.Background(), Schedule{JobPublish: "every tuesday"})
	assert.ErrorContains(t, err, "invalid cron expression")

	s = NewScheduler(newRunner(&mockWork{}), nil, log.Nop())
	require.NoError(t, s.Start(context.Background(), Schedule{JobPublish: "*/5 * * * *", JobTrends: ""}))
	assert.Len(t, s.cron.Entries(), 1)
	s.Stop()
}
