package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/leadrelay/app/services"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunLock struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *fakeRunLock) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

type reconcileFixture struct {
	logs  *fakeSendLogRepo
	email *services.MockChannelProvider
	chat  *services.MockChannelProvider
	lock  *fakeRunLock
	flow  ReconciliationFlow
	now   time.Time
}

func newReconcileFixture(cfg ReconcileConfig) *reconcileFixture {
	f := &reconcileFixture{
		logs:  newFakeSendLogRepo(),
		email: services.NewMockChannelProvider(models.ChannelEmail),
		chat:  services.NewMockChannelProvider(models.ChannelChat),
		lock:  &fakeRunLock{},
		now:   time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	f.logs.clock = func() time.Time { return f.now }
	f.flow = NewReconciliationFlow(f.logs, services.NewProviderRegistry(f.email, f.chat), f.lock, cfg, func() time.Time { return f.now }, nil)
	return f
}

func (f *reconcileFixture) pending(orgID uint, channel models.Channel, requestID string) *models.SendLog {
	l := &models.SendLog{OrgID: orgID, Channel: channel, LinkID: 1, RecordID: 1, Status: models.SendLogStatusPending, OccurrenceKey: "k"}
	if requestID != "" {
		l.ProviderRequestID = utils.ToPtr(requestID)
	}
	return f.logs.add(l)
}

func TestReconciliationFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("TerminalStatusesApplied", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{Parallelism: 2})
		delivered := f.pending(1, models.ChannelEmail, "req-ok")
		rejected := f.pending(1, models.ChannelEmail, "req-bad")
		waiting := f.pending(1, models.ChannelChat, "req-wait")
		f.email.SetStatus("req-bad", services.StatusResult{State: services.DeliveryStateRejected, ResultCode: "SPAM"})
		f.chat.SetStatus("req-wait", services.StatusResult{State: services.DeliveryStatePending})

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, 3, res.Synced)
		assert.Equal(t, 2, res.Updated)

		assert.Equal(t, models.SendLogStatusSent, f.logs.get(delivered.ID).Status)
		assert.Equal(t, models.SendLogStatusRejected, f.logs.get(rejected.ID).Status)
		assert.Equal(t, "SPAM", utils.DerefString(f.logs.get(rejected.ID).ResultCode))
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(waiting.ID).Status)
	})

	t.Run("TerminalLogsNeverChange", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		l := f.pending(1, models.ChannelEmail, "req-1")

		_, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		require.Equal(t, models.SendLogStatusSent, f.logs.get(l.ID).Status)

		// provider now reports a different terminal state for the same request
		f.email.SetStatus("req-1", services.StatusResult{State: services.DeliveryStateFailed})
		changed, err := f.logs.TransitionIfPending(ctx, l.ID, models.SendLogTransition{Status: models.SendLogStatusFailed, CompletedAt: f.now})
		require.NoError(t, err)
		assert.False(t, changed)

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Synced)
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(l.ID).Status)
	})

	t.Run("SharedRequestIDQueriedOnce", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		a := f.pending(1, models.ChannelEmail, "bulk-1")
		b := f.pending(1, models.ChannelEmail, "bulk-1")

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Updated)
		assert.Equal(t, 1, f.email.QueryCount("bulk-1"))
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(a.ID).Status)
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(b.ID).Status)
	})

	t.Run("FailingGroupIsIsolated", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{Parallelism: 3})
		broken := f.pending(1, models.ChannelEmail, "req-broken")
		fine := f.pending(1, models.ChannelEmail, "req-fine")
		f.email.StatusFunc = func(ctx context.Context, id string) (*services.StatusResult, error) {
			if id == "req-broken" {
				return nil, errors.New("upstream 502")
			}
			return &services.StatusResult{State: services.DeliveryStateDelivered}, nil
		}

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(broken.ID).Status)
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(fine.ID).Status)
	})

	t.Run("UnsupportedStatusLeavesLogsPending", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		l := f.pending(1, models.ChannelChat, "req-1")
		f.chat.StatusFunc = func(ctx context.Context, id string) (*services.StatusResult, error) {
			return nil, services.ErrStatusUnsupported
		}

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Synced)
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(l.ID).Status)
	})

	t.Run("BatchIsBounded", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{BatchSize: 1000, Parallelism: 8})
		for i := 0; i < utils.ReconcileBatchSize+20; i++ {
			f.pending(1, models.ChannelEmail, fmt.Sprintf("req-%d", i))
		}

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, utils.ReconcileBatchSize, res.Synced)

		res, err = f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 20, res.Synced)
	})

	t.Run("LongPendingBacklogDoesNotStarveNewerLogs", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{Parallelism: 8})
		for i := 0; i < utils.ReconcileBatchSize; i++ {
			id := fmt.Sprintf("slow-%d", i)
			f.pending(1, models.ChannelEmail, id)
			f.email.SetStatus(id, services.StatusResult{State: services.DeliveryStatePending})
		}
		late := f.pending(1, models.ChannelEmail, "late")

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, utils.ReconcileBatchSize, res.Synced)
		assert.Equal(t, 0, res.Updated)
		assert.Equal(t, 0, f.email.QueryCount("late"))

		f.now = f.now.Add(time.Minute)
		res, err = f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, 1, f.email.QueryCount("late"))
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(late.ID).Status)

		// every still-pending log has been visited by now
		for _, l := range f.logs.all() {
			if l.Status == models.SendLogStatusPending {
				assert.NotNil(t, l.LastPolledAt, "send log %d never polled", l.ID)
			}
		}
	})

	t.Run("ExplicitIDsLimitScope", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		picked := f.pending(1, models.ChannelEmail, "req-a")
		other := f.pending(1, models.ChannelEmail, "req-b")

		res, err := f.flow.Reconcile(ctx, 1, []uint{picked.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(other.ID).Status)
	})

	t.Run("OtherOrgsUntouched", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		foreign := f.pending(2, models.ChannelEmail, "req-foreign")

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Synced)
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(foreign.ID).Status)
	})

	t.Run("ConcurrentRunForSameOrgIsSkipped", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		f.pending(1, models.ChannelEmail, "req-slow")

		entered := make(chan struct{})
		release := make(chan struct{})
		f.email.StatusFunc = func(ctx context.Context, id string) (*services.StatusResult, error) {
			close(entered)
			<-release
			return &services.StatusResult{State: services.DeliveryStateDelivered}, nil
		}

		done := make(chan *ReconcileResult)
		go func() {
			res, _ := f.flow.Reconcile(ctx, 1, nil)
			done <- res
		}()
		<-entered

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, 0, res.Synced)

		// a different org is not blocked
		res, err = f.flow.Reconcile(ctx, 2, nil)
		require.NoError(t, err)
		assert.False(t, res.Skipped)

		close(release)
		first := <-done
		require.NotNil(t, first)
		assert.Equal(t, 1, first.Updated)
	})

	t.Run("HeldRunLockSkips", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		l := f.pending(1, models.ChannelEmail, "req-1")
		releaseLock, ok, err := f.lock.TryAcquire(ctx, "reconcile:1")
		require.NoError(t, err)
		require.True(t, ok)

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(l.ID).Status)

		releaseLock()
		res, err = f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, 1, res.Updated)
	})

	t.Run("RunLockErrorFallsBackToLocalGuard", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		f.lock.err = errors.New("redis down")
		f.pending(1, models.ChannelEmail, "req-1")

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
	})

	t.Run("OrphansFailedAfterThreshold", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{OrphanAfter: 10 * time.Minute})
		old := f.pending(1, models.ChannelEmail, "")
		f.now = f.now.Add(5 * time.Minute)
		recent := f.pending(1, models.ChannelEmail, "")
		f.now = f.now.Add(6 * time.Minute)

		res, err := f.flow.Reconcile(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)

		stored := f.logs.get(old.ID)
		assert.Equal(t, models.SendLogStatusFailed, stored.Status)
		assert.Equal(t, models.ResultCodeOrphanedPending, utils.DerefString(stored.ResultCode))
		assert.Equal(t, models.SendLogStatusPending, f.logs.get(recent.ID).Status)
	})

	t.Run("ReconcileAllVisitsEveryOrg", func(t *testing.T) {
		f := newReconcileFixture(ReconcileConfig{})
		a := f.pending(1, models.ChannelEmail, "req-a")
		b := f.pending(2, models.ChannelChat, "req-b")

		require.NoError(t, f.flow.ReconcileAll(ctx))
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(a.ID).Status)
		assert.Equal(t, models.SendLogStatusSent, f.logs.get(b.ID).Status)
	})
}

func TestGroupByRequest(t *testing.T) {
	logs := []*models.SendLog{
		{ID: 1, Channel: models.ChannelEmail, ProviderRequestID: utils.ToPtr("x")},
		{ID: 2, Channel: models.ChannelChat, ProviderRequestID: utils.ToPtr("x")},
		{ID: 3, Channel: models.ChannelEmail, ProviderRequestID: utils.ToPtr("x")},
		{ID: 4, Channel: models.ChannelEmail},
		{ID: 5, Channel: models.ChannelEmail, ProviderRequestID: utils.ToPtr("y")},
	}

	groups := groupByRequest(logs)
	require.Len(t, groups, 3)
	assert.Equal(t, models.ChannelEmail, groups[0].channel)
	assert.Equal(t, "x", groups[0].requestID)
	assert.Len(t, groups[0].logs, 2)
	assert.Equal(t, models.ChannelChat, groups[1].channel)
	assert.Equal(t, "y", groups[2].requestID)
}
