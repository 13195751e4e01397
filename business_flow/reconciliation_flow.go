package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/leadrelay/app/services"
	"github.com/amirphl/leadrelay/metrics"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"golang.org/x/sync/errgroup"
)

// ReconcileResult reports one reconciliation run. Synced counts pending logs whose
// provider status was read; Updated counts logs moved to a terminal status.
type ReconcileResult struct {
	Synced  int
	Updated int
	Skipped bool
}

// RunLock serializes runs across instances
type RunLock interface {
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// ReconcileConfig tunes the poller
type ReconcileConfig struct {
	BatchSize   int
	Parallelism int
	CallTimeout time.Duration
	OrphanAfter time.Duration
	MaxOrgs     int
}

// ReconciliationFlow advances pending send logs from provider-side delivery status
type ReconciliationFlow interface {
	Reconcile(ctx context.Context, orgID uint, logIDs []uint) (*ReconcileResult, error)
	// ReconcileAll runs Reconcile for every organization that has pending logs
	ReconcileAll(ctx context.Context) error
}

// ReconciliationFlowImpl implements ReconciliationFlow
type ReconciliationFlowImpl struct {
	sendLogRepo repository.SendLogRepository
	providers   services.ProviderRegistry
	runLock     RunLock
	cfg         ReconcileConfig
	clock       utils.Clock
	logger      *log.Logger

	inFlight sync.Map // orgID -> struct{}
}

func NewReconciliationFlow(sendLogRepo repository.SendLogRepository, providers services.ProviderRegistry, runLock RunLock, cfg ReconcileConfig, clock utils.Clock, logger *log.Logger) ReconciliationFlow {
	if cfg.BatchSize <= 0 || cfg.BatchSize > utils.ReconcileBatchSize {
		cfg.BatchSize = utils.ReconcileBatchSize
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = utils.ProviderCallTimeout
	}
	if clock == nil {
		clock = utils.UTCNow
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReconciliationFlowImpl{
		sendLogRepo: sendLogRepo,
		providers:   providers,
		runLock:     runLock,
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
	}
}

type statusGroup struct {
	channel   models.Channel
	requestID string
	logs      []*models.SendLog
}

// Reconcile checks up to BatchSize pending logs of the organization. A run for an
// organization that already has one in flight returns Skipped without touching anything.
func (r *ReconciliationFlowImpl) Reconcile(ctx context.Context, orgID uint, logIDs []uint) (*ReconcileResult, error) {
	if _, busy := r.inFlight.LoadOrStore(orgID, struct{}{}); busy {
		metrics.ReconcileSkipped.Inc()
		return &ReconcileResult{Skipped: true}, nil
	}
	defer r.inFlight.Delete(orgID)

	if r.runLock != nil {
		release, ok, err := r.runLock.TryAcquire(ctx, fmt.Sprintf("reconcile:%d", orgID))
		switch {
		case err != nil:
			r.logger.Printf("reconcile: run lock unavailable org_id=%d err=%v", orgID, err)
		case !ok:
			metrics.ReconcileSkipped.Inc()
			return &ReconcileResult{Skipped: true}, nil
		default:
			defer release()
		}
	}

	result := &ReconcileResult{}

	if len(logIDs) == 0 && r.cfg.OrphanAfter > 0 {
		failed, err := r.failOrphans(ctx, orgID)
		if err != nil {
			r.logger.Printf("reconcile: orphan sweep failed org_id=%d err=%v", orgID, err)
		}
		result.Updated += failed
	}

	pending, err := r.sendLogRepo.ListPending(ctx, orgID, logIDs, r.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending send logs: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	// the whole batch moves to the back of the queue; logs that finish below leave it anyway
	polled := make([]uint, 0, len(pending))
	for _, l := range pending {
		polled = append(polled, l.ID)
	}
	if err := r.sendLogRepo.MarkPolled(context.WithoutCancel(ctx), polled, r.clock()); err != nil {
		r.logger.Printf("reconcile: failed to mark polled org_id=%d count=%d err=%v", orgID, len(polled), err)
	}

	var synced, updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for _, group := range groupByRequest(pending) {
		g.Go(func() error {
			s, u := r.reconcileGroup(gctx, group)
			synced.Add(int64(s))
			updated.Add(int64(u))
			return nil
		})
	}
	_ = g.Wait()

	result.Synced += int(synced.Load())
	result.Updated += int(updated.Load())
	return result, nil
}

// reconcileGroup queries one provider request id. Its errors stay inside the group.
func (r *ReconciliationFlowImpl) reconcileGroup(ctx context.Context, group statusGroup) (int, int) {
	provider := r.providers.Get(group.channel)
	if provider == nil {
		metrics.ReconcileGroupErrors.WithLabelValues(group.channel.String()).Inc()
		r.logger.Printf("reconcile: no provider for channel=%s request_id=%s", group.channel, group.requestID)
		return 0, 0
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	start := time.Now()
	status, err := provider.QueryStatus(callCtx, group.requestID)
	cancel()
	metrics.ProviderCallDuration.WithLabelValues(group.channel.String(), "status").Observe(time.Since(start).Seconds())

	if errors.Is(err, services.ErrStatusUnsupported) {
		return 0, 0
	}
	if err != nil || status == nil {
		metrics.ReconcileGroupErrors.WithLabelValues(group.channel.String()).Inc()
		r.logger.Printf("reconcile: status query failed channel=%s request_id=%s err=%v", group.channel, group.requestID, err)
		return 0, 0
	}

	synced := len(group.logs)
	next, terminal := status.State.SendLogStatus()
	if !terminal {
		return synced, 0
	}

	completedAt := r.clock()
	if status.TerminalAt != nil {
		completedAt = status.TerminalAt.UTC()
	}

	// Transitions are written even if the run is cancelled after the provider answered
	writeCtx := context.WithoutCancel(ctx)
	updated := 0
	for _, l := range group.logs {
		changed, err := r.sendLogRepo.TransitionIfPending(writeCtx, l.ID, models.SendLogTransition{
			Status:        next,
			ResultCode:    optionalString(status.ResultCode),
			ResultMessage: optionalString(status.ResultMessage),
			CompletedAt:   completedAt,
		})
		if err != nil {
			r.logger.Printf("reconcile: transition failed send_log_id=%d err=%v", l.ID, err)
			continue
		}
		if changed {
			updated++
			metrics.ReconcileUpdates.WithLabelValues(next.String()).Inc()
		}
	}
	return synced, updated
}

// failOrphans fails pending logs that never got a provider request id, which happens
// when the process died between inserting the log and calling the provider.
func (r *ReconciliationFlowImpl) failOrphans(ctx context.Context, orgID uint) (int, error) {
	orphans, err := r.sendLogRepo.ListOrphans(ctx, orgID, r.clock().Add(-r.cfg.OrphanAfter), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	now := r.clock()
	failed := 0
	for _, l := range orphans {
		changed, err := r.sendLogRepo.TransitionIfPending(ctx, l.ID, models.SendLogTransition{
			Status:        models.SendLogStatusFailed,
			ResultCode:    utils.ToPtr(models.ResultCodeOrphanedPending),
			ResultMessage: utils.ToPtr("no provider acknowledgement was recorded"),
			CompletedAt:   now,
		})
		if err != nil {
			r.logger.Printf("reconcile: failed to close orphan send_log_id=%d err=%v", l.ID, err)
			continue
		}
		if changed {
			failed++
			metrics.ReconcileUpdates.WithLabelValues(models.SendLogStatusFailed.String()).Inc()
		}
	}
	return failed, nil
}

func (r *ReconciliationFlowImpl) ReconcileAll(ctx context.Context) error {
	orgIDs, err := r.sendLogRepo.DistinctPendingOrgs(ctx, r.cfg.MaxOrgs)
	if err != nil {
		return fmt.Errorf("failed to list organizations with pending logs: %w", err)
	}

	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := r.Reconcile(ctx, orgID, nil)
		if err != nil {
			r.logger.Printf("reconcile: org_id=%d err=%v", orgID, err)
			continue
		}
		if res.Skipped {
			r.logger.Printf("reconcile: org_id=%d skipped, previous run still in flight", orgID)
			continue
		}
		if res.Synced > 0 || res.Updated > 0 {
			r.logger.Printf("reconcile: org_id=%d synced=%d updated=%d", orgID, res.Synced, res.Updated)
		}
	}
	return nil
}

// groupByRequest keeps first-seen order so runs are deterministic
func groupByRequest(logs []*models.SendLog) []statusGroup {
	type key struct {
		channel   models.Channel
		requestID string
	}
	index := make(map[key]int)
	var groups []statusGroup
	for _, l := range logs {
		if l.ProviderRequestID == nil || *l.ProviderRequestID == "" {
			continue
		}
		k := key{channel: l.Channel, requestID: *l.ProviderRequestID}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, statusGroup{channel: l.Channel, requestID: k.requestID})
		}
		groups[i].logs = append(groups[i].logs, l)
	}
	return groups
}
