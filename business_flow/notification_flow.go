package businessflow

import (
	"context"
	"fmt"
	"log"
	"maps"
	"time"

	"github.com/amirphl/leadrelay/app/worker"
	"github.com/amirphl/leadrelay/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TaskQueue accepts background work without blocking the caller
type TaskQueue interface {
	Enqueue(t worker.Task) error
}

// NotificationFlow is the entry point record mutations use to schedule outbound messages
type NotificationFlow interface {
	OnRecordCreated(ctx context.Context, record *models.Record, partitionID, orgID uint) error
	OnRecordUpdated(ctx context.Context, record *models.Record, partitionID, orgID uint) error
}

// NotificationFlowImpl implements NotificationFlow on a bounded queue
type NotificationFlowImpl struct {
	queue           TaskQueue
	evaluator       TriggerEvaluator
	dispatcher      ChannelDispatcher
	linkParallelism int
	taskTimeout     time.Duration
	logger          *log.Logger
}

func NewNotificationFlow(queue TaskQueue, evaluator TriggerEvaluator, dispatcher ChannelDispatcher, linkParallelism int, taskTimeout time.Duration, logger *log.Logger) NotificationFlow {
	if linkParallelism < 1 {
		linkParallelism = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NotificationFlowImpl{
		queue:           queue,
		evaluator:       evaluator,
		dispatcher:      dispatcher,
		linkParallelism: linkParallelism,
		taskTimeout:     taskTimeout,
		logger:          logger,
	}
}

func (f *NotificationFlowImpl) OnRecordCreated(ctx context.Context, record *models.Record, partitionID, orgID uint) error {
	return f.enqueue(models.TriggerTypeOnCreate, record, partitionID, orgID)
}

func (f *NotificationFlowImpl) OnRecordUpdated(ctx context.Context, record *models.Record, partitionID, orgID uint) error {
	return f.enqueue(models.TriggerTypeOnUpdate, record, partitionID, orgID)
}

// enqueue snapshots the record and returns once the task is queued
func (f *NotificationFlowImpl) enqueue(eventType models.TriggerType, record *models.Record, partitionID, orgID uint) error {
	if record == nil {
		return ErrRecordNotFound
	}
	snapshot := *record
	snapshot.Data = maps.Clone(record.Data)

	event := RecordEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		OrgID:       orgID,
		PartitionID: partitionID,
		Record:      &snapshot,
	}

	err := f.queue.Enqueue(worker.Task{
		Name:    fmt.Sprintf("%s:record:%d", eventType, record.ID),
		Timeout: f.taskTimeout,
		Run: func(ctx context.Context) error {
			return f.process(ctx, event)
		},
	})
	if err != nil {
		f.logger.Printf("notification: enqueue failed event=%s record_id=%d err=%v", eventType, record.ID, err)
		return err
	}
	return nil
}

// process evaluates the event and dispatches every firing link with bounded parallelism.
// Per-link failures are logged and never abort the other links.
func (f *NotificationFlowImpl) process(ctx context.Context, event RecordEvent) error {
	firing, err := f.evaluator.Evaluate(ctx, event)
	if err != nil {
		return fmt.Errorf("trigger evaluation failed for record %d: %w", event.Record.ID, err)
	}
	if len(firing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.linkParallelism)
	for _, fl := range firing {
		g.Go(func() error {
			sendLog, err := f.dispatcher.Dispatch(gctx, fl.Link, event.Record, fl.OccurrenceKey)
			switch {
			case err == nil:
				f.logger.Printf("notification: dispatched link_id=%d record_id=%d send_log_id=%d status=%s", fl.Link.ID, event.Record.ID, sendLog.ID, sendLog.Status)
			case IsAlreadyDispatched(err):
			default:
				f.logger.Printf("notification: dispatch failed link_id=%d record_id=%d err=%v", fl.Link.ID, event.Record.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
