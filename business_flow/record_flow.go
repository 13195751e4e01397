package businessflow

import (
	"context"
	"log"
	"maps"
	"time"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"gorm.io/datatypes"
)

// Realtime event types broadcast after record mutations
const (
	EventRecordCreated = "record:created"
	EventRecordUpdated = "record:updated"
)

// Broadcaster fans record events out to partition viewers
type Broadcaster interface {
	Broadcast(partitionID uint, eventType string, payload any, originSessionID string)
}

// AllocationRetryConfig bounds retries of a contended distribution allocation
type AllocationRetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// RecordFlow handles record creation and edits
type RecordFlow interface {
	CreateRecord(ctx context.Context, req *dto.CreateRecordRequest, metadata *ClientMetadata) (*dto.RecordResponse, error)
	UpdateRecord(ctx context.Context, req *dto.UpdateRecordRequest, metadata *ClientMetadata) (*dto.RecordResponse, error)
	GetRecord(ctx context.Context, orgID, recordID uint) (*dto.RecordResponse, error)
}

// RecordFlowImpl implements RecordFlow
type RecordFlowImpl struct {
	partitionRepo repository.PartitionRepository
	recordRepo    repository.RecordRepository
	allocator     DistributionAllocator
	notifier      NotificationFlow
	broadcaster   Broadcaster
	tx            TxRunner
	retry         AllocationRetryConfig
	logger        *log.Logger
}

func NewRecordFlow(
	partitionRepo repository.PartitionRepository,
	recordRepo repository.RecordRepository,
	allocator DistributionAllocator,
	notifier NotificationFlow,
	broadcaster Broadcaster,
	tx TxRunner,
	retry AllocationRetryConfig,
	logger *log.Logger,
) RecordFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &RecordFlowImpl{
		partitionRepo: partitionRepo,
		recordRepo:    recordRepo,
		allocator:     allocator,
		notifier:      notifier,
		broadcaster:   broadcaster,
		tx:            tx,
		retry:         retry,
		logger:        logger,
	}
}

func (f *RecordFlowImpl) CreateRecord(ctx context.Context, req *dto.CreateRecordRequest, metadata *ClientMetadata) (*dto.RecordResponse, error) {
	if req.Data == nil {
		return nil, ErrRecordDataRequired
	}

	partition, err := f.partitionRepo.ByID(ctx, req.PartitionID)
	if err != nil {
		return nil, NewBusinessError("PARTITION_LOOKUP_FAILED", "Failed to load partition", err)
	}
	if partition == nil || partition.OrgID != req.OrgID {
		return nil, ErrPartitionNotFound
	}

	var record *models.Record
	err = retryOnContention(ctx, f.retry.Attempts, f.retry.Backoff, func() error {
		return f.tx(ctx, func(txCtx context.Context) error {
			record = &models.Record{
				OrgID:       req.OrgID,
				PartitionID: partition.ID,
				Data:        maps.Clone(req.Data),
			}

			alloc, err := f.allocator.Allocate(txCtx, partition.ID)
			if err != nil {
				return err
			}
			if alloc != nil {
				applyDefaults(record.Data, alloc.Defaults)
				order := alloc.Order
				record.DistributionOrder = &order
			}

			return f.recordRepo.Save(txCtx, record)
		})
	})
	if err != nil {
		if IsAllocationContention(err) || IsPartitionNotFound(err) {
			return nil, err
		}
		return nil, NewBusinessError("RECORD_CREATION_FAILED", "Failed to create record", err)
	}

	resp := toRecordResponse(record)
	resp.NotificationQueued = f.notifier.OnRecordCreated(ctx, record, partition.ID, req.OrgID) == nil
	f.broadcast(partition.ID, EventRecordCreated, resp, req.SessionID)
	return resp, nil
}

func (f *RecordFlowImpl) UpdateRecord(ctx context.Context, req *dto.UpdateRecordRequest, metadata *ClientMetadata) (*dto.RecordResponse, error) {
	if req.Data == nil {
		return nil, ErrRecordDataRequired
	}

	record, err := f.recordRepo.ByID(ctx, req.RecordID)
	if err != nil {
		return nil, NewBusinessError("RECORD_LOOKUP_FAILED", "Failed to load record", err)
	}
	if record == nil || record.OrgID != req.OrgID {
		return nil, ErrRecordNotFound
	}

	set := datatypes.JSONMap{}
	var unset []string
	for k, v := range req.Data {
		if v == nil {
			unset = append(unset, k)
			continue
		}
		set[k] = v
	}

	merged, err := f.recordRepo.MergeData(ctx, record.ID, set, unset)
	if err != nil {
		return nil, NewBusinessError("RECORD_UPDATE_FAILED", "Failed to update record", err)
	}
	if merged == nil {
		return nil, ErrRecordNotFound
	}
	record.Data = merged

	resp := toRecordResponse(record)
	resp.NotificationQueued = f.notifier.OnRecordUpdated(ctx, record, record.PartitionID, req.OrgID) == nil
	f.broadcast(record.PartitionID, EventRecordUpdated, resp, req.SessionID)
	return resp, nil
}

func (f *RecordFlowImpl) GetRecord(ctx context.Context, orgID, recordID uint) (*dto.RecordResponse, error) {
	record, err := f.recordRepo.ByID(ctx, recordID)
	if err != nil {
		return nil, NewBusinessError("RECORD_LOOKUP_FAILED", "Failed to load record", err)
	}
	if record == nil || record.OrgID != orgID {
		return nil, ErrRecordNotFound
	}
	return toRecordResponse(record), nil
}

func (f *RecordFlowImpl) broadcast(partitionID uint, eventType string, resp *dto.RecordResponse, originSessionID string) {
	if f.broadcaster == nil {
		return
	}
	f.broadcaster.Broadcast(partitionID, eventType, resp, originSessionID)
}

// applyDefaults copies slot defaults into fields the submitter left unset
func applyDefaults(data map[string]any, defaults map[string]any) {
	for k, v := range defaults {
		current, ok := data[k]
		if !ok || current == nil || current == "" {
			data[k] = v
		}
	}
}
