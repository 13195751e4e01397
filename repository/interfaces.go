package repository

import (
	"context"
	"time"

	"github.com/amirphl/leadrelay/models"
	"gorm.io/datatypes"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// PartitionRepository defines operations for partitions and their distribution counter
type PartitionRepository interface {
	Repository[models.Partition, models.PartitionFilter]
	// ByIDForUpdate reads the partition row under SELECT ... FOR UPDATE. It must run inside a transaction.
	ByIDForUpdate(ctx context.Context, id uint, lockTimeout time.Duration) (*models.Partition, error)
	UpdateLastAssignedOrder(ctx context.Context, id uint, order int) error
	UpdateDistribution(ctx context.Context, id uint, useOrder bool, maxOrder int, defaults models.DistributionDefaults) error
}

// RecordRepository defines operations for records
type RecordRepository interface {
	Repository[models.Record, models.RecordFilter]
	// MergeData sets the given fields and removes the unset keys atomically, returning the stored map
	MergeData(ctx context.Context, id uint, set datatypes.JSONMap, unset []string) (datatypes.JSONMap, error)
	ListByIDs(ctx context.Context, orgID uint, ids []uint) ([]*models.Record, error)
}

// MessageLinkRepository defines operations for message links
type MessageLinkRepository interface {
	Repository[models.MessageLink, models.MessageLinkFilter]
	ListActiveByTrigger(ctx context.Context, partitionID uint, triggerType models.TriggerType) ([]*models.MessageLink, error)
	Update(ctx context.Context, link *models.MessageLink) error
}

// SendLogRepository defines operations for send logs
type SendLogRepository interface {
	Repository[models.SendLog, models.SendLogFilter]
	// InsertPending inserts a pending log unless a non-failed log already holds the
	// same (link, record, occurrence). It reports whether the row was inserted.
	InsertPending(ctx context.Context, log *models.SendLog) (bool, error)
	// ExistsNonFailed reports whether any non-failed log exists for (link, record),
	// optionally restricted to rows created at or after since.
	ExistsNonFailed(ctx context.Context, linkID, recordID uint, since *time.Time) (bool, error)
	ListPending(ctx context.Context, orgID uint, ids []uint, limit int) ([]*models.SendLog, error)
	// MarkPolled stamps last_polled_at on the pending logs among ids
	MarkPolled(ctx context.Context, ids []uint, at time.Time) error
	ListOrphans(ctx context.Context, orgID uint, olderThan time.Time, limit int) ([]*models.SendLog, error)
	DistinctPendingOrgs(ctx context.Context, limit int) ([]uint, error)
	// RecordAck stores the provider request id of an accepted pending log
	RecordAck(ctx context.Context, id uint, providerRequestID string, sentAt time.Time) error
	// TransitionIfPending applies a terminal transition only to a pending row and
	// reports whether a row changed.
	TransitionIfPending(ctx context.Context, id uint, tr models.SendLogTransition) (bool, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByOrg(ctx context.Context, orgID uint, limit, offset int) ([]*models.AuditLog, error)
}
