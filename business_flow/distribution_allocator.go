package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/leadrelay/metrics"
	"github.com/amirphl/leadrelay/repository"
)

// Allocation is the slot handed to a new record and the field defaults configured for it
type Allocation struct {
	Order    int
	Defaults map[string]any
}

// DistributionAllocator assigns rotating distribution slots to new records
type DistributionAllocator interface {
	// Allocate advances the partition counter. It must run inside the transaction
	// that inserts the record. A nil allocation means distribution is disabled.
	Allocate(ctx context.Context, partitionID uint) (*Allocation, error)
}

// DistributionAllocatorImpl implements DistributionAllocator over a row lock
type DistributionAllocatorImpl struct {
	partitionRepo repository.PartitionRepository
	lockTimeout   time.Duration
}

func NewDistributionAllocator(partitionRepo repository.PartitionRepository, lockTimeout time.Duration) DistributionAllocator {
	return &DistributionAllocatorImpl{partitionRepo: partitionRepo, lockTimeout: lockTimeout}
}

// NextDistributionOrder returns the slot after last in 1..max. A last value above
// max (after an operator shrank max) wraps instead of failing. It returns 0 when max < 1.
func NextDistributionOrder(last, max int) int {
	if max < 1 {
		return 0
	}
	if last < 0 {
		last = 0
	}
	return (last % max) + 1
}

func (a *DistributionAllocatorImpl) Allocate(ctx context.Context, partitionID uint) (*Allocation, error) {
	partition, err := a.partitionRepo.ByIDForUpdate(ctx, partitionID, a.lockTimeout)
	if err != nil {
		return nil, err
	}
	if partition == nil {
		return nil, ErrPartitionNotFound
	}
	if !partition.UseDistributionOrder || partition.MaxDistributionOrder < 1 {
		return nil, nil
	}

	next := NextDistributionOrder(partition.LastAssignedOrder, partition.MaxDistributionOrder)
	if err := a.partitionRepo.UpdateLastAssignedOrder(ctx, partition.ID, next); err != nil {
		return nil, err
	}

	return &Allocation{
		Order:    next,
		Defaults: partition.DistributionDefaults.Data().ForOrder(next),
	}, nil
}

// retryOnContention re-runs fn while it fails with lock contention, up to attempts
// times with a linearly growing pause. Other errors return immediately.
func retryOnContention(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			metrics.AllocationRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(i)):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !repository.IsLockContention(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAllocationContention, attempts, lastErr)
}
