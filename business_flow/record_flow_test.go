package businessflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []uint
	updated []uint
	err     error
}

func (n *recordingNotifier) OnRecordCreated(ctx context.Context, record *models.Record, partitionID, orgID uint) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, record.ID)
	return n.err
}

func (n *recordingNotifier) OnRecordUpdated(ctx context.Context, record *models.Record, partitionID, orgID uint) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, record.ID)
	return n.err
}

type recordFixture struct {
	partitions *fakePartitionRepo
	records    *fakeRecordRepo
	notifier   *recordingNotifier
	hub        *fakeBroadcaster
	flow       RecordFlow
	partition  *models.Partition
}

func newRecordFixture(retry AllocationRetryConfig) *recordFixture {
	f := &recordFixture{
		partitions: newFakePartitionRepo(),
		records:    newFakeRecordRepo(),
		notifier:   &recordingNotifier{},
		hub:        &fakeBroadcaster{},
	}
	alloc := NewDistributionAllocator(f.partitions, time.Second)
	f.flow = NewRecordFlow(f.partitions, f.records, alloc, f.notifier, f.hub, fakeTxRunner, retry, nil)
	f.partition = newDistributedPartition(f.partitions, 0, 2, models.DistributionDefaults{
		"1": {"owner": "alice", "priority": "high"},
		"2": {"owner": "bob"},
	})
	return f
}

func TestRecordFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateAssignsSlotAndDefaults", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})

		resp, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{
			OrgID:       1,
			PartitionID: f.partition.ID,
			SessionID:   "tab-1",
			Data:        map[string]any{"email": "a@example.com", "owner": ""},
		}, nil)
		require.NoError(t, err)
		require.NotNil(t, resp.DistributionOrder)
		assert.Equal(t, 1, *resp.DistributionOrder)
		assert.Equal(t, "alice", resp.Data["owner"])
		assert.Equal(t, "high", resp.Data["priority"])
		assert.True(t, resp.NotificationQueued)

		assert.Equal(t, []uint{resp.ID}, f.notifier.created)
		require.Len(t, f.hub.events, 1)
		assert.Equal(t, EventRecordCreated, f.hub.events[0].EventType)
		assert.Equal(t, "tab-1", f.hub.events[0].Origin)

		resp, err = f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{
			OrgID:       1,
			PartitionID: f.partition.ID,
			Data:        map[string]any{"owner": "zed"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, *resp.DistributionOrder)
		// explicit values win over slot defaults
		assert.Equal(t, "zed", resp.Data["owner"])
	})

	t.Run("CreateWithoutDistribution", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		plain := f.partitions.add(&models.Partition{OrgID: 1, MaxDistributionOrder: 1})

		resp, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{OrgID: 1, PartitionID: plain.ID, Data: map[string]any{"a": "b"}}, nil)
		require.NoError(t, err)
		assert.Nil(t, resp.DistributionOrder)
	})

	t.Run("ContentionRetried", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 3, Backoff: time.Millisecond})
		f.partitions.lockErrs = []error{lockTimeoutErr(), lockTimeoutErr()}

		resp, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{OrgID: 1, PartitionID: f.partition.ID, Data: map[string]any{}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, *resp.DistributionOrder)
		assert.Len(t, f.records.records, 1)
	})

	t.Run("ContentionExhausted", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 2, Backoff: time.Millisecond})
		f.partitions.lockErrs = []error{lockTimeoutErr(), lockTimeoutErr()}

		_, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{OrgID: 1, PartitionID: f.partition.ID, Data: map[string]any{}}, nil)
		assert.ErrorIs(t, err, ErrAllocationContention)
		assert.Empty(t, f.records.records)
		assert.Empty(t, f.notifier.created)
	})

	t.Run("PartitionOfAnotherOrg", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		_, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{OrgID: 99, PartitionID: f.partition.ID, Data: map[string]any{}}, nil)
		assert.ErrorIs(t, err, ErrPartitionNotFound)
	})

	t.Run("CreateSucceedsWhenQueueRejects", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		f.notifier.err = errors.New("queue full")

		resp, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{OrgID: 1, PartitionID: f.partition.ID, Data: map[string]any{}}, nil)
		require.NoError(t, err)
		assert.False(t, resp.NotificationQueued)
	})

	t.Run("UpdateMergesAndClearsFields", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		rec := f.records.add(&models.Record{OrgID: 1, PartitionID: f.partition.ID, Data: datatypes.JSONMap{"a": "1", "b": "2"}})

		resp, err := f.flow.UpdateRecord(ctx, &dto.UpdateRecordRequest{
			OrgID:     1,
			RecordID:  rec.ID,
			SessionID: "tab-2",
			Data:      map[string]any{"b": nil, "c": "3"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "1", "c": "3"}, resp.Data)
		assert.Equal(t, []uint{rec.ID}, f.notifier.updated)
		require.Len(t, f.hub.events, 1)
		assert.Equal(t, EventRecordUpdated, f.hub.events[0].EventType)

		stored, err := f.records.ByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, datatypes.JSONMap{"a": "1", "c": "3"}, stored.Data)
	})

	t.Run("ConcurrentEditsOfDifferentFieldsBothLand", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		rec := f.records.add(&models.Record{OrgID: 1, PartitionID: f.partition.ID, Data: datatypes.JSONMap{"name": "Kim"}})

		// both editors read the record before either writes
		var reads sync.WaitGroup
		reads.Add(2)
		f.records.afterRead = func() {
			reads.Done()
			reads.Wait()
		}

		edits := []map[string]any{{"phone": "+15550001111"}, {"email": "kim@example.com"}}
		var wg sync.WaitGroup
		errs := make([]error, len(edits))
		for i, data := range edits {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.flow.UpdateRecord(ctx, &dto.UpdateRecordRequest{OrgID: 1, RecordID: rec.ID, Data: data}, nil)
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		f.records.afterRead = nil
		stored, err := f.records.ByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, datatypes.JSONMap{"name": "Kim", "phone": "+15550001111", "email": "kim@example.com"}, stored.Data)
	})

	t.Run("UpdateRecordDeletedMidway", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		rec := f.records.add(&models.Record{OrgID: 1, PartitionID: f.partition.ID, Data: datatypes.JSONMap{}})
		f.records.afterRead = func() {
			f.records.mu.Lock()
			delete(f.records.records, rec.ID)
			f.records.mu.Unlock()
		}

		_, err := f.flow.UpdateRecord(ctx, &dto.UpdateRecordRequest{OrgID: 1, RecordID: rec.ID, Data: map[string]any{"x": 1}}, nil)
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.Empty(t, f.notifier.updated)
	})

	t.Run("UpdateForeignRecord", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		rec := f.records.add(&models.Record{OrgID: 2, PartitionID: 9, Data: datatypes.JSONMap{}})

		_, err := f.flow.UpdateRecord(ctx, &dto.UpdateRecordRequest{OrgID: 1, RecordID: rec.ID, Data: map[string]any{"x": 1}}, nil)
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.Empty(t, f.notifier.updated)
	})

	t.Run("DataRequired", func(t *testing.T) {
		f := newRecordFixture(AllocationRetryConfig{Attempts: 1})
		_, err := f.flow.CreateRecord(ctx, &dto.CreateRecordRequest{OrgID: 1, PartitionID: f.partition.ID}, nil)
		assert.ErrorIs(t, err, ErrRecordDataRequired)
	})
}
