package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/leadrelay/models"
	testingutil "github.com/amirphl/leadrelay/testing"
	"github.com/amirphl/leadrelay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSendLogRepository(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) {
		ctx := context.Background()
		fixtures := testingutil.NewTestFixtures(testDB)
		repo := NewSendLogRepository(testDB.DB)

		setup := func(t *testing.T) (*models.MessageLink, *models.Record) {
			t.Helper()
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 0, nil)
			require.NoError(t, err)
			r, err := fixtures.CreateTestRecord(p, map[string]any{"email": "a@b.c"})
			require.NoError(t, err)
			l, err := fixtures.CreateTestMessageLink(p, models.ChannelEmail, models.TriggerTypeOnCreate, models.RepeatConfig{})
			require.NoError(t, err)
			return l, r
		}

		newLog := func(l *models.MessageLink, r *models.Record, key string) *models.SendLog {
			return &models.SendLog{OrgID: l.OrgID, Channel: l.Channel, LinkID: l.ID, RecordID: r.ID, Recipient: "a@b.c", OccurrenceKey: key}
		}

		t.Run("InsertPendingIsUniquePerOccurrence", func(t *testing.T) {
			l, r := setup(t)

			first := newLog(l, r, "once")
			inserted, err := repo.InsertPending(ctx, first)
			require.NoError(t, err)
			assert.True(t, inserted)
			assert.NotZero(t, first.ID)
			assert.Equal(t, models.SendLogStatusPending, first.Status)

			inserted, err = repo.InsertPending(ctx, newLog(l, r, "once"))
			require.NoError(t, err)
			assert.False(t, inserted)

			// a different occurrence of the same link and record is a separate row
			inserted, err = repo.InsertPending(ctx, newLog(l, r, "event:abc"))
			require.NoError(t, err)
			assert.True(t, inserted)
		})

		t.Run("FailedOccurrenceCanBeRetried", func(t *testing.T) {
			l, r := setup(t)

			first := newLog(l, r, "once")
			_, err := repo.InsertPending(ctx, first)
			require.NoError(t, err)
			changed, err := repo.TransitionIfPending(ctx, first.ID, models.SendLogTransition{
				Status:      models.SendLogStatusFailed,
				ResultCode:  utils.ToPtr(models.ResultCodeProviderError),
				CompletedAt: utils.UTCNow(),
			})
			require.NoError(t, err)
			require.True(t, changed)

			exists, err := repo.ExistsNonFailed(ctx, l.ID, r.ID, nil)
			require.NoError(t, err)
			assert.False(t, exists)

			retry := newLog(l, r, "once")
			inserted, err := repo.InsertPending(ctx, retry)
			require.NoError(t, err)
			assert.True(t, inserted)

			exists, err = repo.ExistsNonFailed(ctx, l.ID, r.ID, nil)
			require.NoError(t, err)
			assert.True(t, exists)
		})

		t.Run("ConcurrentInsertsYieldOneRow", func(t *testing.T) {
			l, r := setup(t)

			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := repo.InsertPending(ctx, newLog(l, r, "once"))
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})

		t.Run("TerminalStatusNeverChanges", func(t *testing.T) {
			l, r := setup(t)
			sent, err := fixtures.CreateTestSendLog(l, r, models.SendLogStatusSent, "once", utils.ToPtr("req-x"))
			require.NoError(t, err)

			changed, err := repo.TransitionIfPending(ctx, sent.ID, models.SendLogTransition{Status: models.SendLogStatusFailed, CompletedAt: utils.UTCNow()})
			require.NoError(t, err)
			assert.False(t, changed)

			reloaded, err := repo.ByID(ctx, sent.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SendLogStatusSent, reloaded.Status)
		})

		t.Run("RecordAckThenListPending", func(t *testing.T) {
			l, r := setup(t)
			log := newLog(l, r, "once")
			_, err := repo.InsertPending(ctx, log)
			require.NoError(t, err)

			// without a request id the log is not pollable
			pending, err := repo.ListPending(ctx, l.OrgID, nil, 100)
			require.NoError(t, err)
			assert.Empty(t, pending)

			require.NoError(t, repo.RecordAck(ctx, log.ID, "req-1", utils.UTCNow()))
			pending, err = repo.ListPending(ctx, l.OrgID, nil, 100)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "req-1", *pending[0].ProviderRequestID)

			orgs, err := repo.DistinctPendingOrgs(ctx, 0)
			require.NoError(t, err)
			assert.Contains(t, orgs, l.OrgID)

			changed, err := repo.TransitionIfPending(ctx, log.ID, models.SendLogTransition{Status: models.SendLogStatusSent, CompletedAt: utils.UTCNow()})
			require.NoError(t, err)
			assert.True(t, changed)

			reloaded, err := repo.ByID(ctx, log.ID)
			require.NoError(t, err)
			assert.NotNil(t, reloaded.SentAt)
			assert.NotNil(t, reloaded.CompletedAt)
		})

		t.Run("ListPendingRespectsLimit", func(t *testing.T) {
			l, _ := setup(t)
			p, err := NewPartitionRepository(testDB.DB).ByID(ctx, l.PartitionID)
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				r, err := fixtures.CreateTestRecord(p, map[string]any{"i": i})
				require.NoError(t, err)
				_, err = fixtures.CreateTestSendLog(l, r, models.SendLogStatusPending, "once", utils.ToPtr("req"))
				require.NoError(t, err)
			}

			rows, err := repo.ListPending(ctx, l.OrgID, nil, 3)
			require.NoError(t, err)
			assert.Len(t, rows, 3)
		})

		t.Run("ListPendingPutsPolledLogsLast", func(t *testing.T) {
			l, _ := setup(t)
			p, err := NewPartitionRepository(testDB.DB).ByID(ctx, l.PartitionID)
			require.NoError(t, err)
			var ids []uint
			for i := 0; i < 3; i++ {
				r, err := fixtures.CreateTestRecord(p, map[string]any{"i": i})
				require.NoError(t, err)
				sl, err := fixtures.CreateTestSendLog(l, r, models.SendLogStatusPending, "once", utils.ToPtr("req"))
				require.NoError(t, err)
				ids = append(ids, sl.ID)
			}

			require.NoError(t, repo.MarkPolled(ctx, ids[:2], time.Now().UTC()))

			rows, err := repo.ListPending(ctx, l.OrgID, nil, 1)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, ids[2], rows[0].ID)

			require.NoError(t, repo.MarkPolled(ctx, ids[2:], time.Now().UTC().Add(time.Second)))
			rows, err = repo.ListPending(ctx, l.OrgID, nil, 3)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, ids[2], rows[2].ID)
			assert.NotNil(t, rows[0].LastPolledAt)
		})

		t.Run("ListOrphans", func(t *testing.T) {
			l, r := setup(t)
			log := newLog(l, r, "once")
			_, err := repo.InsertPending(ctx, log)
			require.NoError(t, err)

			rows, err := repo.ListOrphans(ctx, l.OrgID, time.Now().UTC().Add(time.Hour), 10)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, log.ID, rows[0].ID)

			rows, err = repo.ListOrphans(ctx, l.OrgID, time.Now().UTC().Add(-time.Hour), 10)
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	})
}

func TestPartitionRepository(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) {
		ctx := context.Background()
		fixtures := testingutil.NewTestFixtures(testDB)
		repo := NewPartitionRepository(testDB.DB)

		t.Run("ForUpdateNeedsTransaction", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 3, nil)
			require.NoError(t, err)

			_, err = repo.ByIDForUpdate(ctx, p.ID, time.Second)
			assert.ErrorIs(t, err, ErrNoTransaction)
		})

		t.Run("MissingRowIsNil", func(t *testing.T) {
			err := WithTransaction(ctx, testDB.DB, func(txCtx context.Context) error {
				p, err := repo.ByIDForUpdate(txCtx, 999999, time.Second)
				require.NoError(t, err)
				assert.Nil(t, p)
				return nil
			})
			require.NoError(t, err)
		})

		t.Run("LockTimeoutIsContention", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 3, nil)
			require.NoError(t, err)

			locked := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- WithTransaction(ctx, testDB.DB, func(txCtx context.Context) error {
					if _, err := repo.ByIDForUpdate(txCtx, p.ID, time.Second); err != nil {
						return err
					}
					close(locked)
					<-release
					return nil
				})
			}()
			<-locked

			err = WithTransaction(ctx, testDB.DB, func(txCtx context.Context) error {
				_, err := repo.ByIDForUpdate(txCtx, p.ID, 50*time.Millisecond)
				return err
			})
			require.Error(t, err)
			assert.True(t, IsLockContention(err))

			close(release)
			require.NoError(t, <-done)
		})

		t.Run("UpdateCounterAndDistribution", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 3, nil)
			require.NoError(t, err)

			require.NoError(t, repo.UpdateLastAssignedOrder(ctx, p.ID, 2))
			require.NoError(t, repo.UpdateDistribution(ctx, p.ID, true, 5, models.DistributionDefaults{"1": {"owner": "sara"}}))

			got, err := repo.ByID(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.LastAssignedOrder)
			assert.Equal(t, 5, got.MaxDistributionOrder)
			assert.Equal(t, map[string]any{"owner": "sara"}, got.DistributionDefaults.Data().ForOrder(1))
		})
	})
}

func TestRecordAndLinkRepositories(t *testing.T) {
	testingutil.RunWithDB(t, func(testDB *testingutil.TestDB) {
		ctx := context.Background()
		fixtures := testingutil.NewTestFixtures(testDB)
		records := NewRecordRepository(testDB.DB)
		links := NewMessageLinkRepository(testDB.DB)

		t.Run("MergeDataKeepsDistributionOrder", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 2, nil)
			require.NoError(t, err)
			r := &models.Record{OrgID: p.OrgID, PartitionID: p.ID, Data: datatypes.JSONMap{"stage": "new", "note": "call back"}, DistributionOrder: utils.ToPtr(2)}
			require.NoError(t, records.Save(ctx, r))

			merged, err := records.MergeData(ctx, r.ID, datatypes.JSONMap{"stage": "won"}, []string{"note"})
			require.NoError(t, err)
			assert.Equal(t, datatypes.JSONMap{"stage": "won"}, merged)

			got, err := records.ByID(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, "won", got.Data["stage"])
			assert.NotContains(t, got.Data, "note")
			require.NotNil(t, got.DistributionOrder)
			assert.Equal(t, 2, *got.DistributionOrder)
		})

		t.Run("MergeDataMissingRecord", func(t *testing.T) {
			merged, err := records.MergeData(ctx, 987654321, datatypes.JSONMap{"x": 1}, nil)
			require.NoError(t, err)
			assert.Nil(t, merged)
		})

		t.Run("ConcurrentMergesKeepEveryField", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 0, nil)
			require.NoError(t, err)
			r, err := fixtures.CreateTestRecord(p, map[string]any{"name": "Kim"})
			require.NoError(t, err)

			const editors = 8
			var wg sync.WaitGroup
			errs := make([]error, editors)
			for i := range editors {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = records.MergeData(ctx, r.ID, datatypes.JSONMap{fmt.Sprintf("field%d", i): i}, nil)
				}()
			}
			wg.Wait()
			for _, err := range errs {
				require.NoError(t, err)
			}

			got, err := records.ByID(ctx, r.ID)
			require.NoError(t, err)
			assert.Len(t, got.Data, editors+1)
			assert.Equal(t, "Kim", got.Data["name"])
		})

		t.Run("ListByIDsScopedToOrg", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 0, nil)
			require.NoError(t, err)
			r, err := fixtures.CreateTestRecord(p, map[string]any{"x": 1})
			require.NoError(t, err)

			got, err := records.ListByIDs(ctx, p.OrgID, []uint{r.ID})
			require.NoError(t, err)
			assert.Len(t, got, 1)

			got, err = records.ListByIDs(ctx, p.OrgID+1, []uint{r.ID})
			require.NoError(t, err)
			assert.Empty(t, got)
		})

		t.Run("ListActiveByTrigger", func(t *testing.T) {
			p, err := fixtures.CreateTestPartition(testingutil.RandomOrgID(), 0, nil)
			require.NoError(t, err)
			onCreate, err := fixtures.CreateTestMessageLink(p, models.ChannelEmail, models.TriggerTypeOnCreate, models.RepeatConfig{})
			require.NoError(t, err)
			_, err = fixtures.CreateTestMessageLink(p, models.ChannelChat, models.TriggerTypeManual, models.RepeatConfig{})
			require.NoError(t, err)
			inactive, err := fixtures.CreateTestMessageLink(p, models.ChannelEmail, models.TriggerTypeOnCreate, models.RepeatConfig{})
			require.NoError(t, err)
			inactive.IsActive = utils.ToPtr(false)
			require.NoError(t, links.Update(ctx, inactive))

			got, err := links.ListActiveByTrigger(ctx, p.ID, models.TriggerTypeOnCreate)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, onCreate.ID, got[0].ID)
			assert.Equal(t, map[string]string{"name": "first_name"}, got[0].Mappings())
		})
	})
}
