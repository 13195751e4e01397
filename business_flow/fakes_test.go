package businessflow

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/amirphl/leadrelay/models"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
)

var errFakeStore = errors.New("fake store failure")

// fakePartitionRepo serializes ByIDForUpdate callers the way a row lock would
type fakePartitionRepo struct {
	mu         sync.Mutex
	partitions map[uint]*models.Partition
	nextID     uint

	// lockErrs are returned (and consumed) by ByIDForUpdate before it succeeds
	lockErrs []error
	rowLocks map[uint]*sync.Mutex
}

func newFakePartitionRepo() *fakePartitionRepo {
	return &fakePartitionRepo{partitions: map[uint]*models.Partition{}, rowLocks: map[uint]*sync.Mutex{}}
}

func (r *fakePartitionRepo) add(p *models.Partition) *models.Partition {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	r.partitions[p.ID] = p
	r.rowLocks[p.ID] = &sync.Mutex{}
	return p
}

func (r *fakePartitionRepo) get(id uint) *models.Partition {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.partitions[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *fakePartitionRepo) ByID(ctx context.Context, id uint) (*models.Partition, error) {
	return r.get(id), nil
}

func (r *fakePartitionRepo) ByIDForUpdate(ctx context.Context, id uint, lockTimeout time.Duration) (*models.Partition, error) {
	r.mu.Lock()
	if len(r.lockErrs) > 0 {
		err := r.lockErrs[0]
		r.lockErrs = r.lockErrs[1:]
		r.mu.Unlock()
		return nil, err
	}
	lock := r.rowLocks[id]
	r.mu.Unlock()
	if lock == nil {
		return nil, nil
	}
	lock.Lock()
	if tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok {
		tx.onEnd(lock.Unlock)
	} else {
		lock.Unlock()
	}
	return r.get(id), nil
}

func (r *fakePartitionRepo) UpdateLastAssignedOrder(ctx context.Context, id uint, order int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partitions[id]
	if !ok {
		return errFakeStore
	}
	p.LastAssignedOrder = order
	return nil
}

func (r *fakePartitionRepo) UpdateDistribution(ctx context.Context, id uint, useOrder bool, maxOrder int, defaults models.DistributionDefaults) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.partitions[id]
	if !ok {
		return errFakeStore
	}
	p.UseDistributionOrder = useOrder
	p.MaxDistributionOrder = maxOrder
	p.DistributionDefaults = datatypes.NewJSONType(defaults)
	return nil
}

func (r *fakePartitionRepo) ByFilter(ctx context.Context, f models.PartitionFilter, orderBy string, limit, offset int) ([]*models.Partition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Partition
	for _, p := range r.partitions {
		if f.ID != nil && p.ID != *f.ID {
			continue
		}
		if f.OrgID != nil && p.OrgID != *f.OrgID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakePartitionRepo) Save(ctx context.Context, p *models.Partition) error {
	if p.ID == 0 {
		r.add(p)
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitions[p.ID] = p
	return nil
}

func (r *fakePartitionRepo) SaveBatch(ctx context.Context, ps []*models.Partition) error {
	for _, p := range ps {
		if err := r.Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakePartitionRepo) Count(ctx context.Context, f models.PartitionFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *fakePartitionRepo) Exists(ctx context.Context, f models.PartitionFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

type fakeTxKey struct{}

// fakeTx releases row locks taken inside it when the transaction function returns
type fakeTx struct {
	mu    sync.Mutex
	hooks []func()
}

func (t *fakeTx) onEnd(fn func()) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

func fakeTxRunner(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &fakeTx{}
	defer func() {
		for _, h := range tx.hooks {
			h()
		}
	}()
	return fn(context.WithValue(ctx, fakeTxKey{}, tx))
}

func lockTimeoutErr() error {
	return &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[uint]*models.Record
	nextID  uint

	// afterRead runs outside the lock once ByID has copied a record
	afterRead func()
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: map[uint]*models.Record{}}
}

func (r *fakeRecordRepo) add(rec *models.Record) *models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rec.ID = r.nextID
	r.records[rec.ID] = rec
	return rec
}

func (r *fakeRecordRepo) ByID(ctx context.Context, id uint) (*models.Record, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	var cp models.Record
	if ok {
		cp = *rec
		cp.Data = maps.Clone(rec.Data)
	}
	r.mu.Unlock()

	if r.afterRead != nil {
		r.afterRead()
	}
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (r *fakeRecordRepo) MergeData(ctx context.Context, id uint, set datatypes.JSONMap, unset []string) (datatypes.JSONMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	merged := maps.Clone(rec.Data)
	if merged == nil {
		merged = datatypes.JSONMap{}
	}
	maps.Copy(merged, set)
	for _, k := range unset {
		delete(merged, k)
	}
	rec.Data = merged
	return maps.Clone(merged), nil
}

func (r *fakeRecordRepo) ListByIDs(ctx context.Context, orgID uint, ids []uint) ([]*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Record
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.OrgID == orgID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) ByFilter(ctx context.Context, f models.RecordFilter, orderBy string, limit, offset int) ([]*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Record
	for _, rec := range r.records {
		if f.PartitionID != nil && rec.PartitionID != *f.PartitionID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Record) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (r *fakeRecordRepo) Save(ctx context.Context, rec *models.Record) error {
	if rec.ID == 0 {
		r.add(rec)
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *fakeRecordRepo) SaveBatch(ctx context.Context, recs []*models.Record) error {
	for _, rec := range recs {
		_ = r.Save(ctx, rec)
	}
	return nil
}

func (r *fakeRecordRepo) Count(ctx context.Context, f models.RecordFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *fakeRecordRepo) Exists(ctx context.Context, f models.RecordFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

type fakeLinkRepo struct {
	mu      sync.Mutex
	links   map[uint]*models.MessageLink
	nextID  uint
	listErr error
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{links: map[uint]*models.MessageLink{}}
}

func (r *fakeLinkRepo) add(l *models.MessageLink) *models.MessageLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l.ID = r.nextID
	r.links[l.ID] = l
	return l
}

func (r *fakeLinkRepo) ByID(ctx context.Context, id uint) (*models.MessageLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.links[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeLinkRepo) ListActiveByTrigger(ctx context.Context, partitionID uint, triggerType models.TriggerType) ([]*models.MessageLink, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MessageLink
	for _, l := range r.links {
		if l.PartitionID == partitionID && l.TriggerType == triggerType && l.IsActive != nil && *l.IsActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.MessageLink) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (r *fakeLinkRepo) Update(ctx context.Context, l *models.MessageLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[l.ID]; !ok {
		return errFakeStore
	}
	cp := *l
	r.links[l.ID] = &cp
	return nil
}

func (r *fakeLinkRepo) ByFilter(ctx context.Context, f models.MessageLinkFilter, orderBy string, limit, offset int) ([]*models.MessageLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MessageLink
	for _, l := range r.links {
		if f.PartitionID != nil && l.PartitionID != *f.PartitionID {
			continue
		}
		if f.OrgID != nil && l.OrgID != *f.OrgID {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.MessageLink) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (r *fakeLinkRepo) Save(ctx context.Context, l *models.MessageLink) error {
	if l.ID == 0 {
		r.add(l)
		return nil
	}
	return r.Update(ctx, l)
}

func (r *fakeLinkRepo) SaveBatch(ctx context.Context, ls []*models.MessageLink) error {
	for _, l := range ls {
		_ = r.Save(ctx, l)
	}
	return nil
}

func (r *fakeLinkRepo) Count(ctx context.Context, f models.MessageLinkFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *fakeLinkRepo) Exists(ctx context.Context, f models.MessageLinkFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

// fakeSendLogRepo enforces one non-failed log per (link, record, occurrence key)
type fakeSendLogRepo struct {
	mu        sync.Mutex
	logs      map[uint]*models.SendLog
	nextID    uint
	existsErr error
	clock     func() time.Time
}

func newFakeSendLogRepo() *fakeSendLogRepo {
	return &fakeSendLogRepo{logs: map[uint]*models.SendLog{}, clock: time.Now}
}

func (r *fakeSendLogRepo) insertLocked(l *models.SendLog) {
	r.nextID++
	l.ID = r.nextID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.clock()
	}
	cp := *l
	r.logs[l.ID] = &cp
}

func (r *fakeSendLogRepo) add(l *models.SendLog) *models.SendLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(l)
	return l
}

func (r *fakeSendLogRepo) get(id uint) *models.SendLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.logs[id]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (r *fakeSendLogRepo) all() []*models.SendLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.SendLog, 0, len(r.logs))
	for _, l := range r.logs {
		cp := *l
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.SendLog) int { return int(a.ID) - int(b.ID) })
	return out
}

func (r *fakeSendLogRepo) ByID(ctx context.Context, id uint) (*models.SendLog, error) {
	return r.get(id), nil
}

func (r *fakeSendLogRepo) InsertPending(ctx context.Context, l *models.SendLog) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.logs {
		if existing.LinkID == l.LinkID && existing.RecordID == l.RecordID &&
			existing.OccurrenceKey == l.OccurrenceKey && existing.Status != models.SendLogStatusFailed {
			return false, nil
		}
	}
	l.Status = models.SendLogStatusPending
	r.insertLocked(l)
	return true, nil
}

func (r *fakeSendLogRepo) ExistsNonFailed(ctx context.Context, linkID, recordID uint, since *time.Time) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.LinkID != linkID || l.RecordID != recordID || l.Status == models.SendLogStatusFailed {
			continue
		}
		if since != nil && l.CreatedAt.Before(*since) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeSendLogRepo) ListPending(ctx context.Context, orgID uint, ids []uint, limit int) ([]*models.SendLog, error) {
	var out []*models.SendLog
	for _, l := range r.all() {
		if l.OrgID != orgID || l.Status != models.SendLogStatusPending || l.ProviderRequestID == nil {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, l.ID) {
			continue
		}
		out = append(out, l)
	}
	// never-polled first, then oldest poll, then id
	slices.SortStableFunc(out, func(a, b *models.SendLog) int {
		switch {
		case a.LastPolledAt == nil && b.LastPolledAt == nil:
			return 0
		case a.LastPolledAt == nil:
			return -1
		case b.LastPolledAt == nil:
			return 1
		default:
			return a.LastPolledAt.Compare(*b.LastPolledAt)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSendLogRepo) MarkPolled(ctx context.Context, ids []uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if l, ok := r.logs[id]; ok && l.Status == models.SendLogStatusPending {
			polledAt := at
			l.LastPolledAt = &polledAt
		}
	}
	return nil
}

func (r *fakeSendLogRepo) ListOrphans(ctx context.Context, orgID uint, olderThan time.Time, limit int) ([]*models.SendLog, error) {
	var out []*models.SendLog
	for _, l := range r.all() {
		if l.OrgID == orgID && l.Status == models.SendLogStatusPending && l.ProviderRequestID == nil && l.CreatedAt.Before(olderThan) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeSendLogRepo) DistinctPendingOrgs(ctx context.Context, limit int) ([]uint, error) {
	var out []uint
	for _, l := range r.all() {
		if l.Status == models.SendLogStatusPending && !slices.Contains(out, l.OrgID) {
			out = append(out, l.OrgID)
		}
	}
	return out, nil
}

func (r *fakeSendLogRepo) RecordAck(ctx context.Context, id uint, providerRequestID string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[id]
	if !ok || l.Status != models.SendLogStatusPending {
		return nil
	}
	l.ProviderRequestID = &providerRequestID
	l.SentAt = &sentAt
	return nil
}

func (r *fakeSendLogRepo) TransitionIfPending(ctx context.Context, id uint, tr models.SendLogTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[id]
	if !ok || l.Status != models.SendLogStatusPending {
		return false, nil
	}
	l.Status = tr.Status
	if tr.ProviderRequestID != nil {
		l.ProviderRequestID = tr.ProviderRequestID
	}
	l.ResultCode = tr.ResultCode
	l.ResultMessage = tr.ResultMessage
	completedAt := tr.CompletedAt
	l.CompletedAt = &completedAt
	return true, nil
}

func (r *fakeSendLogRepo) ByFilter(ctx context.Context, f models.SendLogFilter, orderBy string, limit, offset int) ([]*models.SendLog, error) {
	var out []*models.SendLog
	for _, l := range r.all() {
		if f.OrgID != nil && l.OrgID != *f.OrgID {
			continue
		}
		if f.Status != nil && l.Status != *f.Status {
			continue
		}
		if f.LinkID != nil && l.LinkID != *f.LinkID {
			continue
		}
		out = append(out, l)
	}
	slices.Reverse(out)
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSendLogRepo) Save(ctx context.Context, l *models.SendLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == 0 {
		r.insertLocked(l)
		return nil
	}
	cp := *l
	r.logs[l.ID] = &cp
	return nil
}

func (r *fakeSendLogRepo) SaveBatch(ctx context.Context, ls []*models.SendLog) error {
	for _, l := range ls {
		_ = r.Save(ctx, l)
	}
	return nil
}

func (r *fakeSendLogRepo) Count(ctx context.Context, f models.SendLogFilter) (int64, error) {
	items, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(items)), nil
}

func (r *fakeSendLogRepo) Exists(ctx context.Context, f models.SendLogFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

type fakeAuditRepo struct {
	mu   sync.Mutex
	rows []*models.AuditLog
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, row := range r.rows {
		out = append(out, row.Action)
	}
	return out
}

func (r *fakeAuditRepo) ByID(ctx context.Context, id uint) (*models.AuditLog, error) { return nil, nil }

func (r *fakeAuditRepo) ListByOrg(ctx context.Context, orgID uint, limit, offset int) ([]*models.AuditLog, error) {
	return nil, nil
}

func (r *fakeAuditRepo) ByFilter(ctx context.Context, f models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error) {
	return nil, nil
}

func (r *fakeAuditRepo) Save(ctx context.Context, row *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *fakeAuditRepo) SaveBatch(ctx context.Context, rows []*models.AuditLog) error {
	for _, row := range rows {
		_ = r.Save(ctx, row)
	}
	return nil
}

func (r *fakeAuditRepo) Count(ctx context.Context, f models.AuditLogFilter) (int64, error) {
	return 0, nil
}

func (r *fakeAuditRepo) Exists(ctx context.Context, f models.AuditLogFilter) (bool, error) {
	return false, nil
}

// fakeBroadcaster records realtime broadcasts
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastCall
}

type broadcastCall struct {
	PartitionID uint
	EventType   string
	Origin      string
}

func (b *fakeBroadcaster) Broadcast(partitionID uint, eventType string, payload any, originSessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastCall{PartitionID: partitionID, EventType: eventType, Origin: originSessionID})
}
