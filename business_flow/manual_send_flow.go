package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ManualSendSkipped marks a selected record that was not dispatched
const ManualSendSkipped = "skipped"

// ManualSendFlow dispatches a link to an explicit selection of records
type ManualSendFlow interface {
	SendManual(ctx context.Context, req *dto.ManualSendRequest, metadata *ClientMetadata) (*dto.ManualSendResponse, error)
}

// ManualSendFlowImpl implements ManualSendFlow
type ManualSendFlowImpl struct {
	linkRepo    repository.MessageLinkRepository
	recordRepo  repository.RecordRepository
	auditRepo   repository.AuditLogRepository
	dispatcher  ChannelDispatcher
	parallelism int
	maxRecords  int
	logger      *log.Logger
}

func NewManualSendFlow(linkRepo repository.MessageLinkRepository, recordRepo repository.RecordRepository, auditRepo repository.AuditLogRepository, dispatcher ChannelDispatcher, parallelism, maxRecords int, logger *log.Logger) ManualSendFlow {
	if parallelism < 1 {
		parallelism = 1
	}
	if maxRecords < 1 {
		maxRecords = utils.ManualSendMaxRecords
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ManualSendFlowImpl{
		linkRepo:    linkRepo,
		recordRepo:  recordRepo,
		auditRepo:   auditRepo,
		dispatcher:  dispatcher,
		parallelism: parallelism,
		maxRecords:  maxRecords,
		logger:      logger,
	}
}

// SendManual isolates every record: one record's failure never fails the batch.
// Configuration problems (unknown link, inactive link, unconfigured channel) fail
// the whole call before any send log is written.
func (f *ManualSendFlowImpl) SendManual(ctx context.Context, req *dto.ManualSendRequest, metadata *ClientMetadata) (*dto.ManualSendResponse, error) {
	ids := uniqueIDs(req.RecordIDs)
	if len(ids) == 0 {
		return nil, ErrNoRecordsSelected
	}
	if len(ids) > f.maxRecords {
		return nil, fmt.Errorf("%w: at most %d records per batch", ErrTooManyRecords, f.maxRecords)
	}

	link, err := f.linkRepo.ByID(ctx, req.LinkID)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LINK_LOOKUP_FAILED", "Failed to load message link", err)
	}
	if link == nil || link.OrgID != req.OrgID {
		return nil, ErrMessageLinkNotFound
	}
	if !utils.IsTrue(link.IsActive) {
		return nil, ErrMessageLinkInactive
	}
	if !f.dispatcher.Supports(link.Channel) {
		return nil, ErrChannelNotConfigured
	}

	records, err := f.recordRepo.ListByIDs(ctx, req.OrgID, ids)
	if err != nil {
		return nil, NewBusinessError("RECORD_LOOKUP_FAILED", "Failed to load records", err)
	}
	byID := make(map[uint]*models.Record, len(records))
	for _, r := range records {
		if r.PartitionID == link.PartitionID {
			byID[r.ID] = r
		}
	}

	items := make([]dto.ManualSendItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i, id := range ids {
		record, ok := byID[id]
		if !ok {
			items[i] = dto.ManualSendItem{RecordID: id, Status: ManualSendSkipped, Error: ErrRecordNotFound.Error()}
			continue
		}
		g.Go(func() error {
			items[i] = f.sendOne(gctx, link, record)
			return nil
		})
	}
	_ = g.Wait()

	resp := &dto.ManualSendResponse{Items: items, Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case models.SendLogStatusSent.String():
			resp.Sent++
		case models.SendLogStatusPending.String():
			resp.Pending++
		case ManualSendSkipped:
			resp.Skipped++
		default:
			resp.Failed++
		}
	}

	_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionManualSend,
		fmt.Sprintf("Manual send of link %d to %d records", link.ID, resp.Total), true, nil,
		map[string]any{"linkId": link.ID, "total": resp.Total, "sent": resp.Sent, "pending": resp.Pending, "failed": resp.Failed, "skipped": resp.Skipped}, metadata)

	return resp, nil
}

func (f *ManualSendFlowImpl) sendOne(ctx context.Context, link *models.MessageLink, record *models.Record) dto.ManualSendItem {
	item := dto.ManualSendItem{RecordID: record.ID}

	sendLog, err := f.dispatcher.Dispatch(ctx, link, record, "manual:"+uuid.NewString())
	if err != nil {
		f.logger.Printf("manual send: link_id=%d record_id=%d err=%v", link.ID, record.ID, err)
		item.Status = models.SendLogStatusFailed.String()
		if IsAlreadyDispatched(err) {
			item.Status = ManualSendSkipped
		}
		item.Error = err.Error()
		return item
	}

	item.SendLogID = utils.ToPtr(sendLog.ID)
	item.Status = sendLog.Status.String()
	item.ResultCode = sendLog.ResultCode
	return item
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
