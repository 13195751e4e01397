package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/leadrelay/app/dto"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
)

const (
	defaultSendLogPageSize = 20
	maxSendLogPageSize     = 100
)

// SendLogFlow exposes send logs and on-demand reconciliation
type SendLogFlow interface {
	ListSendLogs(ctx context.Context, req *dto.ListSendLogsRequest) (*dto.ListSendLogsResponse, error)
	Reconcile(ctx context.Context, req *dto.ReconcileRequest, metadata *ClientMetadata) (*dto.ReconcileResponse, error)
}

// SendLogFlowImpl implements SendLogFlow
type SendLogFlowImpl struct {
	sendLogRepo repository.SendLogRepository
	auditRepo   repository.AuditLogRepository
	reconciler  ReconciliationFlow
}

func NewSendLogFlow(sendLogRepo repository.SendLogRepository, auditRepo repository.AuditLogRepository, reconciler ReconciliationFlow) SendLogFlow {
	return &SendLogFlowImpl{sendLogRepo: sendLogRepo, auditRepo: auditRepo, reconciler: reconciler}
}

func (f *SendLogFlowImpl) ListSendLogs(ctx context.Context, req *dto.ListSendLogsRequest) (*dto.ListSendLogsResponse, error) {
	page := req.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, ErrInvalidPage
	}
	limit := req.PageSize
	if limit == 0 {
		limit = defaultSendLogPageSize
	}
	if limit < 1 || limit > maxSendLogPageSize {
		return nil, ErrInvalidPageSize
	}
	if req.StartDate != nil && req.EndDate != nil && req.StartDate.After(*req.EndDate) {
		return nil, ErrStartDateAfterEndDate
	}

	orgID := req.OrgID
	filter := models.SendLogFilter{
		OrgID:         &orgID,
		LinkID:        req.LinkID,
		RecordID:      req.RecordID,
		CreatedAfter:  utils.TimeToUTCPtr(req.StartDate),
		CreatedBefore: utils.TimeToUTCPtr(req.EndDate),
	}
	if req.Status != nil {
		st := models.SendLogStatus(*req.Status)
		filter.Status = &st
	}
	if req.Channel != nil {
		ch := models.Channel(*req.Channel)
		filter.Channel = &ch
	}

	total, err := f.sendLogRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("SEND_LOG_LIST_FAILED", "Failed to count send logs", err)
	}
	rows, err := f.sendLogRepo.ByFilter(ctx, filter, "id DESC", limit, (page-1)*limit)
	if err != nil {
		return nil, NewBusinessError("SEND_LOG_LIST_FAILED", "Failed to list send logs", err)
	}

	items := make([]dto.SendLogItem, 0, len(rows))
	for _, l := range rows {
		items = append(items, toSendLogItem(l))
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &dto.ListSendLogsResponse{
		Items: items,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

func (f *SendLogFlowImpl) Reconcile(ctx context.Context, req *dto.ReconcileRequest, metadata *ClientMetadata) (*dto.ReconcileResponse, error) {
	res, err := f.reconciler.Reconcile(ctx, req.OrgID, uniqueIDs(req.LogIDs))
	if err != nil {
		errMsg := err.Error()
		_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionReconcileRequested, "Reconciliation failed", false, &errMsg, nil, metadata)
		return nil, NewBusinessError("RECONCILE_FAILED", "Failed to reconcile send logs", err)
	}

	_ = createAuditLog(ctx, f.auditRepo, req.OrgID, req.UserID, models.AuditActionReconcileRequested,
		fmt.Sprintf("Reconciliation synced %d and updated %d send logs", res.Synced, res.Updated), true, nil,
		map[string]any{"synced": res.Synced, "updated": res.Updated, "skipped": res.Skipped, "logIds": req.LogIDs}, metadata)

	return &dto.ReconcileResponse{Synced: res.Synced, Updated: res.Updated, Skipped: res.Skipped}, nil
}
