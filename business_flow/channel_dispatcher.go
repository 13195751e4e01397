package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/app/services"
	"github.com/amirphl/leadrelay/metrics"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

var recipientValidator = validator.New()

// DispatcherConfig tunes provider calls
type DispatcherConfig struct {
	CallTimeout   time.Duration
	RatePerSecond float64
	Burst         int
}

// ChannelDispatcher sends one rendered message for a (link, record, occurrence)
type ChannelDispatcher interface {
	// Dispatch writes exactly one send log per occurrence and calls the provider at
	// most once. It returns ErrAlreadyDispatched when a non-failed log already holds
	// the occurrence and ErrChannelNotConfigured when no provider serves the channel.
	Dispatch(ctx context.Context, link *models.MessageLink, record *models.Record, occurrenceKey string) (*models.SendLog, error)
	Supports(channel models.Channel) bool
}

// ChannelDispatcherImpl implements ChannelDispatcher
type ChannelDispatcherImpl struct {
	providers   services.ProviderRegistry
	sendLogRepo repository.SendLogRepository
	limiter     *rate.Limiter
	callTimeout time.Duration
	clock       utils.Clock
	logger      *log.Logger
}

func NewChannelDispatcher(providers services.ProviderRegistry, sendLogRepo repository.SendLogRepository, cfg DispatcherConfig, clock utils.Clock, logger *log.Logger) ChannelDispatcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
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
	return &ChannelDispatcherImpl{
		providers:   providers,
		sendLogRepo: sendLogRepo,
		limiter:     limiter,
		callTimeout: cfg.CallTimeout,
		clock:       clock,
		logger:      logger,
	}
}

func (d *ChannelDispatcherImpl) Supports(channel models.Channel) bool {
	return d.providers.Get(channel) != nil
}

func (d *ChannelDispatcherImpl) Dispatch(ctx context.Context, link *models.MessageLink, record *models.Record, occurrenceKey string) (*models.SendLog, error) {
	if link == nil {
		return nil, ErrMessageLinkNotFound
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}
	provider := d.providers.Get(link.Channel)
	if provider == nil {
		return nil, ErrChannelNotConfigured
	}

	mappings := link.Mappings()
	sendLog := &models.SendLog{
		OrgID:         link.OrgID,
		Channel:       link.Channel,
		LinkID:        link.ID,
		RecordID:      record.ID,
		RenderedTitle: RenderTemplate(link.TitleTemplate, mappings, record.Data),
		OccurrenceKey: occurrenceKey,
	}

	raw, _ := record.Field(link.RecipientField)
	recipient, code := ResolveRecipient(link.Channel, raw)
	sendLog.Recipient = utils.Truncate(Stringify(raw), 255)
	if code != "" {
		return d.failLocally(ctx, sendLog, code)
	}
	sendLog.Recipient = recipient

	inserted, err := d.sendLogRepo.InsertPending(ctx, sendLog)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending send log: %w", err)
	}
	if !inserted {
		metrics.TriggerSkipped.WithLabelValues("duplicate_occurrence").Inc()
		return nil, ErrAlreadyDispatched
	}

	msg := services.OutboundMessage{
		Channel:   link.Channel,
		Recipient: recipient,
		Title:     sendLog.RenderedTitle,
		Body:      RenderTemplate(link.BodyTemplate, mappings, record.Data),
		Reference: fmt.Sprintf("sl-%d", sendLog.ID),
	}

	// The provider call is never retried here; a second attempt could reach the recipient twice.
	res, callErr := d.callProvider(ctx, provider, msg)

	// Bookkeeping must complete even when the caller gives up
	bgCtx := context.WithoutCancel(ctx)
	d.applyAck(bgCtx, sendLog, res, callErr)
	metrics.DispatchTotal.WithLabelValues(link.Channel.String(), sendLog.Status.String()).Inc()
	return sendLog, nil
}

func (d *ChannelDispatcherImpl) callProvider(ctx context.Context, provider services.ChannelProvider, msg services.OutboundMessage) (*services.SendResult, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dispatch cancelled before provider call: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := provider.Send(callCtx, msg)
	metrics.ProviderCallDuration.WithLabelValues(msg.Channel.String(), "send").Observe(time.Since(start).Seconds())
	if err == nil && res == nil {
		err = errors.New("provider returned no acknowledgement")
	}
	return res, err
}

// applyAck records the provider acknowledgement on the pending log and mirrors it in memory
func (d *ChannelDispatcherImpl) applyAck(ctx context.Context, sendLog *models.SendLog, res *services.SendResult, callErr error) {
	now := d.clock()

	if callErr != nil {
		code := models.ResultCodeProviderError
		if services.IsTimeout(callErr) {
			code = models.ResultCodeProviderTimeout
		}
		d.transition(ctx, sendLog, models.SendLogTransition{
			Status:        models.SendLogStatusFailed,
			ResultCode:    utils.ToPtr(code),
			ResultMessage: utils.ToPtr(utils.Truncate(callErr.Error(), 1000)),
			CompletedAt:   now,
		})
		return
	}

	var reqID *string
	if res.ProviderRequestID != "" {
		reqID = utils.ToPtr(res.ProviderRequestID)
	}
	resultCode := optionalString(res.ResultCode)
	resultMessage := optionalString(res.ResultMessage)

	switch {
	case !res.Accepted:
		if resultCode == nil {
			resultCode = utils.ToPtr(models.ResultCodeProviderError)
		}
		d.transition(ctx, sendLog, models.SendLogTransition{
			Status:            models.SendLogStatusFailed,
			ProviderRequestID: reqID,
			ResultCode:        resultCode,
			ResultMessage:     resultMessage,
			CompletedAt:       now,
		})
	case res.InFlight && reqID != nil:
		if err := d.sendLogRepo.RecordAck(ctx, sendLog.ID, *reqID, now); err != nil {
			d.logger.Printf("dispatch: failed to record ack send_log_id=%d request_id=%s err=%v", sendLog.ID, *reqID, err)
		}
		sendLog.ProviderRequestID = reqID
		sendLog.SentAt = &now
	default:
		d.transition(ctx, sendLog, models.SendLogTransition{
			Status:            models.SendLogStatusSent,
			ProviderRequestID: reqID,
			ResultCode:        resultCode,
			ResultMessage:     resultMessage,
			CompletedAt:       now,
		})
	}
}

func (d *ChannelDispatcherImpl) transition(ctx context.Context, sendLog *models.SendLog, tr models.SendLogTransition) {
	if _, err := d.sendLogRepo.TransitionIfPending(ctx, sendLog.ID, tr); err != nil {
		d.logger.Printf("dispatch: failed to store outcome send_log_id=%d status=%s err=%v", sendLog.ID, tr.Status, err)
	}
	sendLog.Status = tr.Status
	if tr.ProviderRequestID != nil {
		sendLog.ProviderRequestID = tr.ProviderRequestID
	}
	sendLog.ResultCode = tr.ResultCode
	sendLog.ResultMessage = tr.ResultMessage
	completedAt := tr.CompletedAt
	sendLog.CompletedAt = &completedAt
	if tr.Status == models.SendLogStatusSent && sendLog.SentAt == nil {
		sendLog.SentAt = &completedAt
	}
}

// failLocally writes a terminal failed log for a validation problem. The provider is not called.
func (d *ChannelDispatcherImpl) failLocally(ctx context.Context, sendLog *models.SendLog, code string) (*models.SendLog, error) {
	now := d.clock()
	sendLog.Status = models.SendLogStatusFailed
	sendLog.ResultCode = utils.ToPtr(code)
	sendLog.ResultMessage = utils.ToPtr(recipientErrorMessage(code))
	sendLog.CompletedAt = &now

	if err := d.sendLogRepo.Save(context.WithoutCancel(ctx), sendLog); err != nil {
		return nil, fmt.Errorf("failed to store failed send log: %w", err)
	}
	metrics.DispatchTotal.WithLabelValues(sendLog.Channel.String(), sendLog.Status.String()).Inc()
	return sendLog, nil
}

func recipientErrorMessage(code string) string {
	if code == models.ResultCodeRecipientMissing {
		return "recipient field is empty or missing"
	}
	return "recipient address is malformed for the channel"
}

// ResolveRecipient normalizes a raw recipient value for a channel. It returns a
// local result code when the value is missing or malformed.
func ResolveRecipient(channel models.Channel, raw any) (string, string) {
	value := strings.TrimSpace(Stringify(raw))
	if value == "" {
		return "", models.ResultCodeRecipientMissing
	}

	switch channel {
	case models.ChannelEmail:
		if err := recipientValidator.Var(value, "required,email"); err != nil {
			return "", models.ResultCodeRecipientInvalid
		}
		return strings.ToLower(value), ""
	case models.ChannelChat:
		digits := strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(value)
		if len(digits) < 8 || len(digits) > 15 {
			return "", models.ResultCodeRecipientInvalid
		}
		if err := recipientValidator.Var(digits, "number"); err != nil {
			return "", models.ResultCodeRecipientInvalid
		}
		return digits, ""
	default:
		return "", models.ResultCodeRecipientInvalid
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
