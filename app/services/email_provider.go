package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/config"
	"github.com/amirphl/leadrelay/models"
)

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type emailSendRequest struct {
	From      emailAddress `json:"from"`
	To        emailAddress `json:"to"`
	Subject   string       `json:"subject"`
	Text      string       `json:"text"`
	Reference string       `json:"reference,omitempty"`
}

type emailMessageResponse struct {
	MessageID   string     `json:"messageId"`
	Status      string     `json:"status"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	CompletedAt *time.Time `json:"completedAt"`
}

// HTTPEmailProvider sends mail through a transactional email HTTP API
type HTTPEmailProvider struct {
	cfg    config.EmailConfig
	client *jsonClient
}

// NewHTTPEmailProvider creates an email provider from configuration
func NewHTTPEmailProvider(cfg config.EmailConfig) *HTTPEmailProvider {
	return &HTTPEmailProvider{
		cfg: cfg,
		client: &jsonClient{
			client:  &http.Client{Timeout: cfg.Timeout},
			headers: map[string]string{"X-API-Key": cfg.APIKey},
		},
	}
}

func (p *HTTPEmailProvider) Channel() models.Channel { return models.ChannelEmail }

func (p *HTTPEmailProvider) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	payload := emailSendRequest{
		From:      emailAddress{Email: p.cfg.FromEmail, Name: p.cfg.FromName},
		To:        emailAddress{Email: msg.Recipient},
		Subject:   msg.Title,
		Text:      msg.Body,
		Reference: msg.Reference,
	}

	var out emailMessageResponse
	err := p.client.do(ctx, http.MethodPost, strings.TrimRight(p.cfg.APIURL, "/")+"/send", payload, &out)
	if err != nil {
		var herr *ProviderHTTPError
		if errors.As(err, &herr) && !herr.IsServerError() {
			return rejectionResult(herr), nil
		}
		return nil, fmt.Errorf("email send failed: %w", err)
	}

	res := &SendResult{
		ProviderRequestID: out.MessageID,
		ResultCode:        out.Code,
		ResultMessage:     out.Description,
	}
	switch strings.ToLower(out.Status) {
	case "delivered":
		res.Accepted = true
	case "queued", "scheduled", "sent":
		res.Accepted = true
		res.InFlight = out.MessageID != ""
	default:
		if res.ResultCode == "" {
			res.ResultCode = strings.ToUpper(out.Status)
		}
	}
	return res, nil
}

func (p *HTTPEmailProvider) QueryStatus(ctx context.Context, providerRequestID string) (*StatusResult, error) {
	u := strings.TrimRight(p.cfg.APIURL, "/") + "/messages/" + url.PathEscape(providerRequestID)

	var out emailMessageResponse
	if err := p.client.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("email status query failed: %w", err)
	}

	res := &StatusResult{ResultCode: out.Code, ResultMessage: out.Description, TerminalAt: out.CompletedAt}
	switch strings.ToLower(out.Status) {
	case "delivered", "opened", "clicked":
		res.State = DeliveryStateDelivered
	case "bounced", "failed", "dropped":
		res.State = DeliveryStateFailed
	case "rejected", "spam", "blocked":
		res.State = DeliveryStateRejected
	default:
		res.State = DeliveryStatePending
	}
	return res, nil
}
