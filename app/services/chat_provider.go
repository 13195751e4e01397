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

type chatSendRequest struct {
	Recipient string `json:"recipient"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type chatMessageResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	CompletedAt *time.Time `json:"completedAt"`
}

// HTTPChatProvider talks to a JSON chat-notification gateway
type HTTPChatProvider struct {
	cfg    config.ChatConfig
	client *jsonClient
}

// NewHTTPChatProvider creates a chat provider from configuration
func NewHTTPChatProvider(cfg config.ChatConfig) *HTTPChatProvider {
	return &HTTPChatProvider{
		cfg: cfg,
		client: &jsonClient{
			client:  &http.Client{Timeout: cfg.Timeout},
			headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		},
	}
}

func (p *HTTPChatProvider) Channel() models.Channel { return models.ChannelChat }

func (p *HTTPChatProvider) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	payload := chatSendRequest{
		Recipient: msg.Recipient,
		Title:     msg.Title,
		Text:      msg.Body,
		SenderID:  p.cfg.SenderID,
		Reference: msg.Reference,
	}

	var out chatMessageResponse
	err := p.client.do(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/messages", payload, &out)
	if err != nil {
		var herr *ProviderHTTPError
		if errors.As(err, &herr) && !herr.IsServerError() {
			return rejectionResult(herr), nil
		}
		return nil, fmt.Errorf("chat send failed: %w", err)
	}

	res := &SendResult{
		ProviderRequestID: out.ID,
		ResultCode:        out.Code,
		ResultMessage:     out.Description,
	}
	switch strings.ToLower(out.Status) {
	case "delivered":
		res.Accepted = true
	case "queued", "accepted", "sent":
		res.Accepted = true
		res.InFlight = out.ID != ""
	default:
		res.Accepted = false
		if res.ResultCode == "" {
			res.ResultCode = strings.ToUpper(out.Status)
		}
	}
	return res, nil
}

func (p *HTTPChatProvider) QueryStatus(ctx context.Context, providerRequestID string) (*StatusResult, error) {
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/messages/" + url.PathEscape(providerRequestID)

	var out chatMessageResponse
	if err := p.client.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, fmt.Errorf("chat status query failed: %w", err)
	}

	res := &StatusResult{ResultCode: out.Code, ResultMessage: out.Description, TerminalAt: out.CompletedAt}
	switch strings.ToLower(out.Status) {
	case "delivered", "read":
		res.State = DeliveryStateDelivered
	case "failed", "undelivered", "expired":
		res.State = DeliveryStateFailed
	case "rejected", "blocked":
		res.State = DeliveryStateRejected
	default:
		res.State = DeliveryStatePending
	}
	return res, nil
}
