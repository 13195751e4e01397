package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/leadrelay/config"
	"github.com/amirphl/leadrelay/models"
	"github.com/google/uuid"
)

// SMTPEmailProvider delivers mail straight to an SMTP relay. The relay gives no
// delivery report, so an accepted message is final.
type SMTPEmailProvider struct {
	cfg config.EmailConfig
}

// NewSMTPEmailProvider creates an SMTP provider from configuration
func NewSMTPEmailProvider(cfg config.EmailConfig) *SMTPEmailProvider {
	return &SMTPEmailProvider{cfg: cfg}
}

func (p *SMTPEmailProvider) Channel() models.Channel { return models.ChannelEmail }

func (p *SMTPEmailProvider) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	messageID := uuid.New().String()
	err := p.deliver(ctx, msg, messageID)
	if err == nil {
		return &SendResult{Accepted: true, ProviderRequestID: messageID}, nil
	}

	// 5xx replies are permanent rejections of this message
	var perr *textproto.Error
	if errors.As(err, &perr) && perr.Code >= 500 {
		return &SendResult{
			Accepted:      false,
			ResultCode:    "SMTP_" + strconv.Itoa(perr.Code),
			ResultMessage: perr.Msg,
		}, nil
	}
	return nil, fmt.Errorf("smtp send failed: %w", err)
}

func (p *SMTPEmailProvider) QueryStatus(ctx context.Context, providerRequestID string) (*StatusResult, error) {
	return nil, ErrStatusUnsupported
}

func (p *SMTPEmailProvider) deliver(ctx context.Context, msg OutboundMessage, messageID string) error {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}

	var conn net.Conn
	var err error
	implicitTLS := p.cfg.UseTLS && p.cfg.Port == 465
	if implicitTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: p.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if p.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(p.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Quit()

	if !implicitTLS && p.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.cfg.Host}); err != nil {
				return err
			}
		}
	}

	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(p.cfg.FromEmail); err != nil {
		return err
	}
	if err := client.Rcpt(msg.Recipient); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(p.buildMessage(msg, messageID)); err != nil {
		return err
	}
	return w.Close()
}

func (p *SMTPEmailProvider) buildMessage(msg OutboundMessage, messageID string) []byte {
	from := p.cfg.FromEmail
	if p.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", p.cfg.FromName), p.cfg.FromEmail)
	}
	domain := p.cfg.Host
	if at := strings.LastIndex(p.cfg.FromEmail, "@"); at >= 0 {
		domain = p.cfg.FromEmail[at+1:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Title))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", messageID, domain)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
