package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

const (
	defaultSMTPTimeout = 30 * time.Second
	implicitTLSPort    = 465
	smtpOKStatus       = 250
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// UseTLS upgrades the session with STARTTLS, or dials implicit TLS when
	// Port is 465.
	UseTLS  bool
	Timeout time.Duration
	From    string
}

// SMTPProvider submits each message over a fresh SMTP session.
type SMTPProvider struct {
	cfg  SMTPConfig
	from string
	now  func() time.Time
}

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid smtp port %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	if from == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}

	return &SMTPProvider{
		cfg:  cfg,
		from: from,
		now:  time.Now,
	}, nil
}

func (p *SMTPProvider) Name() string {
	return KindSMTP
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := msg.From
	if from == "" {
		from = p.from
	}

	messageID := newMessageID(from)
	raw, err := buildMIME(msg, from, messageID, p.now())
	if err != nil {
		return nil, &ProviderError{Message: "failed to build message", Cause: err}
	}

	c, err := p.dial()
	if err != nil {
		return nil, smtpFailure("failed to connect to smtp server", err)
	}
	defer c.Close()

	// Abort the session when ctx ends mid-conversation.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.CommandTimeout = p.cfg.Timeout
	c.SubmissionTimeout = p.cfg.Timeout

	if p.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			return nil, smtpFailure("failed to authenticate", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return nil, smtpFailure("failed to set sender", err)
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return nil, smtpFailure("failed to set recipient", err)
	}

	wc, err := c.Data()
	if err != nil {
		return nil, smtpFailure("failed to start data", err)
	}
	if _, err := wc.Write(raw); err != nil {
		_ = wc.Close()
		return nil, smtpFailure("failed to write message", err)
	}
	if err := wc.Close(); err != nil {
		return nil, smtpFailure("failed to close data writer", err)
	}

	// The message is accepted once DATA completes; QUIT failures don't matter.
	_ = c.Quit()

	return &ProviderResponse{
		StatusCode: smtpOKStatus,
		MessageID:  "<" + messageID + ">",
	}, nil
}

func (p *SMTPProvider) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	if !p.cfg.UseTLS {
		return smtp.Dial(addr)
	}

	tlsConfig := &tls.Config{
		ServerName: p.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
	if p.cfg.Port == implicitTLSPort {
		return smtp.DialTLS(addr, tlsConfig)
	}
	return smtp.DialStartTLS(addr, tlsConfig)
}

func newMessageID(from string) string {
	host := "localhost"
	if _, domain, ok := strings.Cut(from, "@"); ok && domain != "" {
		host = domain
	}
	return uuid.NewString() + "@" + host
}

// buildMIME renders msg as an RFC 5322 message. When both bodies are present
// the result is multipart/alternative with the plain-text part first.
func buildMIME(msg Message, from, messageID string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetMessageID(messageID)

	var buf bytes.Buffer

	if msg.BodyText != "" && msg.BodyHTML != "" {
		w, err := mail.CreateInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if err := writeInlinePart(w, "text/plain", msg.BodyText); err != nil {
			return nil, err
		}
		if err := writeInlinePart(w, "text/html", msg.BodyHTML); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	contentType, body := "text/plain", msg.BodyText
	if body == "" && msg.BodyHTML != "" {
		contentType, body = "text/html", msg.BodyHTML
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInlinePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	pw, err := w.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}
