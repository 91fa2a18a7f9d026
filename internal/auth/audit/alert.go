package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/auth/models"
)

// Alerter is notified of HIGH severity events.
type Alerter interface {
	Alert(ctx context.Context, event models.AuditEvent) error
}

// NoopAlerter implements Alerter but does nothing
type NoopAlerter struct{}

func (NoopAlerter) Alert(context.Context, models.AuditEvent) error {
	return nil
}

// AlertingConfig holds the SMTP settings for security alert mail.
type AlertingConfig struct {
	Enabled     bool
	SMTPHost    string
	SMTPPort    int
	FromEmail   string
	FromPass    string
	ToEmails    []string
	MinInterval time.Duration // Minimum spacing between two alert mails.
}

type EmailAlerter struct {
	client    *mail.Client
	fromEmail string
	toEmails  []string
	logger    *zap.Logger
}

func NewEmailAlerter(cfg AlertingConfig, logger *zap.Logger) (*EmailAlerter, error) {
	client, err := mail.NewClient(cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.FromEmail),
		mail.WithPassword(cfg.FromPass),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &EmailAlerter{
		client:    client,
		fromEmail: cfg.FromEmail,
		toEmails:  cfg.ToEmails,
		logger:    logger,
	}, nil
}

// NewAlerter returns an EmailAlerter when alerting is enabled and a NoopAlerter otherwise.
func NewAlerter(cfg AlertingConfig, logger *zap.Logger) (Alerter, error) {
	if !cfg.Enabled {
		return NoopAlerter{}, nil
	}
	return NewEmailAlerter(cfg, logger)
}

func (e *EmailAlerter) Alert(ctx context.Context, event models.AuditEvent) error {
	msg := mail.NewMsg()
	if err := msg.From(e.fromEmail); err != nil {
		return fmt.Errorf("failed to set From address: %w", err)
	}

	if err := msg.To(e.toEmails...); err != nil {
		return fmt.Errorf("failed to set To address: %w", err)
	}

	msg.Subject(fmt.Sprintf("Security Alert - %s", event.EventType))
	msg.SetBodyString(mail.TypeTextPlain, formatAlert(event))

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	if e.logger != nil {
		e.logger.Info("Security alert sent",
			zap.String("event_type", string(event.EventType)),
			zap.Strings("to", e.toEmails))
	}
	return nil
}

func formatAlert(event models.AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A %s severity security event was recorded.\n\n", event.Severity)
	fmt.Fprintf(&b, "Event:   %s\n", event.EventType)
	fmt.Fprintf(&b, "Time:    %s\n", event.Timestamp.UTC().Format(time.RFC3339))
	if event.UserID != "" {
		fmt.Fprintf(&b, "User:    %s\n", event.UserID)
	}
	if event.SourceAddress != "" {
		fmt.Fprintf(&b, "Address: %s\n", event.SourceAddress)
	}

	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, event.Details[k])
		}
	}
	return b.String()
}
