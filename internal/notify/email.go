package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// DefaultFromName signs outgoing mail when no sender name is configured.
const DefaultFromName = "HealthCare+"

// Email provider names accepted by NewEmailSender.
const (
	ProviderAuto     = "auto"
	ProviderSendGrid = "sendgrid"
	ProviderSES      = "ses"
	ProviderStub     = "stub"
)

// EmailSender defines the interface for sending emails.
// Implementations can be swapped (SendGrid, SES, stub) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
}

// SenderConfig selects and configures an email provider.
type SenderConfig struct {
	Provider       string
	SendGridAPIKey string
	FromEmail      string
	FromName       string
}

// NewEmailSender picks a provider. "auto" prefers SendGrid, then SES when a
// client is supplied, and otherwise falls back to the logging stub.
func NewEmailSender(cfg SenderConfig, sesClient SESAPI, logger *logging.Logger) (EmailSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAuto
	}
	sendgridReady := cfg.SendGridAPIKey != "" && cfg.FromEmail != ""
	sesReady := sesClient != nil && cfg.FromEmail != ""

	switch provider {
	case ProviderSendGrid:
		if !sendgridReady {
			return nil, fmt.Errorf("notify: sendgrid requires SENDGRID_API_KEY and EMAIL_FROM_ADDRESS")
		}
		return newSendGridFromConfig(cfg, logger), nil
	case ProviderSES:
		if !sesReady {
			return nil, fmt.Errorf("notify: ses requires an AWS client and EMAIL_FROM_ADDRESS")
		}
		return NewSESSender(sesClient, SESConfig{FromEmail: cfg.FromEmail, FromName: cfg.FromName}, logger), nil
	case ProviderStub:
		return NewStubEmailSender(logger), nil
	case ProviderAuto:
		switch {
		case sendgridReady:
			return newSendGridFromConfig(cfg, logger), nil
		case sesReady:
			return NewSESSender(sesClient, SESConfig{FromEmail: cfg.FromEmail, FromName: cfg.FromName}, logger), nil
		default:
			logger.Warn("email notifications disabled (no provider configured)")
			return NewStubEmailSender(logger), nil
		}
	default:
		return nil, fmt.Errorf("notify: unknown email provider %q", cfg.Provider)
	}
}

func newSendGridFromConfig(cfg SenderConfig, logger *logging.Logger) *SendGridSender {
	return NewSendGridSender(SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
	}, logger)
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(client *sendgrid.Client, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}

// StubEmailSender is a no-op sender for testing or when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
