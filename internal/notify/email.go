package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/hms-platform/pkg/logging"
)

const defaultFromName = "Hospital Scheduling"

// EmailSender defines the interface for sending emails.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// Categories tag outbound mail so provider dashboards can split clinical
// notices from reports.
const (
	CategoryAppointment = "appointment"
	CategoryReminder    = "reminder"
	CategoryReport      = "monthly-report"
	CategoryExport      = "history-export"
)

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To       string
	ToName   string
	Subject  string
	Body     string // Plain text body
	HTML     string // Optional HTML body
	Category string
	// RefID ties the mail to an appointment, job or report for support lookups.
	RefID string
}

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    sendgridClient
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

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}
	if msg.RefID != "" && len(message.Personalizations) > 0 {
		message.Personalizations[0].SetCustomArg("ref_id", msg.RefID)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "category", msg.Category, "ref_id", msg.RefID, "status", response.StatusCode)
	return nil
}

// StubEmailSender logs instead of sending. Used when EMAIL_PROVIDER=stub.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject, "category", msg.Category, "ref_id", msg.RefID)
	return nil
}

// ProviderConfig selects and configures the outbound email provider.
type ProviderConfig struct {
	Provider  string // sendgrid, ses or stub
	SendGrid  SendGridConfig
	SES       SESConfig
	SESClient SESAPI
}

// NewEmailSender builds the configured sender, falling back to the stub when
// the chosen provider lacks credentials.
func NewEmailSender(cfg ProviderConfig, logger *logging.Logger) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.Provider {
	case "sendgrid":
		if s := NewSendGridSender(cfg.SendGrid, logger); s != nil {
			return s
		}
		logger.Warn("sendgrid selected without api key, using stub email sender")
	case "ses":
		if s := NewSESSender(cfg.SESClient, cfg.SES, logger); s != nil {
			return s
		}
		logger.Warn("ses selected without client, using stub email sender")
	}
	return NewStubEmailSender(logger)
}
