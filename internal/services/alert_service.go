package services

import (
	"context"
	"fmt"
	"html"
	"inspiration-api/internal/config"
	"inspiration-api/pkg/logging"
	"strings"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// Alerter notifies operators of problems that need a human
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// AlertService sends operator alerts by email through Brevo
type AlertService struct {
	client      *brevo.APIClient
	fromEmail   string
	fromName    string
	to          string
	serviceName string
}

// NewAlertService creates an alert service from configuration. Without an API key or
// recipient, alerts are only logged.
func NewAlertService(cfg *config.Config) *AlertService {
	s := &AlertService{
		fromEmail:   cfg.BrevoFromEmail,
		fromName:    cfg.BrevoFromName,
		to:          cfg.AlertEmail,
		serviceName: cfg.ServiceName,
	}
	if cfg.BrevoAPIKey != "" && cfg.AlertEmail != "" {
		bc := brevo.NewConfiguration()
		bc.AddDefaultHeader("api-key", cfg.BrevoAPIKey)
		s.client = brevo.NewAPIClient(bc)
	}
	return s
}

// Enabled reports whether alerts leave the process
func (s *AlertService) Enabled() bool {
	return s.client != nil
}

// Alert sends an email to the configured operator address
func (s *AlertService) Alert(ctx context.Context, subject, body string) error {
	subject = fmt.Sprintf("[%s] %s", s.serviceName, subject)
	if s.client == nil {
		logging.Warnf("Alert (email disabled) - subject: %s, body: %s", subject, body)
		return nil
	}

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.fromName,
			Email: s.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: s.to},
		},
		Subject:     subject,
		HtmlContent: alertHTML(subject, body),
		TextContent: body,
	}

	if _, _, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	logging.Infof("Alert email sent - subject: %s", subject)
	return nil
}

func alertHTML(subject, body string) string {
	lines := strings.Split(html.EscapeString(body), "\n")
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>%s</title></head>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h2 style="color: #333;">%s</h2>
	<p style="color: #555; font-size: 14px;">%s</p>
</body>
</html>`, html.EscapeString(subject), html.EscapeString(subject), strings.Join(lines, "<br>"))
}
