package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
)

// SMTPSender delivers email through a plain SMTP relay. When no host is
// configured it logs the message instead, which keeps local development
// working without a relay.
type SMTPSender struct {
	host   string
	port   int
	from   string
	logger *slog.Logger
}

// NewSMTPSender constructs SMTPSender.
func NewSMTPSender(host string, port int, from string, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{host: host, port: port, from: from, logger: logger}
}

// Send delivers one message.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if s.host == "" {
		s.logger.Info("smtp relay not configured, logging email instead",
			slog.String("to", to),
			slog.String("subject", subject))
		return nil
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("jobs: send mail: %w", err)
	}
	return nil
}
