package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"beliefcoach.app/cloud/internal/logger"
)

var ErrNotConfigured = errors.New("SMTP configuration missing")

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers plain-text mail through one SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if s.cfg.Host == "" || s.cfg.Port == "" || s.cfg.From == "" {
		logger.Error("SMTP configuration missing")
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("email: header injection in recipient or subject")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", s.cfg.From, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogSender only logs. It is used when SMTP is not configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, subject, _ string) error {
	logger.Info("Email delivery disabled, skipping", map[string]interface{}{
		"subject": subject,
		"to":      to,
	})
	return nil
}

// LicenseMessage builds the license delivery mail.
func LicenseMessage(licenseKey, baseURL string) (subject, body string) {
	subject = "Your Belief Coach Pro license"
	body = fmt.Sprintf("Thanks for subscribing to Belief Coach Pro.\r\n\r\n"+
		"Your license key:\r\n\r\n    %s\r\n\r\n"+
		"Paste it into the app, or open %s/app?key=%s to activate this browser.\r\n\r\n"+
		"Keep this key private. It unlocks Pro for as long as your subscription is active.\r\n",
		licenseKey, baseURL, licenseKey)
	return subject, body
}
