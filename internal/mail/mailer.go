// Package mail sends password reset messages. Deployments without SMTP get
// a logging mailer so the reset flow stays testable locally.
package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/vaultmind/vaultmind/config"
)

// Mailer delivers a password reset token to a user.
type Mailer interface {
	SendPasswordReset(to, token string) error
}

// New picks the SMTP mailer when a host is configured, otherwise the logger.
func New(cfg config.MailConfig, logger *log.Logger) Mailer {
	if logger == nil {
		logger = log.New(log.Writer(), "[MAIL] ", log.LstdFlags)
	}
	if cfg.SMTPHost == "" {
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// SMTPMailer sends via plain SMTP with optional auth.
type SMTPMailer struct {
	cfg    config.MailConfig
	logger *log.Logger
}

func (m *SMTPMailer) SendPasswordReset(to, token string) error {
	port := m.cfg.SMTPPort
	if port == "" {
		port = "587"
	}
	addr := fmt.Sprintf("%s:%s", m.cfg.SMTPHost, port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}
	body := resetBody(m.cfg.From, to, m.cfg.ResetURL, token)
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(body)); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	m.logger.Printf("password reset sent to %s", to)
	return nil
}

// LogMailer writes the reset link to the log instead of sending it.
type LogMailer struct {
	logger *log.Logger
}

func (m *LogMailer) SendPasswordReset(to, token string) error {
	m.logger.Printf("password reset for %s: token=%s", to, token)
	return nil
}

func resetBody(from, to, resetURL, token string) string {
	link := token
	if resetURL != "" {
		sep := "?token="
		if strings.Contains(resetURL, "?") {
			sep = "&token="
		}
		link = resetURL + sep + token
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Reset your password\r\n")
	b.WriteString("\r\n")
	b.WriteString("A password reset was requested for your account.\r\n\r\n")
	fmt.Fprintf(&b, "Reset link: %s\r\n\r\n", link)
	b.WriteString("If you did not request this, ignore this message.\r\n")
	return b.String()
}
