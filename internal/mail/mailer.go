package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/util"
)

// Mailer sends plain-text reminder emails over SMTP.
type Mailer struct {
	addr     string
	host     string
	username string
	password string
	from     string
}

func NewMailer(cfg *config.SMTPConfig) *Mailer {
	return &Mailer{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

// Enabled reports whether SMTP credentials are configured.
func (m *Mailer) Enabled() bool {
	return m.username != "" && m.password != ""
}

// Send delivers a plain-text message to a single recipient.
func (m *Mailer) Send(to, subject, body string) error {
	if !m.Enabled() {
		util.Info("SMTP not configured, email not sent",
			zap.String("subject", subject))
		return nil
	}

	var msg strings.Builder
	msg.WriteString("From: " + m.from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	if err := smtp.SendMail(m.addr, auth, m.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	util.Info("Email sent",
		zap.String("subject", subject))

	return nil
}
