package notifier

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrEmailDelivery marks a failed email send. It never affects the in-app
// notification written for the same alert.
var ErrEmailDelivery = errors.New("email delivery failed")

// Sender is the outbound email capability.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPConfig holds the settings for SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers HTML email through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrEmailDelivery, err)
	}

	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%w: line break in recipient or subject", ErrEmailDelivery)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.cfg.From, to, mime.QEncoding.Encode("utf-8", subject), htmlBody))

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("%w: send to %s via %s: %w", ErrEmailDelivery, to, addr, err)
	}
	return nil
}

// LogSender only logs the email. It is used when SMTP is not configured.
type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(logger logrus.FieldLogger) *LogSender {
	return &LogSender{log: logger.WithField("component", "email")}
}

func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("Email would be sent (SMTP not configured)")
	return nil
}
