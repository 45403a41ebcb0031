// Package email provides email notification sending via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/notifications"
	"gopkg.in/gomail.v2"
)

// Config holds email sender configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
}

// Sender implements email notification sender via SMTP.
type Sender struct {
	config Config
	dialer *gomail.Dialer
}

// NewSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	dialer := gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.SMTPUser, config.SMTPPassword)
	dialer.TLSConfig = &tls.Config{
		ServerName: config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Sender{
		config: config,
		dialer: dialer,
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeEmail
}

// Send emails the notification. notification.To may hold several
// comma-separated addresses, e.g. an on-call distribution list.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	if !s.config.Enabled {
		slog.Warn("email sender disabled, skipping send")
		return nil
	}

	recipients := splitRecipients(notification.To)
	if len(recipients) == 0 {
		return notifications.NewNonRetryableError(errors.New("email: no recipients"))
	}

	// gomail has no context support; do not start a dial for an abandoned send.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.deliver(s.buildMessage(notification.Subject, notification.Body, recipients), recipients); err != nil {
		if IsRetryable(err) {
			return notifications.NewRetryableError(fmt.Errorf("send email: %w", err))
		}
		return notifications.NewNonRetryableError(fmt.Errorf("send email: %w", err))
	}
	return nil
}

// deliver runs one SMTP transaction on the dialer's SendCloser, so server
// replies reach IsRetryable as *textproto.Error.
func (s *Sender) deliver(msg *gomail.Message, recipients []string) error {
	from, err := mail.ParseAddress(s.config.FromAddress)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return fmt.Errorf("parse recipient %q: %w", r, err)
		}
		to = append(to, addr.Address)
	}

	sc, err := s.dialer.Dial()
	if err != nil {
		return err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			slog.Debug("smtp quit failed", "error", err)
		}
	}()

	return sc.Send(from.Address, to, msg)
}

func (s *Sender) buildMessage(subject, body string, recipients []string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.FromAddress)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

func splitRecipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// IsRetryable determines if an error is retryable: network failures and
// SMTP 4xx replies are, everything else is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	code := replyCode(err)
	return code >= 400 && code < 500
}

// replyCode returns the SMTP reply code carried by err, or 0. Errors that
// were flattened to text keep the code as the first three-digit word.
func replyCode(err error) int {
	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return smtpErr.Code
	}
	for _, word := range strings.Fields(err.Error()) {
		if len(word) != 3 || word[0] < '2' || word[0] > '5' {
			continue
		}
		if code, convErr := strconv.Atoi(word); convErr == nil {
			return code
		}
	}
	return 0
}
