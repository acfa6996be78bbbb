package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/tradeflow/pkg/config"
)

const dryRunSender = "dry-run@localhost"

// smtpClient is the subset of *smtp.Client the channel drives
type smtpClient interface {
	Hello(localName string) error
	StartTLS(cfg *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Dialer opens an SMTP session to addr
type Dialer func(addr string) (smtpClient, error)

func dialSMTP(addr string) (smtpClient, error) {
	c, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EmailChannel sends summaries over SMTP
type EmailChannel struct {
	cfg  config.SMTPConfig
	dial Dialer
}

// NewEmailChannel creates a channel for cfg; dial may be nil
func NewEmailChannel(cfg config.SMTPConfig, dial Dialer) *EmailChannel {
	if dial == nil {
		dial = dialSMTP
	}
	return &EmailChannel{cfg: cfg, dial: dial}
}

// Subject returns the message subject
func Subject(s Summary) string {
	return fmt.Sprintf("[%s][%s] Daily report summary", s.AsOf, s.MarketState)
}

// Body renders the plain-text message body
func Body(s Summary) string {
	lines := []string{
		fmt.Sprintf("Daily report for %s (market state: %s).", s.AsOf, s.MarketState),
		fmt.Sprintf("Generated at %s UTC.", s.GeneratedAt.UTC().Format(time.RFC3339)),
		"",
	}

	if len(s.Alerts) > 0 {
		lines = append(lines, "Risk alerts:")
		for _, a := range s.Alerts {
			lines = append(lines, fmt.Sprintf("- %s [%s] value=%.4f threshold=%.4f: %s",
				a.Symbol, a.Type, a.Value, a.Threshold, a.Reason))
		}
	} else {
		lines = append(lines, "No risk alerts triggered.")
	}
	lines = append(lines, "")

	if len(s.Orders) > 0 {
		lines = append(lines, "Proposed orders:")
		for _, o := range s.Orders {
			lines = append(lines, fmt.Sprintf("- %s %.2f %s @ %.2f %s",
				o.Side, o.Quantity, o.Symbol, o.Notional, s.BaseCurrency))
		}
	} else {
		lines = append(lines, "No new orders proposed.")
	}

	if len(s.Exits) > 0 {
		lines = append(lines, "", "Exit candidates: "+strings.Join(s.Exits, ", "))
	}

	lines = append(lines, "", "Proposal status: "+s.ActionsStatus)
	if s.Turnover != nil {
		lines = append(lines, fmt.Sprintf("Turnover: %.2f%%", *s.Turnover*100))
	}

	if len(s.Notes) > 0 {
		lines = append(lines, "", "Notes:")
		for _, note := range s.Notes {
			lines = append(lines, "- "+note)
		}
	}

	lines = append(lines, "", "Artifacts:")
	for _, l := range artifactLines(s) {
		lines = append(lines, "- "+l)
	}
	return strings.Join(lines, "\n")
}

// compose builds the RFC 5322 message with CRLF line endings
func compose(s Summary, recipient, sender string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Subject: %s\r\n", Subject(s))
	fmt.Fprintf(&buf, "To: %s\r\n", recipient)
	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(Body(s), "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Send delivers the summary to recipient; dry runs return a preview
func (c *EmailChannel) Send(ctx context.Context, s Summary, recipient string, dryRun bool) (Status, error) {
	sender := c.cfg.Sender
	if sender == "" {
		if !dryRun {
			return Status{}, fmt.Errorf("%w: EMAIL_SENDER not configured", ErrNotification)
		}
		sender = dryRunSender
	}

	if dryRun {
		preview := strings.Join([]string{
			"Subject: " + Subject(s),
			"To: " + recipient,
			"From: " + sender,
			"",
		}, "\n") + Body(s)
		return Status{Channel: ChannelEmail, Delivered: true, Details: preview}, nil
	}

	if c.cfg.Host == "" {
		return Status{}, fmt.Errorf("%w: SMTP_HOST not configured", ErrNotification)
	}
	if (c.cfg.Username == "") != (c.cfg.Password == "") {
		return Status{}, fmt.Errorf("%w: both SMTP_USERNAME and SMTP_PASSWORD must be set for authentication", ErrNotification)
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	if err := c.deliver(sender, recipient, compose(s, recipient, sender)); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrNotification, err)
	}
	return Status{Channel: ChannelEmail, Delivered: true}, nil
}

func (c *EmailChannel) deliver(sender, recipient string, msg []byte) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	client, err := c.dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return err
	}
	if c.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if c.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(sender); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
