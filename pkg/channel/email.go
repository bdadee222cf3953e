package channel

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Email sends alerts over SMTP with optional plain authentication.
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	dialer   net.Dialer
}

// NewEmail creates an SMTP email channel.
func NewEmail(host string, port int, username, password, from string, to []string) *Email {
	if port == 0 {
		port = 587
	}
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Deliver(ctx context.Context, alert model.Alert) error {
	if len(e.to) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	client, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if e.username != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write(e.buildMessage(alert)); err != nil {
		wc.Close()
		return fmt.Errorf("write email body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close email body: %w", err)
	}

	return client.Quit()
}

// HealthCheck verifies the SMTP server is reachable.
func (e *Email) HealthCheck(ctx context.Context) bool {
	conn, err := e.dialer.DialContext(ctx, "tcp", e.addr())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (e *Email) addr() string {
	return fmt.Sprintf("%s:%d", e.host, e.port)
}

func (e *Email) connect(ctx context.Context) (*smtp.Client, error) {
	conn, err := e.dialer.DialContext(ctx, "tcp", e.addr())
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", e.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}

func (e *Email) buildMessage(alert model.Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "%s\r\n\r\n", alert.Message)
	fmt.Fprintf(&b, "Metric:    %s\r\n", alert.Metric)
	fmt.Fprintf(&b, "Current:   %.2f\r\n", alert.CurrentValue)
	fmt.Fprintf(&b, "Threshold: %.2f\r\n", alert.ThresholdValue)
	fmt.Fprintf(&b, "At:        %s\r\n", alert.Timestamp.Format(time.RFC3339))
	return []byte(b.String())
}
