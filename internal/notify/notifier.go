// Package notify delivers alert events over SMTP. Delivery failures are
// counted, never propagated: a broken mail relay must not stall alerting.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wneessen/go-mail"

	"silicamon/internal/config"
	"silicamon/internal/logger"
	"silicamon/internal/metrics"
	"silicamon/internal/models"
)

// Sender is the transport seam: one delivery attempt to one recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, body string, html bool) error
}

// smtpSender delivers through go-mail.
type smtpSender struct {
	client *mail.Client
	from   string
}

func (s *smtpSender) Send(ctx context.Context, to, subject, body string, html bool) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("recipient address: %w", err)
	}
	msg.Subject(subject)
	if html {
		msg.SetBodyString(mail.TypeTextHTML, body)
	} else {
		msg.SetBodyString(mail.TypeTextPlain, body)
	}
	return s.client.DialAndSendWithContext(ctx, msg)
}

// Notifier dispatches alert emails with rich-to-plain fallback per
// recipient and running delivery counters.
type Notifier struct {
	sender Sender

	sent   atomic.Uint64
	failed atomic.Uint64
}

// Stats holds delivery counters.
type Stats struct {
	Sent        uint64  `json:"sent_count"`
	Failed      uint64  `json:"failed_count"`
	SuccessRate float64 `json:"success_rate"`
}

// New builds a notifier backed by an SMTP client.
func New(cfg config.SMTPConfig) (*Notifier, error) {
	if cfg.Sender == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Sender),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	log := logger.WithComponent("notify")
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("mail notifier initialized")
	return &Notifier{sender: &smtpSender{client: client, from: cfg.Sender}}, nil
}

// NewWithSender builds a notifier over a custom transport.
func NewWithSender(s Sender) *Notifier {
	return &Notifier{sender: s}
}

// Dispatch delivers the alert to each recipient, trying the rich HTML format
// first and falling back to plain text. Returns the delivered count.
func (n *Notifier) Dispatch(ctx context.Context, event *models.AlertEvent, recipients []string) int {
	subject := fmt.Sprintf("MINING ALERT: silica %.2f%% above threshold %.2f%%",
		event.PredictedValue, event.ThresholdAtTime)
	return n.deliverAll(ctx, recipients, subject, alertHTMLBody(event), alertTextBody(event))
}

// SendTest delivers a fixed diagnostic message over the same path, used to
// validate configuration without a real alert.
func (n *Notifier) SendTest(ctx context.Context, recipients []string) int {
	now := time.Now().UTC()
	stats := n.Stats()
	subject := "Test notification - silica monitor"
	return n.deliverAll(ctx, recipients, subject, testHTMLBody(now, stats), testTextBody(now, stats))
}

func (n *Notifier) deliverAll(ctx context.Context, recipients []string, subject, htmlBody, textBody string) int {
	log := logger.WithComponent("notify")
	delivered := 0

	for _, rcpt := range recipients {
		if rcpt == "" {
			continue
		}
		start := time.Now()
		err := n.sender.Send(ctx, rcpt, subject, htmlBody, true)
		if err != nil {
			log.Warn().Err(err).Str("recipient", rcpt).Msg("rich delivery failed, trying plain")
			err = n.sender.Send(ctx, rcpt, subject, textBody, false)
		}
		metrics.NotificationDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			n.failed.Add(1)
			metrics.NotificationsFailedTotal.Inc()
			log.Error().Err(err).Str("recipient", rcpt).Msg("notification delivery failed")
			continue
		}
		n.sent.Add(1)
		metrics.NotificationsSentTotal.Inc()
		delivered++
	}

	log.Info().
		Int("delivered", delivered).
		Int("recipients", len(recipients)).
		Msg("notification batch done")
	return delivered
}

// Stats returns the running delivery counters.
func (n *Notifier) Stats() Stats {
	sent := n.sent.Load()
	failed := n.failed.Load()
	s := Stats{Sent: sent, Failed: failed}
	if total := sent + failed; total > 0 {
		s.SuccessRate = float64(sent) / float64(total) * 100
	}
	return s
}
