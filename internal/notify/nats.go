// Package notify delivers billing events over NATS. Everything here sits
// behind the fire-and-forget interfaces: a publish failure is the caller's
// to log and swallow, never to propagate.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/makaohq/makao/internal/domain"
)

// Subject layout under the configured prefix (default "makao").
const (
	subjectInvoiceEvents = "billing.invoice"  // + "." + event suffix
	subjectSnapshots     = "billing.snapshot"
	subjectTokens        = "billing.token"
)

// Publisher publishes billing events to NATS subjects. It implements the
// NotificationDispatcher, SnapshotRecorder and TokenIssuer seams of the
// billing core.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

var (
	_ domain.NotificationDispatcher = (*Publisher)(nil)
	_ domain.SnapshotRecorder       = (*Publisher)(nil)
	_ domain.TokenIssuer            = (*Publisher)(nil)
)

// Connect dials NATS and returns a Publisher. The connection reconnects
// indefinitely; messages published while disconnected are buffered by the
// client.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "makao"
	}

	conn, err := nats.Connect(url,
		nats.Name("makao-billing"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Close drains the connection, flushing buffered messages.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
	}
}

// invoiceEventMessage is the wire shape of an invoice lifecycle event.
type invoiceEventMessage struct {
	Event         string    `json:"event"`
	InvoiceID     string    `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	CompanyID     string    `json:"company_id"`
	TenantID      string    `json:"tenant_id"`
	Currency      string    `json:"currency"`
	TotalAmount   string    `json:"total_amount"`
	Status        string    `json:"status"`
	DueDate       time.Time `json:"due_date"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NotifyInvoice publishes an invoice lifecycle event. The event name's
// last segment becomes the subject suffix: "invoice.paid" publishes to
// "<prefix>.billing.invoice.paid".
func (p *Publisher) NotifyInvoice(ctx context.Context, event string, inv *domain.Invoice) error {
	msg := invoiceEventMessage{
		Event:         event,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		CompanyID:     inv.CompanyID,
		TenantID:      inv.TenantID,
		Currency:      inv.Currency,
		TotalAmount:   inv.TotalAmount.String(),
		Status:        string(inv.Status),
		DueDate:       inv.DueDate,
		OccurredAt:    time.Now(),
	}
	return p.publish(ctx, p.subject(subjectInvoiceEvents)+"."+eventSuffix(event), msg)
}

// snapshotMessage points the document service at an invoice revision to
// render and archive.
type snapshotMessage struct {
	InvoiceID  string    `json:"invoice_id"`
	CompanyID  string    `json:"company_id"`
	Revision   int       `json:"revision"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordSnapshot requests an immutable invoice rendering.
func (p *Publisher) RecordSnapshot(ctx context.Context, inv *domain.Invoice, revision int) error {
	msg := snapshotMessage{
		InvoiceID:  inv.ID,
		CompanyID:  inv.CompanyID,
		Revision:   revision,
		Status:     string(inv.Status),
		OccurredAt: time.Now(),
	}
	return p.publish(ctx, p.subject(subjectSnapshots), msg)
}

// tokenMessage asks the verification service to mint a token for the
// invoice.
type tokenMessage struct {
	InvoiceID  string    `json:"invoice_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// IssueVerificationToken requests a verification token for the invoice.
func (p *Publisher) IssueVerificationToken(ctx context.Context, invoiceID string) error {
	msg := tokenMessage{InvoiceID: invoiceID, OccurredAt: time.Now()}
	return p.publish(ctx, p.subject(subjectTokens), msg)
}

func (p *Publisher) publish(ctx context.Context, subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) subject(base string) string {
	return p.prefix + "." + base
}

// eventSuffix maps "invoice.paid" to "paid" for subject routing.
func eventSuffix(event string) string {
	for i := len(event) - 1; i >= 0; i-- {
		if event[i] == '.' {
			return event[i+1:]
		}
	}
	return event
}
