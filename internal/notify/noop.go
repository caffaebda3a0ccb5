package notify

import (
	"context"

	"github.com/makaohq/makao/internal/domain"
)

// Noop discards all events. Used when NATS is not configured; the billing
// core treats these collaborators as best-effort, so a silent sink is a
// valid deployment mode.
type Noop struct{}

var (
	_ domain.NotificationDispatcher = Noop{}
	_ domain.SnapshotRecorder       = Noop{}
	_ domain.TokenIssuer            = Noop{}
)

func (Noop) NotifyInvoice(ctx context.Context, event string, inv *domain.Invoice) error {
	return nil
}

func (Noop) RecordSnapshot(ctx context.Context, inv *domain.Invoice, revision int) error {
	return nil
}

func (Noop) IssueVerificationToken(ctx context.Context, invoiceID string) error {
	return nil
}
