package allocation

import (
	"context"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/shopspring/decimal"
)

// SubmitGuard provides mutual exclusion for commits of one detail line across
// processes. Acquire fails with allocation.ErrSubmitInProgress when the key is
// already held.
type SubmitGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// CatalogInvalidator drops cached lots for a product after stock changed
type CatalogInvalidator interface {
	Invalidate(ctx context.Context, productID string) error
}

// AuditStatus is the outcome recorded for a commit attempt
type AuditStatus string

const (
	AuditStatusCommitted AuditStatus = "committed"
	AuditStatusRejected  AuditStatus = "rejected"
)

// AuditEntry describes one commit attempt
type AuditEntry struct {
	SessionID      string
	DetailID       string
	ProductID      string
	ReceiptType    allocation.ReceiptType
	UserID         string
	QtyRequired    decimal.Decimal
	TotalAllocated decimal.Decimal
	Allocations    []allocation.AllocationEntry
	Status         AuditStatus
	ErrorMessage   string
}

// AuditRecord is a stored AuditEntry
type AuditRecord struct {
	AuditEntry
	ID        string
	CreatedAt time.Time
}

// AuditRecorder persists commit attempts
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditReader lists stored commit attempts, newest first
type AuditReader interface {
	ListByDetail(ctx context.Context, detailID string, limit int) ([]AuditRecord, error)
}

// Metrics receives allocation workflow measurements
type Metrics interface {
	SessionOpened(ctx context.Context, receiptType allocation.ReceiptType, catalogSize int, fetchFailed bool)
	ValidationFailed(ctx context.Context, kind allocation.ValidationKind)
	SubmitFinished(ctx context.Context, receiptType allocation.ReceiptType, outcome string, duration time.Duration)
	ActiveSessions(ctx context.Context, delta int64)
}

// NoopMetrics discards all measurements
type NoopMetrics struct{}

func (NoopMetrics) SessionOpened(context.Context, allocation.ReceiptType, int, bool) {}
func (NoopMetrics) ValidationFailed(context.Context, allocation.ValidationKind) {}
func (NoopMetrics) SubmitFinished(context.Context, allocation.ReceiptType, string, time.Duration) {}
func (NoopMetrics) ActiveSessions(context.Context, int64) {}

// Submit outcomes reported to Metrics
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
	OutcomeContended = "contended"
)
