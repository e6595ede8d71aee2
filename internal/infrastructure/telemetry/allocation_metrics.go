package telemetry

import (
	"context"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AllocationMetrics records the lot allocation workflow
type AllocationMetrics struct {
	sessionsOpened   *Counter
	activeSessions   *UpDownCounter
	catalogSize      *Histogram
	validationErrors *Counter
	submits          *Counter
	submitDuration   *Histogram
}

// NewAllocationMetrics creates the allocation instruments on meter
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &AllocationMetrics{}
	var err error

	if m.sessionsOpened, err = NewCounter(meter,
		"backoffice_allocation_sessions_opened_total",
		"Number of lot allocation sessions opened",
		"{sessions}",
	); err != nil {
		return nil, err
	}
	if m.activeSessions, err = NewUpDownCounter(meter,
		"backoffice_allocation_sessions_active",
		"Number of open lot allocation sessions",
		"{sessions}",
	); err != nil {
		return nil, err
	}
	if m.catalogSize, err = NewHistogram(meter, HistogramOpts{
		Name:        "backoffice_allocation_catalog_lots",
		Description: "Number of available lots loaded per session",
		Unit:        "{lots}",
		Boundaries:  []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}); err != nil {
		return nil, err
	}
	if m.validationErrors, err = NewCounter(meter,
		"backoffice_allocation_validation_errors_total",
		"Number of rejected allocation edits and plans",
		"{errors}",
	); err != nil {
		return nil, err
	}
	if m.submits, err = NewCounter(meter,
		"backoffice_allocation_submits_total",
		"Number of allocation submit attempts by outcome",
		"{submits}",
	); err != nil {
		return nil, err
	}
	if m.submitDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "backoffice_allocation_submit_duration_seconds",
		Description: "Time spent committing allocation plans",
		Unit:        "s",
		Boundaries:  UpstreamDurationBuckets,
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// SessionOpened records a newly opened session
func (m *AllocationMetrics) SessionOpened(ctx context.Context, rt allocation.ReceiptType, catalogSize int, fetchFailed bool) {
	m.sessionsOpened.Inc(ctx, AttrReceiptType.String(string(rt)), AttrFetchFailed.Bool(fetchFailed))
	m.catalogSize.Record(ctx, float64(catalogSize), AttrReceiptType.String(string(rt)))
}

// ValidationFailed records a rejected edit or plan
func (m *AllocationMetrics) ValidationFailed(ctx context.Context, kind allocation.ValidationKind) {
	m.validationErrors.Inc(ctx, AttrValidationKind.String(string(kind)))
}

// SubmitFinished records a submit attempt
func (m *AllocationMetrics) SubmitFinished(ctx context.Context, rt allocation.ReceiptType, outcome string, d time.Duration) {
	attrs := []attribute.KeyValue{AttrReceiptType.String(string(rt)), AttrOutcome.String(outcome)}
	m.submits.Inc(ctx, attrs...)
	if d > 0 {
		m.submitDuration.RecordDuration(ctx, d, attrs...)
	}
}

// ActiveSessions adjusts the open session count
func (m *AllocationMetrics) ActiveSessions(ctx context.Context, delta int64) {
	m.activeSessions.Add(ctx, delta)
}
