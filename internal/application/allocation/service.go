package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/katecvn/backoffice/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const spanService = "allocation"

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 100
)

// ErrDraftNotFound is returned when a new-lot draft id is unknown
var ErrDraftNotFound = shared.NewDomainError("NOT_FOUND", "New lot draft not found")

// ServiceConfig tunes session lifetime and commit locking
type ServiceConfig struct {
	SessionTTL      time.Duration
	JanitorInterval time.Duration
	SubmitLockTTL   time.Duration
}

// AllocationService drives lot allocation sessions for warehouse receipt
// detail lines: it loads the lot catalog, applies the user's edits and
// commits the resulting plan exactly once.
type AllocationService struct {
	catalog     allocation.LotCatalog
	submitter   allocation.AllocationSubmitter
	guard       SubmitGuard
	invalidator CatalogInvalidator
	audit       AuditRecorder
	auditReader AuditReader
	metrics     Metrics
	registry    *Registry
	cfg         ServiceConfig
	logger      *zap.Logger
}

// NewAllocationService creates a new AllocationService
func NewAllocationService(
	catalog allocation.LotCatalog,
	submitter allocation.AllocationSubmitter,
	cfg ServiceConfig,
	logger *zap.Logger,
) *AllocationService {
	if cfg.SubmitLockTTL <= 0 {
		cfg.SubmitLockTTL = 30 * time.Second
	}
	s := &AllocationService{
		catalog:   catalog,
		submitter: submitter,
		metrics:   NoopMetrics{},
		cfg:       cfg,
		logger:    logger,
	}
	s.registry = NewRegistry(cfg.SessionTTL, cfg.JanitorInterval, s.onEvict)
	return s
}

// SetSubmitGuard sets the cross-process commit lock
func (s *AllocationService) SetSubmitGuard(guard SubmitGuard) {
	s.guard = guard
}

// SetCatalogInvalidator sets the cache invalidated after a commit
func (s *AllocationService) SetCatalogInvalidator(inv CatalogInvalidator) {
	s.invalidator = inv
}

// SetAuditRecorder sets the audit sink for commit attempts
func (s *AllocationService) SetAuditRecorder(audit AuditRecorder) {
	s.audit = audit
}

// SetAuditReader sets the source for AuditHistory
func (s *AllocationService) SetAuditReader(r AuditReader) {
	s.auditReader = r
}

// SetMetrics sets the metrics sink
func (s *AllocationService) SetMetrics(m Metrics) {
	if m == nil {
		m = NoopMetrics{}
	}
	s.metrics = m
}

// Shutdown stops the session janitor
func (s *AllocationService) Shutdown() error {
	return s.registry.Close()
}

// Open creates a session for a detail line and loads its lots. A catalog
// failure does not fail Open: the session is returned with FetchError set and
// the line can still be allocated through new lots.
func (s *AllocationService) Open(ctx context.Context, sc identity.SessionContext, req OpenRequest) (*SessionView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, spanService, "open",
		telemetry.WithAttribute("detail_id", req.DetailID),
		telemetry.WithAttribute("product_id", req.ProductID),
	)
	defer span.End()

	if err := sc.Require(identity.PermAllocateReceiptLots); err != nil {
		return nil, err
	}

	rt, err := allocation.ParseReceiptType(req.ReceiptType)
	if err != nil {
		return nil, err
	}
	line := allocation.DetailLine{
		DetailID:    req.DetailID,
		ProductID:   req.ProductID,
		ReceiptType: rt,
		QtyRequired: req.QtyRequired,
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}

	session := allocation.NewSession(uuid.NewString(), sc.UserID, line)
	gen, err := session.BeginLoading()
	if err != nil {
		return nil, err
	}
	s.registry.Put(session)

	lots, fetchErr := s.catalog.FetchAvailableLots(identity.WithSessionContext(ctx, sc), line.ProductID)
	if fetchErr != nil {
		fetchErr = &allocation.FetchError{ProductID: line.ProductID, Err: fetchErr}
		telemetry.RecordError(span, fetchErr)
		s.logger.Warn("Failed to load lots, continuing with new lots only",
			zap.String("session_id", session.ID()),
			zap.String("product_id", line.ProductID),
			zap.Error(fetchErr),
		)
	}

	existing := make([]allocation.AllocationEntry, 0, len(req.Existing))
	for _, e := range req.Existing {
		existing = append(existing, allocation.AllocationEntry{LotID: e.LotID, Quantity: e.Quantity})
	}

	entry, err := s.registry.get(session.ID(), sc.UserID)
	if err != nil {
		return nil, allocation.ErrSessionClosed
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	applied, skipped := session.CompleteLoading(gen, lots, fetchErr, existing)
	if !applied {
		return nil, allocation.ErrSessionClosed
	}
	if len(skipped) > 0 {
		s.logger.Info("Skipped existing allocations not present in the lot catalog",
			zap.String("session_id", session.ID()),
			zap.Int("skipped", len(skipped)),
		)
	}

	s.metrics.SessionOpened(ctx, rt, session.Reconciler().Catalog().Len(), fetchErr != nil)
	s.metrics.ActiveSessions(ctx, 1)
	s.logger.Info("Allocation session opened",
		zap.String("session_id", session.ID()),
		zap.String("detail_id", line.DetailID),
		zap.String("receipt_type", string(rt)),
		zap.String("user_id", sc.UserID),
	)
	return ToSessionView(session), nil
}

// Get returns the current state of a session
func (s *AllocationService) Get(ctx context.Context, sc identity.SessionContext, sessionID string) (*SessionView, error) {
	return s.withSession(ctx, sc, sessionID, func(*allocation.Session) error { return nil })
}

// SearchLots filters the session's catalog by code, batch number or supplier
func (s *AllocationService) SearchLots(ctx context.Context, sc identity.SessionContext, sessionID, query string) ([]LotView, error) {
	entry, err := s.lookup(sc, sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	r := entry.session.Reconciler()
	return selectableLotViews(r, allocation.SearchLots(r.Catalog().Lots(), query)), nil
}

// ToggleLot selects or deselects an existing lot
func (s *AllocationService) ToggleLot(ctx context.Context, sc identity.SessionContext, sessionID, lotID string, checked bool) (*SessionView, error) {
	return s.withSession(ctx, sc, sessionID, func(session *allocation.Session) error {
		return session.ToggleLot(lotID, checked)
	})
}

// SetLotQuantity sets the quantity drawn from a selected lot
func (s *AllocationService) SetLotQuantity(ctx context.Context, sc identity.SessionContext, sessionID, lotID, value string) (*SessionView, error) {
	return s.withSession(ctx, sc, sessionID, func(session *allocation.Session) error {
		return session.SetLotQuantity(lotID, value)
	})
}

// AddDraft appends an empty new-lot draft; it is the last draft of the view
func (s *AllocationService) AddDraft(ctx context.Context, sc identity.SessionContext, sessionID string) (*SessionView, error) {
	return s.withSession(ctx, sc, sessionID, func(session *allocation.Session) error {
		_, err := session.AddNewLotDraft()
		return err
	})
}

// UpdateDraft sets one field of a new-lot draft
func (s *AllocationService) UpdateDraft(ctx context.Context, sc identity.SessionContext, sessionID string, tempID int64, upd DraftUpdate) (*SessionView, error) {
	field, ok := allocation.ParseDraftField(upd.Field)
	if !ok {
		return nil, shared.NewDomainError("INVALID_INPUT", "Unknown new lot field: "+upd.Field)
	}
	return s.withSession(ctx, sc, sessionID, func(session *allocation.Session) error {
		found, err := session.UpdateNewLotDraft(allocation.DraftID(tempID), field, upd.Value)
		if err != nil {
			return err
		}
		if !found {
			return ErrDraftNotFound
		}
		return nil
	})
}

// RemoveDraft deletes a new-lot draft
func (s *AllocationService) RemoveDraft(ctx context.Context, sc identity.SessionContext, sessionID string, tempID int64) (*SessionView, error) {
	return s.withSession(ctx, sc, sessionID, func(session *allocation.Session) error {
		found, err := session.RemoveNewLotDraft(allocation.DraftID(tempID))
		if err != nil {
			return err
		}
		if !found {
			return ErrDraftNotFound
		}
		return nil
	})
}

// Validate builds the plan without committing it
func (s *AllocationService) Validate(ctx context.Context, sc identity.SessionContext, sessionID string) (*PlanView, error) {
	entry, err := s.lookup(sc, sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	plan, err := entry.session.Validate()
	if err != nil {
		s.observeValidation(ctx, err)
		return nil, err
	}
	view := ToPlanView(plan)
	return &view, nil
}

// Submit validates the session and commits its plan. While a commit is in
// flight, further Submit calls for the session fail with
// allocation.ErrSubmitInProgress without reaching the submitter. A rejected
// commit leaves the session editable with the remote error attached.
func (s *AllocationService) Submit(ctx context.Context, sc identity.SessionContext, sessionID string) (*SubmitResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, spanService, "submit",
		telemetry.WithAttribute("session_id", sessionID),
	)
	defer span.End()

	entry, err := s.lookup(sc, sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	session := entry.session
	plan, gen, err := session.BeginSubmit()
	line := session.Line()
	entry.mu.Unlock()
	if err != nil {
		if errors.Is(err, allocation.ErrSubmitInProgress) {
			s.metrics.SubmitFinished(ctx, line.ReceiptType, OutcomeContended, 0)
		} else {
			s.observeValidation(ctx, err)
		}
		return nil, err
	}
	telemetry.SetAttributes(span,
		"detail_id", line.DetailID,
		"allocation_count", len(plan.Allocations),
	)

	// The upstream may apply the plan even if the caller disconnects, so the
	// commit outlives the request but not the commit lock.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitLockTTL)
	defer cancel()

	start := time.Now()
	if s.guard != nil {
		release, err := s.guard.Acquire(ctx, submitLockKey(line.DetailID), s.cfg.SubmitLockTTL)
		if err != nil {
			entry.mu.Lock()
			session.AbortSubmit(gen)
			entry.mu.Unlock()
			s.metrics.SubmitFinished(ctx, line.ReceiptType, OutcomeContended, time.Since(start))
			s.logger.Warn("Commit lock not acquired",
				zap.String("session_id", sessionID),
				zap.String("detail_id", line.DetailID),
				zap.Error(err),
			)
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release commit lock",
					zap.String("detail_id", line.DetailID),
					zap.Error(err),
				)
			}
		}()
	}

	commitErr := s.submitter.CommitAllocation(identity.WithSessionContext(ctx, sc), plan)

	entry.mu.Lock()
	applied := session.CompleteSubmit(gen, commitErr)
	entry.mu.Unlock()

	s.recordAudit(ctx, sessionID, sc.UserID, line, plan, commitErr)

	if commitErr != nil {
		remote := asRemoteError(commitErr)
		telemetry.RecordError(span, remote)
		s.metrics.SubmitFinished(ctx, line.ReceiptType, OutcomeRejected, time.Since(start))
		s.logger.Warn("Allocation commit rejected",
			zap.String("session_id", sessionID),
			zap.String("detail_id", line.DetailID),
			zap.Int("status", remote.StatusCode),
			zap.String("code", remote.Code),
			zap.Error(commitErr),
		)
		return nil, remote
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, line.ProductID); err != nil {
			s.logger.Warn("Failed to invalidate lot cache",
				zap.String("product_id", line.ProductID),
				zap.Error(err),
			)
		}
	}

	if applied {
		s.registry.Remove(sessionID)
		s.metrics.ActiveSessions(ctx, -1)
	} else {
		s.logger.Info("Commit finished after the session was closed",
			zap.String("session_id", sessionID),
		)
	}
	s.metrics.SubmitFinished(ctx, line.ReceiptType, OutcomeCommitted, time.Since(start))
	s.logger.Info("Allocation committed",
		zap.String("session_id", sessionID),
		zap.String("detail_id", line.DetailID),
		zap.String("total", plan.Total().String()),
		zap.Int("allocations", len(plan.Allocations)),
	)

	return &SubmitResult{
		SessionID: sessionID,
		Committed: true,
		Plan:      ToPlanView(plan),
	}, nil
}

// Close discards a session. Outcomes of requests still in flight for it
// are dropped.
func (s *AllocationService) Close(ctx context.Context, sc identity.SessionContext, sessionID string) error {
	entry, err := s.lookup(sc, sessionID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.session.Close()
	entry.mu.Unlock()

	s.registry.Remove(sessionID)
	s.metrics.ActiveSessions(ctx, -1)
	s.logger.Debug("Allocation session closed", zap.String("session_id", sessionID))
	return nil
}

// AuditHistory lists the recorded commit attempts of a detail line. It
// returns an empty list when no audit database is configured.
func (s *AllocationService) AuditHistory(ctx context.Context, sc identity.SessionContext, detailID string, limit int) ([]AuditRecord, error) {
	if err := sc.Require(identity.PermGetWarehouseReceipt); err != nil {
		return nil, err
	}
	if detailID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "detail id is required")
	}
	if s.auditReader == nil {
		return []AuditRecord{}, nil
	}
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	records, err := s.auditReader.ListByDetail(ctx, detailID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocation audits: %w", err)
	}
	return records, nil
}

// ImpliedPermissions returns the closure of the given permission codes
func (s *AllocationService) ImpliedPermissions(codes []string) ([]string, error) {
	selected := identity.NewPermissionSet()
	for _, c := range codes {
		code, err := identity.ParsePermissionCode(c)
		if err != nil {
			return nil, err
		}
		selected[code] = struct{}{}
	}
	implied := identity.ImpliedPermissions(selected).Sorted()
	out := make([]string, 0, len(implied))
	for _, c := range implied {
		out = append(out, string(c))
	}
	return out, nil
}

// lookup checks the allocation permission and returns the caller's session
func (s *AllocationService) lookup(sc identity.SessionContext, sessionID string) (*sessionEntry, error) {
	if err := sc.Require(identity.PermAllocateReceiptLots); err != nil {
		return nil, err
	}
	return s.registry.get(sessionID, sc.UserID)
}

func (s *AllocationService) withSession(ctx context.Context, sc identity.SessionContext, sessionID string, fn func(*allocation.Session) error) (*SessionView, error) {
	entry, err := s.lookup(sc, sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry.session); err != nil {
		s.observeValidation(ctx, err)
		return nil, err
	}
	return ToSessionView(entry.session), nil
}

func (s *AllocationService) observeValidation(ctx context.Context, err error) {
	var verr *allocation.ValidationError
	if errors.As(err, &verr) {
		s.metrics.ValidationFailed(ctx, verr.Kind)
	}
}

func (s *AllocationService) recordAudit(ctx context.Context, sessionID, userID string, line allocation.DetailLine, plan *allocation.AllocationPlan, commitErr error) {
	if s.audit == nil {
		return
	}
	entry := AuditEntry{
		SessionID:      sessionID,
		DetailID:       line.DetailID,
		ProductID:      line.ProductID,
		ReceiptType:    line.ReceiptType,
		UserID:         userID,
		QtyRequired:    line.QtyRequired,
		TotalAllocated: plan.Total(),
		Allocations:    plan.Allocations,
		Status:         AuditStatusCommitted,
	}
	if commitErr != nil {
		entry.Status = AuditStatusRejected
		entry.ErrorMessage = commitErr.Error()
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Failed to record allocation audit",
			zap.String("session_id", sessionID),
			zap.String("detail_id", line.DetailID),
			zap.Error(err),
		)
	}
}

func (s *AllocationService) onEvict(session *allocation.Session) {
	s.metrics.ActiveSessions(context.Background(), -1)
	s.logger.Info("Allocation session expired",
		zap.String("session_id", session.ID()),
		zap.String("detail_id", session.Line().DetailID),
	)
}

func submitLockKey(detailID string) string {
	return fmt.Sprintf("allocation:detail:%s", detailID)
}

func asRemoteError(err error) *allocation.RemoteError {
	var re *allocation.RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &allocation.RemoteError{Message: err.Error()}
}
