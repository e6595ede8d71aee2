package allocation

import (
	"errors"
	"strings"
	"time"

	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// SessionState is the lifecycle state of an allocation session
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateLoading    SessionState = "loading"
	StateReady      SessionState = "ready"
	StateEditing    SessionState = "editing"
	StateSubmitting SessionState = "submitting"
)

// Session errors
var (
	ErrSubmitInProgress = shared.NewDomainError("SUBMIT_IN_PROGRESS", "An allocation for this line is already being submitted")
	ErrSessionClosed    = shared.NewDomainError("SESSION_CLOSED", "The allocation session has been closed")
	ErrSessionNotReady  = shared.NewDomainError("INVALID_STATE", "Lots are still loading")
)

// DetailLine is the receipt detail line a session allocates for
type DetailLine struct {
	DetailID    string
	ProductID   string
	ReceiptType ReceiptType
	QtyRequired decimal.Decimal
}

// Validate checks the line before a session is opened for it
func (l DetailLine) Validate() error {
	if err := ValidateDetailID(l.DetailID); err != nil {
		return err
	}
	if l.ProductID == "" {
		return shared.NewDomainError("INVALID_INPUT", "Product ID is required")
	}
	if _, err := ParseReceiptType(string(l.ReceiptType)); err != nil {
		return err
	}
	if l.QtyRequired.IsNegative() {
		return shared.NewDomainError("INVALID_INPUT", "Required quantity cannot be negative")
	}
	return nil
}

// ValidateDetailID checks that id can be used as a single upstream URL path
// segment: not empty, not a dot segment, no separators or escapes.
func ValidateDetailID(id string) error {
	if id == "" {
		return shared.NewDomainError("INVALID_INPUT", "Detail ID is required")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\?#%") {
		return shared.NewDomainError("INVALID_INPUT", "Detail ID contains reserved characters")
	}
	return nil
}

// Session is one opened allocation dialog for one detail line. It owns a
// Reconciler and guards it with the dialog's state machine:
//
//	Idle -> Loading -> Ready -> Editing -> Submitting -> Ready (committed)
//	                                              \-> Editing (with error)
//
// Results of the two asynchronous steps (catalog fetch, commit) are applied
// only if the generation they were started under is still current, so a
// late response after Close is dropped.
//
// A Session is not safe for concurrent use.
type Session struct {
	id         string
	ownerID    string
	line       DetailLine
	state      SessionState
	generation uint64
	closed     bool
	committed  bool
	reconciler *Reconciler
	fetchErr   *FetchError
	remoteErr  *RemoteError
	openedAt   time.Time
	touchedAt  time.Time
}

// NewSession creates an idle session
func NewSession(id, ownerID string, line DetailLine) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		ownerID:    ownerID,
		line:       line,
		state:      StateIdle,
		reconciler: NewReconciler(line.ReceiptType, nil),
		openedAt:   now,
		touchedAt:  now,
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// OwnerID returns the id of the user that opened the session
func (s *Session) OwnerID() string { return s.ownerID }

// Line returns the detail line
func (s *Session) Line() DetailLine { return s.line }

// State returns the current state
func (s *Session) State() SessionState { return s.state }

// IsClosed reports whether the session was closed or committed
func (s *Session) IsClosed() bool { return s.closed }

// IsCommitted reports whether the allocation was accepted upstream
func (s *Session) IsCommitted() bool { return s.committed }

// TouchedAt returns the time of the last state change
func (s *Session) TouchedAt() time.Time { return s.touchedAt }

// Reconciler exposes the reconciler for read-only queries
func (s *Session) Reconciler() *Reconciler { return s.reconciler }

// FetchError returns the catalog failure, if the fetch failed
func (s *Session) FetchError() *FetchError { return s.fetchErr }

// RemoteError returns the last commit failure, if any
func (s *Session) RemoteError() *RemoteError { return s.remoteErr }

// BeginLoading moves an idle session to Loading and returns the generation
// the fetch result must be completed with.
func (s *Session) BeginLoading() (uint64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	if s.state != StateIdle {
		return 0, shared.NewDomainError("INVALID_STATE", "Lots have already been loaded for this session")
	}
	s.generation++
	s.transition(StateLoading)
	return s.generation, nil
}

// CompleteLoading applies a catalog fetch result. It reports false when the
// result is stale and was discarded. A fetch failure leaves an empty catalog
// so the line can still be allocated through new lots.
func (s *Session) CompleteLoading(gen uint64, lots []Lot, fetchErr error, existing []AllocationEntry) (bool, []AllocationEntry) {
	if s.closed || gen != s.generation || s.state != StateLoading {
		return false, nil
	}

	s.fetchErr = nil
	if fetchErr != nil {
		var fe *FetchError
		if !errors.As(fetchErr, &fe) {
			fe = &FetchError{ProductID: s.line.ProductID, Err: fetchErr}
		}
		s.fetchErr = fe
		lots = nil
	}

	s.reconciler = NewReconciler(s.line.ReceiptType, NewCatalog(lots))
	skipped := s.reconciler.Seed(existing)
	s.transition(StateReady)
	return true, skipped
}

// ToggleLot selects or deselects an existing lot
func (s *Session) ToggleLot(lotID string, checked bool) error {
	return s.edit(func(r *Reconciler) error {
		return r.ToggleLot(lotID, checked)
	})
}

// SetLotQuantity updates the quantity of a selected lot
func (s *Session) SetLotQuantity(lotID, value string) error {
	return s.edit(func(r *Reconciler) error {
		return r.SetLotQuantity(lotID, value)
	})
}

// AddNewLotDraft appends an empty draft
func (s *Session) AddNewLotDraft() (NewLotDraft, error) {
	var draft NewLotDraft
	err := s.edit(func(r *Reconciler) error {
		draft = r.AddNewLotDraft()
		return nil
	})
	return draft, err
}

// UpdateNewLotDraft sets one draft field
func (s *Session) UpdateNewLotDraft(id DraftID, field DraftField, value string) (bool, error) {
	var found bool
	err := s.edit(func(r *Reconciler) error {
		var err error
		found, err = r.UpdateNewLotDraft(id, field, value)
		return err
	})
	return found, err
}

// RemoveNewLotDraft deletes a draft
func (s *Session) RemoveNewLotDraft(id DraftID) (bool, error) {
	var found bool
	err := s.edit(func(r *Reconciler) error {
		found = r.RemoveNewLotDraft(id)
		return nil
	})
	return found, err
}

// Validate builds the plan without submitting it
func (s *Session) Validate() (*AllocationPlan, error) {
	if err := s.ensureEditable(); err != nil {
		return nil, err
	}
	plan, err := s.reconciler.BuildPlan(s.line.DetailID, s.line.QtyRequired)
	s.transition(StateEditing)
	return plan, err
}

// BeginSubmit builds the plan and moves the session to Submitting. While a
// submit is in flight every further BeginSubmit fails with
// ErrSubmitInProgress, so the submitter is invoked at most once per confirm.
func (s *Session) BeginSubmit() (*AllocationPlan, uint64, error) {
	if err := s.ensureEditable(); err != nil {
		return nil, 0, err
	}
	plan, err := s.reconciler.BuildPlan(s.line.DetailID, s.line.QtyRequired)
	if err != nil {
		s.transition(StateEditing)
		return nil, 0, err
	}
	s.remoteErr = nil
	s.transition(StateSubmitting)
	return plan, s.generation, nil
}

// CompleteSubmit applies the commit outcome. Success marks the session
// committed and closes it; failure returns it to Editing with the remote
// error attached. It reports false when the outcome is stale.
func (s *Session) CompleteSubmit(gen uint64, commitErr error) bool {
	if s.closed || gen != s.generation || s.state != StateSubmitting {
		return false
	}
	if commitErr == nil {
		s.committed = true
		s.transition(StateReady)
		s.closed = true
		return true
	}

	var re *RemoteError
	if !errors.As(commitErr, &re) {
		re = &RemoteError{Message: commitErr.Error()}
	}
	s.remoteErr = re
	s.transition(StateEditing)
	return true
}

// AbortSubmit returns a submitting session to Editing without a remote error,
// for when the commit was never sent.
func (s *Session) AbortSubmit(gen uint64) bool {
	if s.closed || gen != s.generation || s.state != StateSubmitting {
		return false
	}
	s.transition(StateEditing)
	return true
}

// Close discards all transient selections and drafts. Results of any fetch
// or commit still in flight are dropped when they arrive.
func (s *Session) Close() {
	s.closed = true
	s.generation++
	s.reconciler = NewReconciler(s.line.ReceiptType, nil)
	s.fetchErr = nil
	s.remoteErr = nil
	s.transition(StateIdle)
}

func (s *Session) edit(fn func(r *Reconciler) error) error {
	if err := s.ensureEditable(); err != nil {
		return err
	}
	if err := fn(s.reconciler); err != nil {
		return err
	}
	s.remoteErr = nil
	s.transition(StateEditing)
	return nil
}

func (s *Session) ensureEditable() error {
	if s.closed {
		return ErrSessionClosed
	}
	switch s.state {
	case StateIdle, StateLoading:
		return ErrSessionNotReady
	case StateSubmitting:
		return ErrSubmitInProgress
	}
	return nil
}

func (s *Session) transition(to SessionState) {
	s.state = to
	s.touchedAt = time.Now()
}
