package allocation

import (
	"errors"
	"strings"
	"time"

	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Reconciler holds the selections and new-lot drafts for one receipt detail
// line and turns them into an AllocationPlan.
//
// A Reconciler is not safe for concurrent use; callers serialize edits.
type Reconciler struct {
	receiptType ReceiptType
	catalog     *Catalog
	selections  []LotSelection
	drafts      []NewLotDraft
	nextDraftID DraftID
	lastErr     *ValidationError
}

// NewReconciler creates an empty reconciler over the given catalog
func NewReconciler(receiptType ReceiptType, catalog *Catalog) *Reconciler {
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	return &Reconciler{
		receiptType: receiptType,
		catalog:     catalog,
	}
}

// ReceiptType returns the receipt type the reconciler validates against
func (r *Reconciler) ReceiptType() ReceiptType {
	return r.receiptType
}

// Catalog returns the lots the reconciler selects from
func (r *Reconciler) Catalog() *Catalog {
	return r.catalog
}

// LastError returns the most recently reported validation error, if any
func (r *Reconciler) LastError() *ValidationError {
	return r.lastErr
}

// ToggleLot selects or deselects an existing lot. Selecting an already
// selected lot is a no-op; a new selection starts at quantity zero.
func (r *Reconciler) ToggleLot(lotID string, checked bool) error {
	r.lastErr = nil

	idx := r.selectionIndex(lotID)
	if !checked {
		if idx >= 0 {
			r.selections = append(r.selections[:idx], r.selections[idx+1:]...)
		}
		return nil
	}

	if _, ok := r.catalog.Find(lotID); !ok {
		return errLotNotInCatalog(lotID)
	}
	if idx >= 0 {
		return nil
	}
	r.selections = append(r.selections, LotSelection{
		LotID:    lotID,
		Selected: true,
		Quantity: decimal.Zero,
	})
	return nil
}

// SetLotQuantity updates the quantity drawn from a selected lot. Rejected
// input leaves the previous quantity in place. Unless the receipt is an
// import, the quantity may not exceed the lot's on-hand stock.
func (r *Reconciler) SetLotQuantity(lotID, value string) error {
	lot, ok := r.catalog.Find(lotID)
	if !ok {
		return errLotNotInCatalog(lotID)
	}
	idx := r.selectionIndex(lotID)
	if idx < 0 {
		return errLotNotSelected(lot)
	}

	q, err := ParseQuantity(value)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		verr.LotID = lot.ID
		verr.LotCode = lot.DisplayCode()
		r.lastErr = verr
		return verr
	}

	if r.receiptType.CapsToOnHand() && q.GreaterThan(lot.CurrentQuantity) {
		verr := errLotQuantityExceedsStock(lot)
		r.lastErr = verr
		return verr
	}

	r.selections[idx].Quantity = q
	if r.lastErr != nil && r.lastErr.LotID == lotID {
		r.lastErr = nil
	}
	return nil
}

// AddNewLotDraft appends an empty draft with a fresh id
func (r *Reconciler) AddNewLotDraft() NewLotDraft {
	r.nextDraftID++
	draft := NewLotDraft{TempID: r.nextDraftID}
	r.drafts = append(r.drafts, draft)
	return draft
}

// UpdateNewLotDraft sets one field of a draft. It reports false when no draft
// has the given id. An unparseable quantity is stored as missing and caught
// by BuildPlan; an unparseable expiry date is rejected.
func (r *Reconciler) UpdateNewLotDraft(id DraftID, field DraftField, value string) (bool, error) {
	idx := r.draftIndex(id)
	if idx < 0 {
		return false, nil
	}
	d := &r.drafts[idx]

	switch field {
	case DraftFieldCode:
		d.Code = value
	case DraftFieldBatchNumber:
		d.BatchNumber = value
	case DraftFieldName:
		d.Name = value
	case DraftFieldNote:
		d.Note = value
	case DraftFieldExpiryDate:
		expiry, err := parseExpiryDate(value)
		if err != nil {
			return false, err
		}
		d.ExpiryDate = expiry
	case DraftFieldQuantity:
		if strings.TrimSpace(value) == "" {
			d.Quantity = decimal.NullDecimal{}
			break
		}
		q, err := ParseQuantity(value)
		if err != nil {
			d.Quantity = decimal.NullDecimal{}
			break
		}
		d.Quantity = decimal.NewNullDecimal(q)
	default:
		return false, shared.NewDomainError("INVALID_INPUT", "Unknown new lot field: "+string(field))
	}
	return true, nil
}

// RemoveNewLotDraft deletes a draft and clears any reported validation error
func (r *Reconciler) RemoveNewLotDraft(id DraftID) bool {
	r.lastErr = nil
	idx := r.draftIndex(id)
	if idx < 0 {
		return false
	}
	r.drafts = append(r.drafts[:idx], r.drafts[idx+1:]...)
	return true
}

// TotalSelected sums the quantities of selected lots and of all drafts.
// Drafts without a valid quantity contribute zero.
func (r *Reconciler) TotalSelected() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.selections {
		if s.Selected {
			total = total.Add(s.Quantity)
		}
	}
	for _, d := range r.drafts {
		total = total.Add(d.quantityOrZero())
	}
	return total
}

// BuildPlan validates the current selections and drafts against the required
// quantity and produces the submit-ready plan. Existing-lot entries come first
// in selection order, followed by new lots in creation order.
//
// An empty reconciler always fails with NoAllocationChosen, whatever the
// required quantity.
func (r *Reconciler) BuildPlan(detailID string, qtyRequired decimal.Decimal) (*AllocationPlan, error) {
	if len(r.selections) == 0 && len(r.drafts) == 0 {
		return nil, r.fail(errNoAllocationChosen())
	}

	total := r.TotalSelected()
	if !WithinEpsilon(total, qtyRequired) {
		return nil, r.fail(errQuantityMismatch(total, qtyRequired))
	}

	for _, d := range r.drafts {
		if !d.hasPositiveQuantity() {
			return nil, r.fail(errInvalidNewLotQuantity(d.TempID))
		}
	}

	entries := make([]AllocationEntry, 0, len(r.selections)+len(r.drafts))
	for _, s := range r.selections {
		if s.Selected && s.Quantity.IsPositive() {
			entries = append(entries, AllocationEntry{LotID: s.LotID, Quantity: s.Quantity})
		}
	}
	if len(entries) == 0 && len(r.drafts) == 0 {
		return nil, r.fail(errNoAllocationChosen())
	}

	for _, d := range r.drafts {
		entries = append(entries, AllocationEntry{
			Quantity: d.Quantity.Decimal,
			NewLot: &NewLotData{
				Code:        d.Code,
				BatchNumber: d.BatchNumber,
				Name:        d.Name,
				Note:        d.Note,
				ExpiryDate:  d.ExpiryDate,
			},
		})
	}

	r.lastErr = nil
	return &AllocationPlan{DetailID: detailID, Allocations: entries}, nil
}

// Seed pre-populates selections from allocations the server already
// confirmed. Confirmed quantities are not capped by on-hand stock. Entries
// for lots outside the catalog, new-lot entries and non-positive quantities
// are skipped and returned.
func (r *Reconciler) Seed(existing []AllocationEntry) []AllocationEntry {
	var skipped []AllocationEntry
	for _, e := range existing {
		if e.IsNewLot() || !e.Quantity.IsPositive() {
			skipped = append(skipped, e)
			continue
		}
		if _, ok := r.catalog.Find(e.LotID); !ok {
			skipped = append(skipped, e)
			continue
		}
		if idx := r.selectionIndex(e.LotID); idx >= 0 {
			r.selections[idx].Quantity = r.selections[idx].Quantity.Add(e.Quantity)
			continue
		}
		r.selections = append(r.selections, LotSelection{LotID: e.LotID, Selected: true, Quantity: e.Quantity})
	}
	return skipped
}

// Selections returns a copy of the current selections in selection order
func (r *Reconciler) Selections() []LotSelection {
	out := make([]LotSelection, len(r.selections))
	copy(out, r.selections)
	return out
}

// Selection returns the selection for a lot, if any
func (r *Reconciler) Selection(lotID string) (LotSelection, bool) {
	if idx := r.selectionIndex(lotID); idx >= 0 {
		return r.selections[idx], true
	}
	return LotSelection{}, false
}

// Drafts returns a copy of the drafts in creation order
func (r *Reconciler) Drafts() []NewLotDraft {
	out := make([]NewLotDraft, len(r.drafts))
	copy(out, r.drafts)
	return out
}

func (r *Reconciler) fail(err *ValidationError) error {
	r.lastErr = err
	return err
}

func (r *Reconciler) selectionIndex(lotID string) int {
	for i, s := range r.selections {
		if s.LotID == lotID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) draftIndex(id DraftID) int {
	for i, d := range r.drafts {
		if d.TempID == id {
			return i
		}
	}
	return -1
}

// parseExpiryDate accepts an ISO date or an RFC3339 timestamp; empty clears it
func parseExpiryDate(value string) (*time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	return nil, shared.NewDomainError("INVALID_INPUT", "Invalid expiry date: "+value)
}
