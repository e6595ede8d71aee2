package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotSelection is a user's choice to draw some quantity from an existing lot.
// Quantity only matters while Selected is true.
type LotSelection struct {
	LotID    string
	Selected bool
	Quantity decimal.Decimal
}

// DraftID identifies a new-lot draft within one reconciler. It is local to
// the session and never sent upstream.
type DraftID int64

// NewLotDraft describes a lot that will be created as a side effect of the
// allocation commit.
type NewLotDraft struct {
	TempID      DraftID
	Code        string
	BatchNumber string
	Name        string
	Note        string
	ExpiryDate  *time.Time
	// Quantity is invalid until the user enters a parseable value
	Quantity decimal.NullDecimal
}

// hasPositiveQuantity reports whether the draft may be submitted
func (d NewLotDraft) hasPositiveQuantity() bool {
	return d.Quantity.Valid && d.Quantity.Decimal.IsPositive()
}

// quantityOrZero is the draft's contribution to the running total
func (d NewLotDraft) quantityOrZero() decimal.Decimal {
	if !d.Quantity.Valid {
		return decimal.Zero
	}
	return d.Quantity.Decimal
}

// DraftField names an editable NewLotDraft field
type DraftField string

const (
	DraftFieldCode        DraftField = "code"
	DraftFieldBatchNumber DraftField = "batchNumber"
	DraftFieldName        DraftField = "name"
	DraftFieldNote        DraftField = "note"
	DraftFieldExpiryDate  DraftField = "expiryDate"
	DraftFieldQuantity    DraftField = "quantity"
)

// ParseDraftField accepts both camelCase and snake_case field names
func ParseDraftField(s string) (DraftField, bool) {
	switch s {
	case "code":
		return DraftFieldCode, true
	case "batchNumber", "batch_number":
		return DraftFieldBatchNumber, true
	case "name":
		return DraftFieldName, true
	case "note":
		return DraftFieldNote, true
	case "expiryDate", "expiry_date":
		return DraftFieldExpiryDate, true
	case "quantity":
		return DraftFieldQuantity, true
	default:
		return "", false
	}
}

// NewLotData is the payload for a lot created together with its allocation
type NewLotData struct {
	Code        string     `json:"code"`
	BatchNumber string     `json:"batchNumber"`
	Name        string     `json:"name"`
	Note        string     `json:"note"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

// AllocationEntry draws Quantity either from an existing lot (LotID set) or
// from a lot created atomically with the commit (NewLot set).
type AllocationEntry struct {
	LotID    string
	Quantity decimal.Decimal
	NewLot   *NewLotData
}

// IsNewLot reports whether the entry creates a lot
func (e AllocationEntry) IsNewLot() bool {
	return e.NewLot != nil
}

// AllocationPlan is the normalized, submit-ready allocation of one receipt
// detail line. Its quantities sum to the line's required quantity within
// Epsilon and it always has at least one entry.
type AllocationPlan struct {
	DetailID    string
	Allocations []AllocationEntry
}

// Total returns the sum of all entry quantities
func (p *AllocationPlan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Allocations {
		total = total.Add(e.Quantity)
	}
	return total
}

// ExistingLotIDs returns the ids of existing lots drawn by the plan
func (p *AllocationPlan) ExistingLotIDs() []string {
	ids := make([]string, 0, len(p.Allocations))
	for _, e := range p.Allocations {
		if !e.IsNewLot() {
			ids = append(ids, e.LotID)
		}
	}
	return ids
}
