package allocation

import (
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/shopspring/decimal"
)

// OpenRequest opens an allocation session for a receipt detail line
type OpenRequest struct {
	DetailID    string
	ProductID   string
	ReceiptType string
	QtyRequired decimal.Decimal
	// Existing holds allocations the server already confirmed for the line
	Existing []ExistingAllocation
}

// ExistingAllocation is a confirmed lot allocation used to pre-populate selections
type ExistingAllocation struct {
	LotID    string
	Quantity decimal.Decimal
}

// DraftUpdate sets one field of a new-lot draft
type DraftUpdate struct {
	Field string
	Value string
}

// SessionView is the externally visible state of an allocation session
type SessionView struct {
	ID              string               `json:"id"`
	DetailID        string               `json:"detail_id"`
	ProductID       string               `json:"product_id"`
	ReceiptType     string               `json:"receipt_type"`
	State           string               `json:"state"`
	QtyRequired     decimal.Decimal      `json:"qty_required"`
	TotalSelected   decimal.Decimal      `json:"total_selected"`
	Remaining       decimal.Decimal      `json:"remaining"`
	Balanced        bool                 `json:"balanced"`
	Lots            []LotView            `json:"lots"`
	Selections      []SelectionView      `json:"selections"`
	Drafts          []DraftView          `json:"drafts"`
	FetchError      string               `json:"fetch_error,omitempty"`
	RemoteError     *RemoteErrorView     `json:"remote_error,omitempty"`
	ValidationError *ValidationErrorView `json:"validation_error,omitempty"`
	Committed       bool                 `json:"committed"`
}

// LotView is an available lot with its selection state
type LotView struct {
	ID               string                  `json:"id"`
	Code             string                  `json:"code"`
	BatchNumber      string                  `json:"batch_number"`
	CurrentQuantity  decimal.Decimal         `json:"current_quantity"`
	Unit             allocation.UnitRef      `json:"unit"`
	ExpiryDate       *time.Time              `json:"expiry_date,omitempty"`
	Expired          bool                    `json:"expired"`
	Supplier         *allocation.SupplierRef `json:"supplier,omitempty"`
	UnitCost         *decimal.Decimal        `json:"unit_cost,omitempty"`
	Selected         bool                    `json:"selected"`
	SelectedQuantity decimal.Decimal         `json:"selected_quantity"`
}

// SelectionView is one selected lot in selection order
type SelectionView struct {
	LotID    string          `json:"lot_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// DraftView is a new-lot draft
type DraftView struct {
	TempID      int64            `json:"temp_id"`
	Code        string           `json:"code"`
	BatchNumber string           `json:"batch_number"`
	Name        string           `json:"name"`
	Note        string           `json:"note"`
	ExpiryDate  *time.Time       `json:"expiry_date,omitempty"`
	Quantity    *decimal.Decimal `json:"quantity"`
}

// ValidationErrorView is the inline validation message of a session
type ValidationErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	LotID   string `json:"lot_id,omitempty"`
	DraftID int64  `json:"draft_id,omitempty"`
}

// RemoteErrorView is the last commit failure, shown verbatim
type RemoteErrorView struct {
	Code          string `json:"code,omitempty"`
	Message       string `json:"message"`
	StockConflict bool   `json:"stock_conflict"`
}

// PlanView is a built allocation plan
type PlanView struct {
	DetailID    string                `json:"detail_id"`
	Total       decimal.Decimal       `json:"total"`
	Allocations []AllocationEntryView `json:"allocations"`
}

// AllocationEntryView is one plan entry
type AllocationEntryView struct {
	LotID    string          `json:"lot_id,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	NewLot   *NewLotView     `json:"new_lot,omitempty"`
}

// NewLotView describes a lot that the commit creates
type NewLotView struct {
	Code        string     `json:"code"`
	BatchNumber string     `json:"batch_number"`
	Name        string     `json:"name"`
	Note        string     `json:"note"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// SubmitResult is returned after a successful commit
type SubmitResult struct {
	SessionID string   `json:"session_id"`
	Committed bool     `json:"committed"`
	Plan      PlanView `json:"plan"`
}

// ToSessionView converts a session into its view
func ToSessionView(s *allocation.Session) *SessionView {
	r := s.Reconciler()
	line := s.Line()
	total := r.TotalSelected()

	view := &SessionView{
		ID:            s.ID(),
		DetailID:      line.DetailID,
		ProductID:     line.ProductID,
		ReceiptType:   string(line.ReceiptType),
		State:         string(s.State()),
		QtyRequired:   line.QtyRequired,
		TotalSelected: total,
		Remaining:     line.QtyRequired.Sub(total),
		Balanced:      allocation.WithinEpsilon(total, line.QtyRequired),
		Committed:     s.IsCommitted(),
	}

	view.Lots = selectableLotViews(r, r.Catalog().Lots())

	sels := r.Selections()
	view.Selections = make([]SelectionView, 0, len(sels))
	for _, sel := range sels {
		view.Selections = append(view.Selections, SelectionView{LotID: sel.LotID, Quantity: sel.Quantity})
	}

	drafts := r.Drafts()
	view.Drafts = make([]DraftView, 0, len(drafts))
	for _, d := range drafts {
		view.Drafts = append(view.Drafts, toDraftView(d))
	}

	if fe := s.FetchError(); fe != nil {
		view.FetchError = fe.Error()
	}
	if re := s.RemoteError(); re != nil {
		view.RemoteError = &RemoteErrorView{Code: re.Code, Message: re.Message, StockConflict: re.IsStockConflict()}
	}
	if ve := r.LastError(); ve != nil {
		view.ValidationError = toValidationErrorView(ve)
	}
	return view
}

// selectableLotViews converts lots into views carrying the reconciler's
// selection state
func selectableLotViews(r *allocation.Reconciler, lots []allocation.Lot) []LotView {
	now := time.Now()
	out := make([]LotView, 0, len(lots))
	for _, lot := range lots {
		lv := toLotView(lot, now)
		if sel, ok := r.Selection(lot.ID); ok {
			lv.Selected = sel.Selected
			lv.SelectedQuantity = sel.Quantity
		}
		out = append(out, lv)
	}
	return out
}

func toLotView(lot allocation.Lot, now time.Time) LotView {
	return LotView{
		ID:              lot.ID,
		Code:            lot.Code,
		BatchNumber:     lot.BatchNumber,
		CurrentQuantity: lot.CurrentQuantity,
		Unit:            lot.Unit,
		ExpiryDate:      lot.ExpiryDate,
		Expired:         lot.IsExpired(now),
		Supplier:        lot.Supplier,
		UnitCost:        lot.UnitCost,
	}
}

func toDraftView(d allocation.NewLotDraft) DraftView {
	view := DraftView{
		TempID:      int64(d.TempID),
		Code:        d.Code,
		BatchNumber: d.BatchNumber,
		Name:        d.Name,
		Note:        d.Note,
		ExpiryDate:  d.ExpiryDate,
	}
	if d.Quantity.Valid {
		q := d.Quantity.Decimal
		view.Quantity = &q
	}
	return view
}

func toValidationErrorView(ve *allocation.ValidationError) *ValidationErrorView {
	return &ValidationErrorView{
		Kind:    string(ve.Kind),
		Message: ve.Message,
		LotID:   ve.LotID,
		DraftID: int64(ve.DraftID),
	}
}

// ToPlanView converts a plan into its view
func ToPlanView(p *allocation.AllocationPlan) PlanView {
	view := PlanView{
		DetailID:    p.DetailID,
		Total:       p.Total(),
		Allocations: make([]AllocationEntryView, 0, len(p.Allocations)),
	}
	for _, e := range p.Allocations {
		ev := AllocationEntryView{LotID: e.LotID, Quantity: e.Quantity}
		if e.NewLot != nil {
			ev.NewLot = &NewLotView{
				Code:        e.NewLot.Code,
				BatchNumber: e.NewLot.BatchNumber,
				Name:        e.NewLot.Name,
				Note:        e.NewLot.Note,
				ExpiryDate:  e.NewLot.ExpiryDate,
			}
		}
		view.Allocations = append(view.Allocations, ev)
	}
	return view
}
