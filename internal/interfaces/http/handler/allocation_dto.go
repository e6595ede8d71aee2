package handler

import (
	"time"

	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/shopspring/decimal"
)

// OpenSessionRequest opens an allocation session for a receipt detail line
type OpenSessionRequest struct {
	DetailID    string                      `json:"detail_id" binding:"required,max=64"`
	ProductID   string                      `json:"product_id" binding:"required,max=64"`
	ReceiptType string                      `json:"receipt_type" binding:"required,max=32"`
	QtyRequired decimal.Decimal             `json:"qty_required" binding:"decimal_gte0"`
	Existing    []ExistingAllocationRequest `json:"existing_allocations" binding:"omitempty,max=500,dive"`
}

// ExistingAllocationRequest is an allocation the ERP already confirmed for the line
type ExistingAllocationRequest struct {
	LotID    string          `json:"lot_id" binding:"required,max=64"`
	Quantity decimal.Decimal `json:"quantity" binding:"decimal_gte0"`
}

// ToOpenRequest converts to the application request
func (r OpenSessionRequest) ToOpenRequest() appallocation.OpenRequest {
	existing := make([]appallocation.ExistingAllocation, 0, len(r.Existing))
	for _, e := range r.Existing {
		existing = append(existing, appallocation.ExistingAllocation{LotID: e.LotID, Quantity: e.Quantity})
	}
	return appallocation.OpenRequest{
		DetailID:    r.DetailID,
		ProductID:   r.ProductID,
		ReceiptType: r.ReceiptType,
		QtyRequired: r.QtyRequired,
		Existing:    existing,
	}
}

// ToggleLotRequest selects or deselects a lot
type ToggleLotRequest struct {
	Selected *bool `json:"selected" binding:"required"`
}

// SetLotQuantityRequest carries the raw quantity typed for a selected lot.
// An empty string means 0.
type SetLotQuantityRequest struct {
	Quantity string `json:"quantity" binding:"max=32"`
}

// UpdateDraftRequest sets one field of a new-lot draft
type UpdateDraftRequest struct {
	Field string `json:"field" binding:"required,oneof=code batch_number name note expiry_date quantity"`
	Value string `json:"value" binding:"max=255"`
}

// ImpliedPermissionsRequest lists the permission codes being granted
type ImpliedPermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required,max=200"`
}

// ImpliedPermissionsResponse is the closure of the requested codes
type ImpliedPermissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// AuditRecordResponse is one recorded commit attempt
type AuditRecordResponse struct {
	ID             string                              `json:"id"`
	SessionID      string                              `json:"session_id"`
	DetailID       string                              `json:"detail_id"`
	ProductID      string                              `json:"product_id"`
	ReceiptType    string                              `json:"receipt_type"`
	UserID         string                              `json:"user_id"`
	QtyRequired    decimal.Decimal                     `json:"qty_required"`
	TotalAllocated decimal.Decimal                     `json:"total_allocated"`
	Allocations    []appallocation.AllocationEntryView `json:"allocations"`
	Status         string                              `json:"status"`
	ErrorMessage   string                              `json:"error_message,omitempty"`
	CreatedAt      time.Time                           `json:"created_at"`
}

// ToAuditRecordResponses converts stored audit records for output
func ToAuditRecordResponses(records []appallocation.AuditRecord) []AuditRecordResponse {
	out := make([]AuditRecordResponse, 0, len(records))
	for _, r := range records {
		plan := appallocation.ToPlanView(&allocation.AllocationPlan{
			DetailID:    r.DetailID,
			Allocations: r.Allocations,
		})
		out = append(out, AuditRecordResponse{
			ID:             r.ID,
			SessionID:      r.SessionID,
			DetailID:       r.DetailID,
			ProductID:      r.ProductID,
			ReceiptType:    string(r.ReceiptType),
			UserID:         r.UserID,
			QtyRequired:    r.QtyRequired,
			TotalAllocated: r.TotalAllocated,
			Allocations:    plan.Allocations,
			Status:         string(r.Status),
			ErrorMessage:   r.ErrorMessage,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out
}
