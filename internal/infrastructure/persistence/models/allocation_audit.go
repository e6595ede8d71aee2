package models

import (
	"encoding/json"
	"fmt"

	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/shopspring/decimal"
)

// LotAllocationAuditModel is one commit attempt in lot_allocation_audits
type LotAllocationAuditModel struct {
	BaseModel
	SessionID      string          `gorm:"type:varchar(64);not null"`
	DetailID       string          `gorm:"type:varchar(64);not null;index"`
	ProductID      string          `gorm:"type:varchar(64);not null"`
	ReceiptType    string          `gorm:"type:varchar(20);not null"`
	UserID         string          `gorm:"type:varchar(64);not null"`
	QtyRequired    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalAllocated decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Allocations    string          `gorm:"type:text;not null"`
	Status         string          `gorm:"type:varchar(20);not null"`
	ErrorMessage   string          `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (LotAllocationAuditModel) TableName() string {
	return "lot_allocation_audits"
}

// allocationRow is the JSON shape of one entry in the allocations column
type allocationRow struct {
	LotID      string                 `json:"lot_id,omitempty"`
	Quantity   decimal.Decimal        `json:"quantity"`
	NewLotData *allocation.NewLotData `json:"new_lot_data,omitempty"`
}

// NewLotAllocationAuditModel converts an audit entry to its row
func NewLotAllocationAuditModel(e appallocation.AuditEntry) (*LotAllocationAuditModel, error) {
	rows := make([]allocationRow, 0, len(e.Allocations))
	for _, a := range e.Allocations {
		rows = append(rows, allocationRow{LotID: a.LotID, Quantity: a.Quantity, NewLotData: a.NewLot})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocations: %w", err)
	}

	return &LotAllocationAuditModel{
		SessionID:      e.SessionID,
		DetailID:       e.DetailID,
		ProductID:      e.ProductID,
		ReceiptType:    string(e.ReceiptType),
		UserID:         e.UserID,
		QtyRequired:    e.QtyRequired,
		TotalAllocated: e.TotalAllocated,
		Allocations:    string(raw),
		Status:         string(e.Status),
		ErrorMessage:   e.ErrorMessage,
	}, nil
}

// ToRecord converts the row back to an audit record
func (m *LotAllocationAuditModel) ToRecord() (appallocation.AuditRecord, error) {
	var rows []allocationRow
	if err := json.Unmarshal([]byte(m.Allocations), &rows); err != nil {
		return appallocation.AuditRecord{}, fmt.Errorf("failed to decode allocations of audit %s: %w", m.ID, err)
	}
	entries := make([]allocation.AllocationEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, allocation.AllocationEntry{LotID: r.LotID, Quantity: r.Quantity, NewLot: r.NewLotData})
	}

	return appallocation.AuditRecord{
		ID:        m.ID.String(),
		CreatedAt: m.CreatedAt,
		AuditEntry: appallocation.AuditEntry{
			SessionID:      m.SessionID,
			DetailID:       m.DetailID,
			ProductID:      m.ProductID,
			ReceiptType:    allocation.ReceiptType(m.ReceiptType),
			UserID:         m.UserID,
			QtyRequired:    m.QtyRequired,
			TotalAllocated: m.TotalAllocated,
			Allocations:    entries,
			Status:         appallocation.AuditStatus(m.Status),
			ErrorMessage:   m.ErrorMessage,
		},
	}, nil
}
