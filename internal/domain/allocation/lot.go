package allocation

import (
	"strings"
	"time"

	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// UnitRef references a unit of measure by id and display name
type UnitRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SupplierRef references the supplier a lot was received from
type SupplierRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lot is a read-only snapshot of a physical batch of a product in stock.
// Lots are created and mutated by the ERP; this package never changes one.
type Lot struct {
	ID              string
	Code            string
	BatchNumber     string
	CurrentQuantity decimal.Decimal // on-hand quantity at fetch time
	Unit            UnitRef
	ExpiryDate      *time.Time
	Supplier        *SupplierRef
	UnitCost        *decimal.Decimal
}

// IsExpired reports whether the lot has passed its expiry date at the given instant
func (l Lot) IsExpired(at time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return l.ExpiryDate.Before(at)
}

// DisplayCode returns the code used in user-facing messages
func (l Lot) DisplayCode() string {
	if l.Code != "" {
		return l.Code
	}
	if l.BatchNumber != "" {
		return l.BatchNumber
	}
	return l.ID
}

// ReceiptType classifies the warehouse receipt a detail line belongs to
type ReceiptType string

const (
	ReceiptTypeImport     ReceiptType = "import"
	ReceiptTypeExport     ReceiptType = "export"
	ReceiptTypeTransfer   ReceiptType = "transfer"
	ReceiptTypeAdjustment ReceiptType = "adjustment"
)

// ParseReceiptType converts a wire value into a ReceiptType
func ParseReceiptType(s string) (ReceiptType, error) {
	switch rt := ReceiptType(strings.ToLower(strings.TrimSpace(s))); rt {
	case ReceiptTypeImport, ReceiptTypeExport, ReceiptTypeTransfer, ReceiptTypeAdjustment:
		return rt, nil
	default:
		return "", shared.NewDomainError("INVALID_RECEIPT_TYPE", "Unknown receipt type: "+s)
	}
}

// CapsToOnHand reports whether selected quantities are limited by on-hand stock.
// Imports create stock rather than drawing it down, so they are not capped.
func (rt ReceiptType) CapsToOnHand() bool {
	return rt != ReceiptTypeImport
}

// Catalog is the set of lots available for one product, indexed by id
type Catalog struct {
	lots  []Lot
	index map[string]int
}

// NewCatalog builds a catalog preserving the provider's ordering.
// Later duplicates of the same id are dropped.
func NewCatalog(lots []Lot) *Catalog {
	c := &Catalog{
		lots:  make([]Lot, 0, len(lots)),
		index: make(map[string]int, len(lots)),
	}
	for _, lot := range lots {
		if _, dup := c.index[lot.ID]; dup {
			continue
		}
		c.index[lot.ID] = len(c.lots)
		c.lots = append(c.lots, lot)
	}
	return c
}

// Lots returns a copy of the lots in provider order
func (c *Catalog) Lots() []Lot {
	out := make([]Lot, len(c.lots))
	copy(out, c.lots)
	return out
}

// Find looks up a lot by id
func (c *Catalog) Find(id string) (Lot, bool) {
	i, ok := c.index[id]
	if !ok {
		return Lot{}, false
	}
	return c.lots[i], true
}

// Len returns the number of lots
func (c *Catalog) Len() int {
	return len(c.lots)
}

// IsEmpty reports whether no lots are available
func (c *Catalog) IsEmpty() bool {
	return len(c.lots) == 0
}
