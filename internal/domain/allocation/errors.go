package allocation

import (
	"fmt"
	"net/http"

	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ValidationKind discriminates local, recoverable allocation failures
type ValidationKind string

const (
	KindQuantityMismatch        ValidationKind = "QUANTITY_MISMATCH"
	KindInvalidNewLotQuantity   ValidationKind = "INVALID_NEW_LOT_QUANTITY"
	KindNoAllocationChosen      ValidationKind = "NO_ALLOCATION_CHOSEN"
	KindLotQuantityExceedsStock ValidationKind = "LOT_QUANTITY_EXCEEDS_STOCK"
	KindInvalidQuantity         ValidationKind = "INVALID_QUANTITY"
	KindLotNotInCatalog         ValidationKind = "LOT_NOT_IN_CATALOG"
	KindLotNotSelected          ValidationKind = "LOT_NOT_SELECTED"
)

// domainCode maps a validation kind onto the shared error code vocabulary
func (k ValidationKind) domainCode() string {
	switch k {
	case KindLotQuantityExceedsStock:
		return shared.ErrInsufficientStock.Code
	case KindInvalidQuantity:
		return shared.ErrInvalidInput.Code
	case KindLotNotInCatalog:
		return shared.ErrNotFound.Code
	default:
		return string(k)
	}
}

// ValidationError is a local allocation failure the user corrects and retries.
// Only the fields relevant to Kind are set.
type ValidationError struct {
	Kind    ValidationKind
	Message string

	// QuantityMismatch
	TotalSelected decimal.Decimal
	QtyRequired   decimal.Decimal

	// LotQuantityExceedsStock
	LotID     string
	LotCode   string
	Remaining decimal.Decimal

	// InvalidNewLotQuantity
	DraftID DraftID
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap exposes the error as a shared.DomainError for transport mapping
func (e *ValidationError) Unwrap() error {
	return shared.NewDomainError(e.Kind.domainCode(), e.Message)
}

func newValidationError(kind ValidationKind, message string) *ValidationError {
	return &ValidationError{Kind: kind, Message: message}
}

func errQuantityMismatch(total, required decimal.Decimal) *ValidationError {
	return &ValidationError{
		Kind:          KindQuantityMismatch,
		Message:       fmt.Sprintf("Allocated quantity %s does not match required quantity %s", total.String(), required.String()),
		TotalSelected: total,
		QtyRequired:   required,
	}
}

func errInvalidNewLotQuantity(id DraftID) *ValidationError {
	return &ValidationError{
		Kind:    KindInvalidNewLotQuantity,
		Message: fmt.Sprintf("New lot #%d must have a quantity greater than 0", id),
		DraftID: id,
	}
}

func errNoAllocationChosen() *ValidationError {
	return newValidationError(KindNoAllocationChosen, "Select at least one lot or add a new lot")
}

func errLotQuantityExceedsStock(lot Lot) *ValidationError {
	return &ValidationError{
		Kind:      KindLotQuantityExceedsStock,
		Message:   fmt.Sprintf("Lot %s only has %s remaining", lot.DisplayCode(), lot.CurrentQuantity.String()),
		LotID:     lot.ID,
		LotCode:   lot.DisplayCode(),
		Remaining: lot.CurrentQuantity,
	}
}

func errLotNotInCatalog(lotID string) *ValidationError {
	return &ValidationError{
		Kind:    KindLotNotInCatalog,
		Message: fmt.Sprintf("Lot %s is not available for this product", lotID),
		LotID:   lotID,
	}
}

func errLotNotSelected(lot Lot) *ValidationError {
	return &ValidationError{
		Kind:    KindLotNotSelected,
		Message: fmt.Sprintf("Lot %s is not selected", lot.DisplayCode()),
		LotID:   lot.ID,
		LotCode: lot.DisplayCode(),
	}
}

// RemoteError is a failure reported by the allocation submitter. The message
// is shown to the user verbatim.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap exposes the error as a shared.DomainError for transport mapping
func (e *RemoteError) Unwrap() error {
	return shared.NewDomainError(e.domainCode(), e.Message)
}

func (e *RemoteError) domainCode() string {
	switch e.Code {
	case shared.ErrInsufficientStock.Code, shared.ErrConcurrencyConflict.Code:
		return e.Code
	}
	switch e.StatusCode {
	case http.StatusConflict:
		return shared.ErrConcurrencyConflict.Code
	case http.StatusUnprocessableEntity:
		return shared.ErrInsufficientStock.Code
	default:
		return shared.ErrUpstream.Code
	}
}

// IsStockConflict reports whether the server rejected the plan because stock
// changed underneath the session.
func (e *RemoteError) IsStockConflict() bool {
	code := e.domainCode()
	return code == shared.ErrInsufficientStock.Code || code == shared.ErrConcurrencyConflict.Code
}

// FetchError wraps a lot catalog failure. It never blocks allocation through
// new-lot drafts.
type FetchError struct {
	ProductID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to load lots for product %s: %v", e.ProductID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
