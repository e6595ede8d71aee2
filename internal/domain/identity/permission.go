package identity

import (
	"sort"
	"strings"

	"github.com/katecvn/backoffice/internal/domain/shared"
)

// PermissionCode is a back-office permission in UPPER_SNAKE form, e.g. GET_INVOICE
type PermissionCode string

const (
	PermGetUser                PermissionCode = "GET_USER"
	PermGetCustomer            PermissionCode = "GET_CUSTOMER"
	PermGetProduct             PermissionCode = "GET_PRODUCT"
	PermGetInvoice             PermissionCode = "GET_INVOICE"
	PermCreateInvoice          PermissionCode = "CREATE_INVOICE"
	PermUpdateInvoice          PermissionCode = "UPDATE_INVOICE"
	PermGetWarehouseReceipt    PermissionCode = "GET_WAREHOUSE_RECEIPT"
	PermCreateWarehouseReceipt PermissionCode = "CREATE_WAREHOUSE_RECEIPT"
	PermAllocateReceiptLots    PermissionCode = "ALLOCATE_RECEIPT_LOTS"
	PermGetLot                 PermissionCode = "GET_LOT"
)

// ParsePermissionCode normalizes and validates a permission code
func ParsePermissionCode(s string) (PermissionCode, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if code == "" {
		return "", shared.NewDomainError("INVALID_PERMISSION_CODE", "Permission code cannot be empty")
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return "", shared.NewDomainError("INVALID_PERMISSION_CODE", "Permission code must contain only letters, digits and underscores: "+s)
		}
	}
	return PermissionCode(code), nil
}

// permissionDependencies lists, for each permission, the permissions that
// must also be granted for it to be usable.
var permissionDependencies = map[PermissionCode][]PermissionCode{
	PermGetInvoice:             {PermGetUser, PermGetCustomer},
	PermCreateInvoice:          {PermGetInvoice, PermGetProduct},
	PermUpdateInvoice:          {PermGetInvoice},
	PermGetWarehouseReceipt:    {PermGetProduct},
	PermCreateWarehouseReceipt: {PermGetWarehouseReceipt},
	PermAllocateReceiptLots:    {PermGetWarehouseReceipt, PermGetLot},
	PermGetLot:                 {PermGetProduct},
}

// PermissionSet is an unordered set of permission codes
type PermissionSet map[PermissionCode]struct{}

// NewPermissionSet builds a set from the given codes
func NewPermissionSet(codes ...PermissionCode) PermissionSet {
	s := make(PermissionSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether code is in the set
func (s PermissionSet) Has(code PermissionCode) bool {
	_, ok := s[code]
	return ok
}

// HasAll reports whether every code is in the set
func (s PermissionSet) HasAll(codes ...PermissionCode) bool {
	for _, c := range codes {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Sorted returns the codes in lexical order
func (s PermissionSet) Sorted() []PermissionCode {
	out := make([]PermissionCode, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ImpliedPermissions returns selected plus every permission transitively
// required by it. The input set is not modified.
func ImpliedPermissions(selected PermissionSet) PermissionSet {
	out := make(PermissionSet, len(selected))
	queue := make([]PermissionCode, 0, len(selected))
	for c := range selected {
		out[c] = struct{}{}
		queue = append(queue, c)
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, dep := range permissionDependencies[c] {
			if _, seen := out[dep]; seen {
				continue
			}
			out[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}
	return out
}

// RevokePermission removes code from granted together with every permission
// that transitively depends on it, so the result never holds a permission
// whose requirements are missing.
func RevokePermission(granted PermissionSet, code PermissionCode) PermissionSet {
	out := make(PermissionSet, len(granted))
	for c := range granted {
		out[c] = struct{}{}
	}
	queue := []PermissionCode{code}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		delete(out, r)
		for c := range out {
			if dependsOn(c, r) {
				delete(out, c)
				queue = append(queue, c)
			}
		}
	}
	return out
}

func dependsOn(code, dep PermissionCode) bool {
	for _, d := range permissionDependencies[code] {
		if d == dep {
			return true
		}
	}
	return false
}
