package router

import (
	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/interfaces/http/handler"
	"github.com/katecvn/backoffice/internal/interfaces/http/middleware"
)

// AllocationRoutes declares the allocation session resource. Every route
// except the audit listing needs ALLOCATE_RECEIPT_LOTS; the service checks
// the same permissions again.
func AllocationRoutes(h *handler.AllocationHandler) *DomainGroup {
	sessions := NewDomainGroup("allocation-sessions", "/allocation-sessions").
		Use(middleware.RequirePermission(identity.PermAllocateReceiptLots))

	sessions.POST("", h.Open).
		GET("/:id", h.Get).
		DELETE("/:id", h.Close).
		GET("/:id/lots", h.SearchLots).
		PUT("/:id/lots/:lot_id/selection", h.ToggleLot).
		PUT("/:id/lots/:lot_id/quantity", h.SetLotQuantity).
		POST("/:id/drafts", h.AddDraft).
		PATCH("/:id/drafts/:temp_id", h.UpdateDraft).
		DELETE("/:id/drafts/:temp_id", h.RemoveDraft).
		POST("/:id/validate", h.Validate).
		POST("/:id/submit", h.Submit)
	return sessions
}

// AuditRoutes declares the commit history of receipt detail lines
func AuditRoutes(h *handler.AllocationHandler) *DomainGroup {
	return NewDomainGroup("allocation-details", "/allocation-details").
		Use(middleware.RequirePermission(identity.PermGetWarehouseReceipt)).
		GET("/:detail_id/audits", h.AuditHistory)
}

// PermissionRoutes declares the permission helper endpoints used by the
// role editor
func PermissionRoutes(h *handler.AllocationHandler) *DomainGroup {
	return NewDomainGroup("permissions", "/permissions").
		POST("/implied", h.ImpliedPermissions)
}
