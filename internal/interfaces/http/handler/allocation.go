package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/interfaces/http/dto"
	"github.com/katecvn/backoffice/internal/interfaces/http/middleware"
)

// AllocationHandler serves allocation sessions: one session per opened lot
// allocation dialog, edited step by step and committed once.
type AllocationHandler struct {
	BaseHandler
	service *appallocation.AllocationService
}

// NewAllocationHandler creates a new AllocationHandler
func NewAllocationHandler(service *appallocation.AllocationService) *AllocationHandler {
	return &AllocationHandler{service: service}
}

// Open handles POST /allocation-sessions
func (h *AllocationHandler) Open(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	view, err := h.service.Open(c.Request.Context(), sessionContext(c), req.ToOpenRequest())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, view)
}

// Get handles GET /allocation-sessions/:id
func (h *AllocationHandler) Get(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context(), sessionContext(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// SearchLots handles GET /allocation-sessions/:id/lots?q=
func (h *AllocationHandler) SearchLots(c *gin.Context) {
	lots, err := h.service.SearchLots(c.Request.Context(), sessionContext(c), c.Param("id"), c.Query("q"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, lots)
}

// ToggleLot handles PUT /allocation-sessions/:id/lots/:lot_id/selection
func (h *AllocationHandler) ToggleLot(c *gin.Context) {
	var req ToggleLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	view, err := h.service.ToggleLot(c.Request.Context(), sessionContext(c), c.Param("id"), c.Param("lot_id"), *req.Selected)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// SetLotQuantity handles PUT /allocation-sessions/:id/lots/:lot_id/quantity
func (h *AllocationHandler) SetLotQuantity(c *gin.Context) {
	var req SetLotQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	view, err := h.service.SetLotQuantity(c.Request.Context(), sessionContext(c), c.Param("id"), c.Param("lot_id"), req.Quantity)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// AddDraft handles POST /allocation-sessions/:id/drafts
func (h *AllocationHandler) AddDraft(c *gin.Context) {
	view, err := h.service.AddDraft(c.Request.Context(), sessionContext(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, view)
}

// UpdateDraft handles PATCH /allocation-sessions/:id/drafts/:temp_id
func (h *AllocationHandler) UpdateDraft(c *gin.Context) {
	tempID, ok := parseInt64Param(c, "temp_id")
	if !ok {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, "temp_id must be a positive integer")
		return
	}
	var req UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	view, err := h.service.UpdateDraft(c.Request.Context(), sessionContext(c), c.Param("id"), tempID, appallocation.DraftUpdate{
		Field: req.Field,
		Value: req.Value,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// RemoveDraft handles DELETE /allocation-sessions/:id/drafts/:temp_id
func (h *AllocationHandler) RemoveDraft(c *gin.Context) {
	tempID, ok := parseInt64Param(c, "temp_id")
	if !ok {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, "temp_id must be a positive integer")
		return
	}

	view, err := h.service.RemoveDraft(c.Request.Context(), sessionContext(c), c.Param("id"), tempID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// Validate handles POST /allocation-sessions/:id/validate. It returns the plan
// that Submit would commit, or the first validation failure.
func (h *AllocationHandler) Validate(c *gin.Context) {
	plan, err := h.service.Validate(c.Request.Context(), sessionContext(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, plan)
}

// Submit handles POST /allocation-sessions/:id/submit
func (h *AllocationHandler) Submit(c *gin.Context) {
	result, err := h.service.Submit(c.Request.Context(), sessionContext(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Close handles DELETE /allocation-sessions/:id
func (h *AllocationHandler) Close(c *gin.Context) {
	if err := h.service.Close(c.Request.Context(), sessionContext(c), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// AuditHistory handles GET /allocation-details/:detail_id/audits?limit=
func (h *AllocationHandler) AuditHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidInput), dto.ErrCodeInvalidInput, "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := h.service.AuditHistory(c.Request.Context(), sessionContext(c), c.Param("detail_id"), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ToAuditRecordResponses(records))
}

// ImpliedPermissions handles POST /permissions/implied. The response is the
// sorted closure of the posted codes under the permission dependency table.
func (h *AllocationHandler) ImpliedPermissions(c *gin.Context) {
	var req ImpliedPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	codes, err := h.service.ImpliedPermissions(req.Permissions)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ImpliedPermissionsResponse{Permissions: codes})
}
