package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/katecvn/backoffice/internal/infrastructure/logger"
	"github.com/katecvn/backoffice/internal/interfaces/http/dto"
	"github.com/katecvn/backoffice/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := middleware.GetRequestID(c); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// sessionContext returns the caller's SessionContext. Routes mounted without
// JWTAuth get an anonymous context, which the services reject.
func sessionContext(c *gin.Context) identity.SessionContext {
	sc, _ := middleware.GetSessionContext(c)
	return sc
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError converts service errors to HTTP responses. Allocation
// validation failures carry their structured values in error.context so the
// client can render the inline message; commit rejections carry the upstream
// status and whether stock changed underneath the session.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var domainErr *shared.DomainError
	if !errors.As(err, &domainErr) {
		logger.GetGinLogger(c).Error("Unhandled error", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
		return
	}

	code := dto.NormalizeErrorCode(domainErr.Code)
	status := dto.GetHTTPStatus(code)
	resp := dto.NewErrorResponseWithRequestID(code, err.Error(), getRequestID(c))

	var ve *allocation.ValidationError
	var re *allocation.RemoteError
	switch {
	case errors.As(err, &ve):
		resp.Error.Message = ve.Message
		resp.Error.Context = validationContext(ve)
	case errors.As(err, &re):
		resp.Error.Message = re.Message
		resp.Error.Context = map[string]any{
			"upstream_status": re.StatusCode,
			"stock_conflict":  re.IsStockConflict(),
		}
		if re.Code != "" {
			resp.Error.Context["upstream_code"] = re.Code
		}
	default:
		resp.Error.Message = domainErr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.GetGinLogger(c).Error("Request failed", zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, resp)
}

func validationContext(ve *allocation.ValidationError) map[string]any {
	ctx := map[string]any{"kind": string(ve.Kind)}
	switch ve.Kind {
	case allocation.KindQuantityMismatch:
		ctx["total_selected"] = ve.TotalSelected.String()
		ctx["qty_required"] = ve.QtyRequired.String()
	case allocation.KindLotQuantityExceedsStock:
		ctx["lot_id"] = ve.LotID
		ctx["lot_code"] = ve.LotCode
		ctx["remaining"] = ve.Remaining.String()
	case allocation.KindInvalidNewLotQuantity:
		ctx["draft_id"] = int64(ve.DraftID)
	case allocation.KindLotNotSelected, allocation.KindLotNotInCatalog:
		ctx["lot_id"] = ve.LotID
		if ve.LotCode != "" {
			ctx["lot_code"] = ve.LotCode
		}
	}
	return ctx
}

// parseInt64Param reads a positive integer path parameter
func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
