package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/interfaces/http/dto"
	"github.com/katecvn/backoffice/internal/interfaces/http/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCatalog struct {
	lots []allocation.Lot
	err  error
}

func (s *stubCatalog) FetchAvailableLots(ctx context.Context, productID string) ([]allocation.Lot, error) {
	return s.lots, s.err
}

type recordingSubmitter struct {
	mu    sync.Mutex
	plans []*allocation.AllocationPlan
	err   error
}

func (s *recordingSubmitter) CommitAllocation(ctx context.Context, plan *allocation.AllocationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, plan)
	return s.err
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

type fakeAuditReader struct {
	records []appallocation.AuditRecord
}

func (f *fakeAuditReader) ListByDetail(ctx context.Context, detailID string, limit int) ([]appallocation.AuditRecord, error) {
	var out []appallocation.AuditRecord
	for _, r := range f.records {
		if r.DetailID == detailID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func testLots() []allocation.Lot {
	return []allocation.Lot{
		{ID: "lot-1", Code: "L001", BatchNumber: "B-01", CurrentQuantity: decimal.NewFromInt(10)},
		{ID: "lot-2", Code: "L002", BatchNumber: "B-02", CurrentQuantity: decimal.NewFromInt(4)},
	}
}

var allPerms = identity.NewPermissionSet(
	identity.PermAllocateReceiptLots,
	identity.PermGetWarehouseReceipt,
	identity.PermGetLot,
)

// testAPI mounts the allocation routes behind a stub authenticator that
// reads the user from X-Test-User.
type testAPI struct {
	engine    *gin.Engine
	service   *appallocation.AllocationService
	submitter *recordingSubmitter
	perms     identity.PermissionSet
}

func newTestAPI(t *testing.T, catalog allocation.LotCatalog) *testAPI {
	t.Helper()
	submitter := &recordingSubmitter{}
	svc := appallocation.NewAllocationService(catalog, submitter, appallocation.ServiceConfig{
		SessionTTL:      time.Hour,
		JanitorInterval: time.Hour,
	}, zap.NewNop())
	t.Cleanup(func() { _ = svc.Shutdown() })

	api := &testAPI{service: svc, submitter: submitter, perms: allPerms}

	middleware.SetupValidator()
	r := gin.New()
	r.Use(middleware.RequestID(), func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set(middleware.SessionContextKey, identity.SessionContext{
				UserID:      uid,
				Permissions: api.perms,
				AccessToken: "token-" + uid,
			})
		}
		c.Next()
	})

	h := NewAllocationHandler(svc)
	v1 := r.Group("/api/v1")
	s := v1.Group("/allocation-sessions")
	s.POST("", h.Open)
	s.GET("/:id", h.Get)
	s.DELETE("/:id", h.Close)
	s.GET("/:id/lots", h.SearchLots)
	s.PUT("/:id/lots/:lot_id/selection", h.ToggleLot)
	s.PUT("/:id/lots/:lot_id/quantity", h.SetLotQuantity)
	s.POST("/:id/drafts", h.AddDraft)
	s.PATCH("/:id/drafts/:temp_id", h.UpdateDraft)
	s.DELETE("/:id/drafts/:temp_id", h.RemoveDraft)
	s.POST("/:id/validate", h.Validate)
	s.POST("/:id/submit", h.Submit)
	v1.GET("/allocation-details/:detail_id/audits", h.AuditHistory)
	v1.POST("/permissions/implied", h.ImpliedPermissions)

	api.engine = r
	return api
}

type apiResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *dto.ErrorInfo  `json:"error"`
	RequestID string          `json:"request_id"`
}

func (a *testAPI) do(t *testing.T, user, method, path string, body any) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decodeData[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func (a *testAPI) open(t *testing.T, user string, qty string) appallocation.SessionView {
	t.Helper()
	code, resp := a.do(t, user, http.MethodPost, "/api/v1/allocation-sessions", map[string]any{
		"detail_id":    "d-1",
		"product_id":   "p-1",
		"receipt_type": "export",
		"qty_required": qty,
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	return decodeData[appallocation.SessionView](t, resp)
}

func sessionPath(id string, rest ...string) string {
	return "/api/v1/allocation-sessions/" + id + strings.Join(rest, "")
}

func TestAllocationHandler_FullFlow(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})

	view := api.open(t, "alice", "5")
	require.NotEmpty(t, view.ID)
	assert.Len(t, view.Lots, 2)
	assert.False(t, view.Balanced)

	code, resp := api.do(t, "alice", http.MethodPut, sessionPath(view.ID, "/lots/lot-1/selection"), map[string]any{"selected": true})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = api.do(t, "alice", http.MethodPut, sessionPath(view.ID, "/lots/lot-1/quantity"), map[string]any{"quantity": "3"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	view = decodeData[appallocation.SessionView](t, resp)
	assert.Equal(t, "3", view.TotalSelected.String())

	code, resp = api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/validate"), nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, dto.ErrCodeQuantityMismatch, resp.Error.Code)
	assert.Equal(t, "3", resp.Error.Context["total_selected"])
	assert.Equal(t, "5", resp.Error.Context["qty_required"])

	code, resp = api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/drafts"), nil)
	require.Equal(t, http.StatusCreated, code)
	view = decodeData[appallocation.SessionView](t, resp)
	require.Len(t, view.Drafts, 1)
	tempID := view.Drafts[0].TempID

	draftPath := sessionPath(view.ID, "/drafts/", strconv.FormatInt(tempID, 10))
	code, resp = api.do(t, "alice", http.MethodPatch, draftPath, map[string]any{"field": "code", "value": "NEW-1"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	code, resp = api.do(t, "alice", http.MethodPatch, draftPath, map[string]any{"field": "quantity", "value": "2"})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/validate"), nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	plan := decodeData[appallocation.PlanView](t, resp)
	assert.Equal(t, "5", plan.Total.String())
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "lot-1", plan.Allocations[0].LotID)
	require.NotNil(t, plan.Allocations[1].NewLot)
	assert.Equal(t, "NEW-1", plan.Allocations[1].NewLot.Code)

	code, resp = api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/submit"), nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	result := decodeData[appallocation.SubmitResult](t, resp)
	assert.True(t, result.Committed)
	assert.Equal(t, 1, api.submitter.count())

	code, resp = api.do(t, "alice", http.MethodGet, sessionPath(view.ID), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestAllocationHandler_Open_Errors(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})

	t.Run("binding failure", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodPost, "/api/v1/allocation-sessions", map[string]any{
			"product_id":   "p-1",
			"receipt_type": "export",
			"qty_required": "-1",
		})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.NotEmpty(t, resp.RequestID)
	})

	t.Run("unknown receipt type", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodPost, "/api/v1/allocation-sessions", map[string]any{
			"detail_id":    "d-1",
			"product_id":   "p-1",
			"receipt_type": "gift",
			"qty_required": "1",
		})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, dto.ErrCodeInvalidReceiptType, resp.Error.Code)
	})

	t.Run("detail id with path characters", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodPost, "/api/v1/allocation-sessions", map[string]any{
			"detail_id":    "../../admin/purge?x=",
			"product_id":   "p-1",
			"receipt_type": "export",
			"qty_required": "1",
		})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
	})

	t.Run("anonymous caller", func(t *testing.T) {
		code, resp := api.do(t, "", http.MethodPost, "/api/v1/allocation-sessions", map[string]any{
			"detail_id":    "d-1",
			"product_id":   "p-1",
			"receipt_type": "export",
			"qty_required": "1",
		})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, dto.ErrCodeUnauthorized, resp.Error.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		api.perms = identity.NewPermissionSet(identity.PermGetLot)
		defer func() { api.perms = allPerms }()

		code, resp := api.do(t, "alice", http.MethodPost, "/api/v1/allocation-sessions", map[string]any{
			"detail_id":    "d-1",
			"product_id":   "p-1",
			"receipt_type": "export",
			"qty_required": "1",
		})
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, dto.ErrCodeForbidden, resp.Error.Code)
	})
}

func TestAllocationHandler_Open_CatalogFailureStillOpens(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{err: assert.AnError})

	view := api.open(t, "alice", "2")
	assert.Empty(t, view.Lots)
	assert.NotEmpty(t, view.FetchError)
}

func TestAllocationHandler_SessionsAreOwned(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	view := api.open(t, "alice", "1")

	code, resp := api.do(t, "bob", http.MethodGet, sessionPath(view.ID), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)

	code, _ = api.do(t, "alice", http.MethodGet, sessionPath(view.ID), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAllocationHandler_SearchLots(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	view := api.open(t, "alice", "1")

	code, resp := api.do(t, "alice", http.MethodGet, sessionPath(view.ID, "/lots?q=l002"), nil)
	require.Equal(t, http.StatusOK, code)
	lots := decodeData[[]appallocation.LotView](t, resp)
	require.Len(t, lots, 1)
	assert.Equal(t, "lot-2", lots[0].ID)
}

func TestAllocationHandler_QuantityOnUnselectedLot(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	view := api.open(t, "alice", "1")

	code, resp := api.do(t, "alice", http.MethodPut, sessionPath(view.ID, "/lots/lot-2/quantity"), map[string]any{"quantity": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, dto.ErrCodeLotNotSelected, resp.Error.Code)
	assert.Equal(t, "lot-2", resp.Error.Context["lot_id"])
	assert.Equal(t, "L002", resp.Error.Context["lot_code"])
}

func TestAllocationHandler_ToggleRequiresFlag(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	view := api.open(t, "alice", "1")

	code, resp := api.do(t, "alice", http.MethodPut, sessionPath(view.ID, "/lots/lot-1/selection"), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
}

func TestAllocationHandler_Drafts(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	view := api.open(t, "alice", "1")

	t.Run("non-numeric temp id", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodDelete, sessionPath(view.ID, "/drafts/abc"), nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
	})

	t.Run("unknown draft", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodDelete, sessionPath(view.ID, "/drafts/99"), nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodPatch, sessionPath(view.ID, "/drafts/1"), map[string]any{"field": "colour", "value": "red"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})

	t.Run("add then remove", func(t *testing.T) {
		code, resp := api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/drafts"), nil)
		require.Equal(t, http.StatusCreated, code)
		added := decodeData[appallocation.SessionView](t, resp)
		require.Len(t, added.Drafts, 1)

		path := sessionPath(view.ID, "/drafts/", strconv.FormatInt(added.Drafts[0].TempID, 10))
		code, resp = api.do(t, "alice", http.MethodDelete, path, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Empty(t, decodeData[appallocation.SessionView](t, resp).Drafts)
	})
}

func TestAllocationHandler_InvalidDraftQuantity(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{})
	view := api.open(t, "alice", "0")

	code, _ := api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/drafts"), nil)
	require.Equal(t, http.StatusCreated, code)

	code, resp := api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/submit"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, dto.ErrCodeInvalidNewLotQuantity, resp.Error.Code)
	assert.EqualValues(t, 1, resp.Error.Context["draft_id"])
	assert.Zero(t, api.submitter.count())
}

func TestAllocationHandler_SubmitRejected(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	api.submitter.err = &allocation.RemoteError{
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_STOCK",
		Message:    "Lô L001 không đủ số lượng",
	}
	view := api.open(t, "alice", "2")

	code, _ := api.do(t, "alice", http.MethodPut, sessionPath(view.ID, "/lots/lot-1/selection"), map[string]any{"selected": true})
	require.Equal(t, http.StatusOK, code)
	code, _ = api.do(t, "alice", http.MethodPut, sessionPath(view.ID, "/lots/lot-1/quantity"), map[string]any{"quantity": "2"})
	require.Equal(t, http.StatusOK, code)

	code, resp := api.do(t, "alice", http.MethodPost, sessionPath(view.ID, "/submit"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, dto.ErrCodeInsufficientStock, resp.Error.Code)
	assert.Equal(t, "Lô L001 không đủ số lượng", resp.Error.Message)
	assert.Equal(t, true, resp.Error.Context["stock_conflict"])
	assert.EqualValues(t, http.StatusUnprocessableEntity, resp.Error.Context["upstream_status"])

	code, resp = api.do(t, "alice", http.MethodGet, sessionPath(view.ID), nil)
	require.Equal(t, http.StatusOK, code)
	after := decodeData[appallocation.SessionView](t, resp)
	require.NotNil(t, after.RemoteError)
	assert.True(t, after.RemoteError.StockConflict)
}

func TestAllocationHandler_Close(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{lots: testLots()})
	view := api.open(t, "alice", "1")

	code, _ := api.do(t, "alice", http.MethodDelete, sessionPath(view.ID), nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = api.do(t, "alice", http.MethodGet, sessionPath(view.ID), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAllocationHandler_AuditHistory(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{})
	api.service.SetAuditReader(&fakeAuditReader{records: []appallocation.AuditRecord{
		{
			ID:        "a-1",
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			AuditEntry: appallocation.AuditEntry{
				SessionID:      "s-1",
				DetailID:       "d-1",
				ProductID:      "p-1",
				ReceiptType:    allocation.ReceiptTypeExport,
				UserID:         "alice",
				QtyRequired:    decimal.NewFromInt(3),
				TotalAllocated: decimal.NewFromInt(3),
				Allocations: []allocation.AllocationEntry{
					{LotID: "lot-1", Quantity: decimal.NewFromInt(3)},
				},
				Status: appallocation.AuditStatusCommitted,
			},
		},
	}})

	code, resp := api.do(t, "alice", http.MethodGet, "/api/v1/allocation-details/d-1/audits?limit=5", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	records := decodeData[[]AuditRecordResponse](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "a-1", records[0].ID)
	assert.Equal(t, "committed", records[0].Status)
	assert.Equal(t, "export", records[0].ReceiptType)
	require.Len(t, records[0].Allocations, 1)
	assert.Equal(t, "lot-1", records[0].Allocations[0].LotID)

	code, resp = api.do(t, "alice", http.MethodGet, "/api/v1/allocation-details/d-1/audits?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
}

func TestAllocationHandler_ImpliedPermissions(t *testing.T) {
	api := newTestAPI(t, &stubCatalog{})

	code, resp := api.do(t, "alice", http.MethodPost, "/api/v1/permissions/implied", map[string]any{
		"permissions": []string{"allocate_receipt_lots"},
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	out := decodeData[ImpliedPermissionsResponse](t, resp)
	assert.Equal(t, []string{"ALLOCATE_RECEIPT_LOTS", "GET_LOT", "GET_PRODUCT", "GET_WAREHOUSE_RECEIPT"}, out.Permissions)

	code, resp = api.do(t, "alice", http.MethodPost, "/api/v1/permissions/implied", map[string]any{
		"permissions": []string{"GET LOT"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.ErrCodeInvalidPermissionCode, resp.Error.Code)
}
