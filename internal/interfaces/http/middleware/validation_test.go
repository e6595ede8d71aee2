package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/katecvn/backoffice/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quantityRequest struct {
	DetailID    string          `json:"detail_id" binding:"required"`
	QtyRequired decimal.Decimal `json:"qty_required" binding:"decimal_gte0"`
	Mode        string          `json:"mode" binding:"omitempty,oneof=IMPORT EXPORT"`
}

func TestDecimalGTE0(t *testing.T) {
	v := validator.New()
	RegisterValidations(v)

	type wrapper struct {
		Qty decimal.Decimal `json:"qty" validate:"decimal_gte0"`
		Raw string          `json:"raw" validate:"omitempty,decimal_gte0"`
	}

	assert.NoError(t, v.Struct(wrapper{Qty: decimal.Zero}))
	assert.NoError(t, v.Struct(wrapper{Qty: decimal.RequireFromString("12.5"), Raw: "3"}))

	err := v.Struct(wrapper{Qty: decimal.NewFromInt(-1)})
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "qty", verrs[0].Field())
	assert.Equal(t, "decimal_gte0", verrs[0].Tag())

	assert.Error(t, v.Struct(wrapper{Raw: "abc"}))
	assert.Error(t, v.Struct(wrapper{Raw: "-0.5"}))
}

func newBindingRouter() *gin.Engine {
	SetupValidator()
	r := gin.New()
	r.Use(RequestID())
	r.POST("/bind", func(c *gin.Context) {
		var req quantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"qty": req.QtyRequired.String()})
	})
	return r
}

func postJSON(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleValidationError(t *testing.T) {
	r := newBindingRouter()

	t.Run("accepts valid body", func(t *testing.T) {
		w := postJSON(r, `{"detail_id":"d-1","qty_required":"4.5"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"qty":"4.5"}`, w.Body.String())
	})

	t.Run("reports fields by json name", func(t *testing.T) {
		w := postJSON(r, `{"qty_required":-2,"mode":"TRANSFER"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)

		fields := map[string]string{}
		for _, d := range resp.Error.Details {
			fields[d.Field] = d.Tag
		}
		assert.Equal(t, "required", fields["detail_id"])
		assert.Equal(t, "decimal_gte0", fields["qty_required"])
		assert.Equal(t, "oneof", fields["mode"])
	})

	t.Run("malformed JSON", func(t *testing.T) {
		w := postJSON(r, `{"detail_id":`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeInvalidJSON)
	})
}
