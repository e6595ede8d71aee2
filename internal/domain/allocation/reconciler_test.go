package allocation

import (
	"errors"
	"testing"

	"github.com/katecvn/backoffice/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLots() []Lot {
	return []Lot{
		{ID: "lot-1", Code: "L001", BatchNumber: "B-01", CurrentQuantity: decimal.NewFromInt(10), Unit: UnitRef{ID: "u1", Name: "cái"}},
		{ID: "lot-2", Code: "L002", BatchNumber: "B-02", CurrentQuantity: decimal.NewFromInt(8), Unit: UnitRef{ID: "u1", Name: "cái"}},
		{ID: "lot-3", Code: "L003", BatchNumber: "B-03", CurrentQuantity: decimal.NewFromInt(20), Unit: UnitRef{ID: "u1", Name: "cái"}},
	}
}

func newTestReconciler(rt ReceiptType) *Reconciler {
	return NewReconciler(rt, NewCatalog(testLots()))
}

func requireValidationKind(t *testing.T, err error, kind ValidationKind) *ValidationError {
	t.Helper()
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
	assert.Equal(t, kind, verr.Kind)
	return verr
}

func TestReconciler_BuildPlan_QuantityConservation(t *testing.T) {
	t.Run("succeeds when lot and draft sum to required", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "10"))
		draft := r.AddNewLotDraft()
		_, err := r.UpdateNewLotDraft(draft.TempID, DraftFieldQuantity, "5")
		require.NoError(t, err)

		plan, err := r.BuildPlan("detail-1", decimal.NewFromInt(15))
		require.NoError(t, err)
		require.Len(t, plan.Allocations, 2)
		assert.Equal(t, "detail-1", plan.DetailID)
		assert.Equal(t, "lot-1", plan.Allocations[0].LotID)
		assert.True(t, plan.Allocations[0].Quantity.Equal(decimal.NewFromInt(10)))
		assert.True(t, plan.Allocations[1].IsNewLot())
		assert.True(t, plan.Allocations[1].Quantity.Equal(decimal.NewFromInt(5)))
		assert.True(t, plan.Total().Equal(decimal.NewFromInt(15)))
		assert.Nil(t, r.LastError())
	})

	t.Run("fails with mismatch when short by one", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "10"))
		draft := r.AddNewLotDraft()
		_, err := r.UpdateNewLotDraft(draft.TempID, DraftFieldQuantity, "4")
		require.NoError(t, err)

		plan, err := r.BuildPlan("detail-1", decimal.NewFromInt(15))
		assert.Nil(t, plan)
		verr := requireValidationKind(t, err, KindQuantityMismatch)
		assert.True(t, verr.TotalSelected.Equal(decimal.NewFromInt(14)))
		assert.True(t, verr.QtyRequired.Equal(decimal.NewFromInt(15)))
		assert.Equal(t, verr, r.LastError())
	})

	t.Run("accepts difference within epsilon", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "2.9995"))

		_, err := r.BuildPlan("detail-1", decimal.NewFromInt(3))
		assert.NoError(t, err)
	})

	t.Run("rejects difference beyond epsilon", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "2.998"))

		_, err := r.BuildPlan("detail-1", decimal.NewFromInt(3))
		requireValidationKind(t, err, KindQuantityMismatch)
	})
}

func TestReconciler_SetLotQuantity_StockCap(t *testing.T) {
	t.Run("rejects quantity above on-hand for export", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-2", true))
		require.NoError(t, r.SetLotQuantity("lot-2", "5"))

		err := r.SetLotQuantity("lot-2", "9")
		verr := requireValidationKind(t, err, KindLotQuantityExceedsStock)
		assert.Contains(t, verr.Error(), "8")
		assert.Equal(t, "L002", verr.LotCode)
		assert.True(t, errors.Is(err, shared.ErrInsufficientStock))

		sel, ok := r.Selection("lot-2")
		require.True(t, ok)
		assert.True(t, sel.Quantity.Equal(decimal.NewFromInt(5)), "quantity must remain unchanged")
	})

	t.Run("accepts exactly on-hand", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeTransfer)
		require.NoError(t, r.ToggleLot("lot-2", true))
		assert.NoError(t, r.SetLotQuantity("lot-2", "8"))
	})

	t.Run("import bypasses the cap", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeImport)
		require.NoError(t, r.ToggleLot("lot-2", true))
		require.NoError(t, r.SetLotQuantity("lot-2", "9"))

		sel, ok := r.Selection("lot-2")
		require.True(t, ok)
		assert.True(t, sel.Quantity.Equal(decimal.NewFromInt(9)))
	})

	t.Run("valid edit clears the lot's error", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-2", true))
		require.Error(t, r.SetLotQuantity("lot-2", "9"))
		require.NotNil(t, r.LastError())

		require.NoError(t, r.SetLotQuantity("lot-2", "7"))
		assert.Nil(t, r.LastError())
	})
}

func TestReconciler_SetLotQuantity_Input(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{name: "integer", value: "3", want: "3"},
		{name: "decimal point", value: "2.5", want: "2.5"},
		{name: "decimal comma", value: "2,5", want: "2.5"},
		{name: "surrounding spaces", value: "  4 ", want: "4"},
		{name: "empty means zero", value: "", want: "0"},
		{name: "negative", value: "-1", wantErr: true},
		{name: "garbage", value: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReconciler(ReceiptTypeExport)
			require.NoError(t, r.ToggleLot("lot-1", true))
			require.NoError(t, r.SetLotQuantity("lot-1", "1"))

			err := r.SetLotQuantity("lot-1", tt.value)
			sel, _ := r.Selection("lot-1")
			if tt.wantErr {
				verr := requireValidationKind(t, err, KindInvalidQuantity)
				assert.Equal(t, "lot-1", verr.LotID)
				assert.True(t, sel.Quantity.Equal(decimal.NewFromInt(1)))
				return
			}
			require.NoError(t, err)
			assert.True(t, sel.Quantity.Equal(decimal.RequireFromString(tt.want)), "got %s", sel.Quantity)
		})
	}
}

func TestReconciler_SetLotQuantity_UnknownOrUnselected(t *testing.T) {
	r := newTestReconciler(ReceiptTypeExport)

	err := r.SetLotQuantity("missing", "1")
	requireValidationKind(t, err, KindLotNotInCatalog)
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	err = r.SetLotQuantity("lot-1", "1")
	requireValidationKind(t, err, KindLotNotSelected)
}

func TestReconciler_ToggleLot(t *testing.T) {
	t.Run("idempotent select", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "3"))
		require.NoError(t, r.ToggleLot("lot-1", true))

		sels := r.Selections()
		require.Len(t, sels, 1)
		assert.True(t, sels[0].Quantity.Equal(decimal.NewFromInt(3)))
	})

	t.Run("deselect removes the selection", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.ToggleLot("lot-2", true))
		require.NoError(t, r.ToggleLot("lot-1", false))

		sels := r.Selections()
		require.Len(t, sels, 1)
		assert.Equal(t, "lot-2", sels[0].LotID)
	})

	t.Run("deselect of unselected lot is a no-op", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		assert.NoError(t, r.ToggleLot("lot-1", false))
		assert.Empty(t, r.Selections())
	})

	t.Run("rejects lot outside the catalog", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		requireValidationKind(t, r.ToggleLot("lot-9", true), KindLotNotInCatalog)
		assert.Empty(t, r.Selections())
	})

	t.Run("clears the reported error", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		_, err := r.BuildPlan("d", decimal.NewFromInt(1))
		require.Error(t, err)
		require.NotNil(t, r.LastError())

		require.NoError(t, r.ToggleLot("lot-1", true))
		assert.Nil(t, r.LastError())
	})
}

func TestReconciler_BuildPlan_EmptyCatalog(t *testing.T) {
	r := NewReconciler(ReceiptTypeExport, NewCatalog(nil))
	a := r.AddNewLotDraft()
	b := r.AddNewLotDraft()
	_, err := r.UpdateNewLotDraft(a.TempID, DraftFieldQuantity, "4")
	require.NoError(t, err)
	_, err = r.UpdateNewLotDraft(b.TempID, DraftFieldQuantity, "2.5")
	require.NoError(t, err)
	_, err = r.UpdateNewLotDraft(a.TempID, DraftFieldCode, "NEW-A")
	require.NoError(t, err)

	plan, err := r.BuildPlan("detail-1", decimal.RequireFromString("6.5"))
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "NEW-A", plan.Allocations[0].NewLot.Code)
	assert.Empty(t, plan.ExistingLotIDs())
}

func TestReconciler_BuildPlan_InvalidDraftQuantity(t *testing.T) {
	t.Run("zero draft fails even when the total matches", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "5"))
		d := r.AddNewLotDraft()
		_, err := r.UpdateNewLotDraft(d.TempID, DraftFieldQuantity, "0")
		require.NoError(t, err)

		_, err = r.BuildPlan("detail-1", decimal.NewFromInt(5))
		verr := requireValidationKind(t, err, KindInvalidNewLotQuantity)
		assert.Equal(t, d.TempID, verr.DraftID)
	})

	t.Run("missing draft quantity fails", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		require.NoError(t, r.SetLotQuantity("lot-1", "5"))
		r.AddNewLotDraft()

		_, err := r.BuildPlan("detail-1", decimal.NewFromInt(5))
		requireValidationKind(t, err, KindInvalidNewLotQuantity)
	})

	for _, raw := range []string{"x", "1.000,5", "1,2,3", "-2"} {
		t.Run("unparseable draft quantity "+raw+" is treated as missing", func(t *testing.T) {
			r := newTestReconciler(ReceiptTypeExport)
			require.NoError(t, r.ToggleLot("lot-1", true))
			require.NoError(t, r.SetLotQuantity("lot-1", "5"))
			d := r.AddNewLotDraft()
			found, err := r.UpdateNewLotDraft(d.TempID, DraftFieldQuantity, raw)
			require.NoError(t, err)
			require.True(t, found)

			draft := r.Drafts()[0]
			assert.False(t, draft.Quantity.Valid)
			assert.True(t, r.TotalSelected().Equal(decimal.NewFromInt(5)))
			_, err = r.BuildPlan("detail-1", decimal.NewFromInt(5))
			requireValidationKind(t, err, KindInvalidNewLotQuantity)
		})
	}
}

func TestReconciler_BuildPlan_NoAllocationChosen(t *testing.T) {
	for _, qty := range []string{"0", "15"} {
		t.Run("required "+qty, func(t *testing.T) {
			r := newTestReconciler(ReceiptTypeExport)
			_, err := r.BuildPlan("detail-1", decimal.RequireFromString(qty))
			requireValidationKind(t, err, KindNoAllocationChosen)
		})
	}

	t.Run("selected lots at zero with zero required", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		require.NoError(t, r.ToggleLot("lot-1", true))
		_, err := r.BuildPlan("detail-1", decimal.Zero)
		requireValidationKind(t, err, KindNoAllocationChosen)
	})
}

func TestReconciler_BuildPlan_Ordering(t *testing.T) {
	r := newTestReconciler(ReceiptTypeExport)
	d1 := r.AddNewLotDraft()
	require.NoError(t, r.ToggleLot("lot-3", true))
	require.NoError(t, r.ToggleLot("lot-1", true))
	d2 := r.AddNewLotDraft()
	require.NoError(t, r.SetLotQuantity("lot-3", "2"))
	require.NoError(t, r.SetLotQuantity("lot-1", "3"))
	_, _ = r.UpdateNewLotDraft(d1.TempID, DraftFieldQuantity, "1")
	_, _ = r.UpdateNewLotDraft(d2.TempID, DraftFieldQuantity, "4")
	_, _ = r.UpdateNewLotDraft(d1.TempID, DraftFieldName, "first")
	_, _ = r.UpdateNewLotDraft(d2.TempID, DraftFieldName, "second")

	plan, err := r.BuildPlan("detail-1", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 4)
	assert.Equal(t, "lot-3", plan.Allocations[0].LotID)
	assert.Equal(t, "lot-1", plan.Allocations[1].LotID)
	assert.Equal(t, "first", plan.Allocations[2].NewLot.Name)
	assert.Equal(t, "second", plan.Allocations[3].NewLot.Name)
	assert.Equal(t, []string{"lot-3", "lot-1"}, plan.ExistingLotIDs())
}

func TestReconciler_BuildPlan_SkipsZeroSelections(t *testing.T) {
	r := newTestReconciler(ReceiptTypeExport)
	require.NoError(t, r.ToggleLot("lot-1", true))
	require.NoError(t, r.ToggleLot("lot-2", true))
	require.NoError(t, r.SetLotQuantity("lot-2", "6"))

	plan, err := r.BuildPlan("detail-1", decimal.NewFromInt(6))
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, "lot-2", plan.Allocations[0].LotID)
}

func TestReconciler_Drafts(t *testing.T) {
	t.Run("ids are unique and increasing", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		a := r.AddNewLotDraft()
		b := r.AddNewLotDraft()
		assert.True(t, r.RemoveNewLotDraft(b.TempID))
		c := r.AddNewLotDraft()
		assert.Less(t, int64(a.TempID), int64(b.TempID))
		assert.Less(t, int64(b.TempID), int64(c.TempID))
	})

	t.Run("update of unknown draft is a no-op", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		found, err := r.UpdateNewLotDraft(42, DraftFieldCode, "X")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("expiry date parsing", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		d := r.AddNewLotDraft()

		_, err := r.UpdateNewLotDraft(d.TempID, DraftFieldExpiryDate, "2027-03-31")
		require.NoError(t, err)
		require.NotNil(t, r.Drafts()[0].ExpiryDate)
		assert.Equal(t, 2027, r.Drafts()[0].ExpiryDate.Year())

		_, err = r.UpdateNewLotDraft(d.TempID, DraftFieldExpiryDate, "")
		require.NoError(t, err)
		assert.Nil(t, r.Drafts()[0].ExpiryDate)

		_, err = r.UpdateNewLotDraft(d.TempID, DraftFieldExpiryDate, "31/03/2027")
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})

	t.Run("unknown field is rejected", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		d := r.AddNewLotDraft()
		_, err := r.UpdateNewLotDraft(d.TempID, DraftField("color"), "red")
		assert.True(t, errors.Is(err, shared.ErrInvalidInput))
	})

	t.Run("remove clears the reported error", func(t *testing.T) {
		r := newTestReconciler(ReceiptTypeExport)
		d := r.AddNewLotDraft()
		_, err := r.BuildPlan("d", decimal.NewFromInt(3))
		require.Error(t, err)

		assert.True(t, r.RemoveNewLotDraft(d.TempID))
		assert.Nil(t, r.LastError())
		assert.False(t, r.RemoveNewLotDraft(d.TempID))
	})
}

func TestReconciler_TotalSelected(t *testing.T) {
	r := newTestReconciler(ReceiptTypeExport)
	assert.True(t, r.TotalSelected().IsZero())

	require.NoError(t, r.ToggleLot("lot-1", true))
	require.NoError(t, r.SetLotQuantity("lot-1", "1.25"))
	d := r.AddNewLotDraft()
	_, _ = r.UpdateNewLotDraft(d.TempID, DraftFieldQuantity, "0,75")

	assert.True(t, r.TotalSelected().Equal(decimal.NewFromInt(2)), "got %s", r.TotalSelected())

	require.NoError(t, r.ToggleLot("lot-1", false))
	assert.True(t, r.TotalSelected().Equal(decimal.RequireFromString("0.75")))
}

func TestReconciler_Seed(t *testing.T) {
	r := newTestReconciler(ReceiptTypeExport)
	skipped := r.Seed([]AllocationEntry{
		{LotID: "lot-2", Quantity: decimal.NewFromInt(12)},
		{LotID: "gone", Quantity: decimal.NewFromInt(1)},
		{Quantity: decimal.NewFromInt(1), NewLot: &NewLotData{Code: "N"}},
		{LotID: "lot-1", Quantity: decimal.Zero},
	})

	assert.Len(t, skipped, 3)
	sels := r.Selections()
	require.Len(t, sels, 1)
	assert.Equal(t, "lot-2", sels[0].LotID)
	assert.True(t, sels[0].Quantity.Equal(decimal.NewFromInt(12)), "seeded quantities are not capped")
}
