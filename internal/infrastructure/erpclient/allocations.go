package erpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/katecvn/backoffice/internal/domain/allocation"
)

type allocationEntryDTO struct {
	LotID      string                 `json:"lotId,omitempty"`
	Quantity   json.Number            `json:"quantity"` // bare JSON number
	NewLotData *allocation.NewLotData `json:"newLotData,omitempty"`
}

type allocateLotsRequest struct {
	Allocations []allocationEntryDTO `json:"allocations"`
}

// CommitAllocation implements allocation.AllocationSubmitter. The commit is
// sent exactly once. The detail id is sent as one escaped path segment.
func (c *Client) CommitAllocation(ctx context.Context, plan *allocation.AllocationPlan) error {
	if err := checkPathSegment(plan.DetailID); err != nil {
		return err
	}

	body := allocateLotsRequest{Allocations: make([]allocationEntryDTO, 0, len(plan.Allocations))}
	for _, e := range plan.Allocations {
		body.Allocations = append(body.Allocations, allocationEntryDTO{
			LotID:      e.LotID,
			Quantity:   json.Number(e.Quantity.String()),
			NewLotData: e.NewLot,
		})
	}

	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "warehouse-receipt-details/" + url.PathEscape(plan.DetailID) + "/allocate-lots",
		body:   body,
	})
	return err
}

// checkPathSegment rejects ids that escaping cannot keep inside one segment
func checkPathSegment(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidPathSegment, id)
	}
	return nil
}
