package erpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
	"github.com/shopspring/decimal"
)

// lotDTO is the upstream lot representation
type lotDTO struct {
	ID              string                  `json:"id"`
	Code            string                  `json:"code"`
	BatchNumber     string                  `json:"batchNumber"`
	CurrentQuantity *decimal.Decimal        `json:"currentQuantity"`
	Unit            allocation.UnitRef      `json:"unit"`
	ExpiryDate      *time.Time              `json:"expiryDate"`
	Supplier        *allocation.SupplierRef `json:"supplier"`
	UnitCost        *decimal.Decimal        `json:"unitCost"`
}

type lotsEnvelope struct {
	Data *[]lotDTO `json:"data"`
}

// FetchAvailableLots implements allocation.LotCatalog
func (c *Client) FetchAvailableLots(ctx context.Context, productID string) ([]allocation.Lot, error) {
	resp, err := c.do(ctx, request{
		method:    http.MethodGet,
		path:      "lots",
		query:     url.Values{"productId": {productID}},
		retryable: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeLots(resp.body)
}

// decodeLots parses a lots envelope. The data array is required and every
// lot must carry an id and a quantity.
func decodeLots(body []byte) ([]allocation.Lot, error) {
	var env lotsEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: missing data array", ErrMalformedResponse)
	}

	lots := make([]allocation.Lot, 0, len(*env.Data))
	for i, dto := range *env.Data {
		if dto.ID == "" {
			return nil, fmt.Errorf("%w: lot %d has no id", ErrMalformedResponse, i)
		}
		if dto.CurrentQuantity == nil {
			return nil, fmt.Errorf("%w: lot %s has no currentQuantity", ErrMalformedResponse, dto.ID)
		}
		lots = append(lots, allocation.Lot{
			ID:              dto.ID,
			Code:            dto.Code,
			BatchNumber:     dto.BatchNumber,
			CurrentQuantity: *dto.CurrentQuantity,
			Unit:            dto.Unit,
			ExpiryDate:      dto.ExpiryDate,
			Supplier:        dto.Supplier,
			UnitCost:        dto.UnitCost,
		})
	}
	return lots, nil
}
