package allocation

import "context"

// LotCatalog provides the lots currently available for a product.
// An empty result is valid and not an error.
type LotCatalog interface {
	FetchAvailableLots(ctx context.Context, productID string) ([]Lot, error)
}

// AllocationSubmitter commits an allocation plan for its detail line.
// Failures reported by the remote side are returned as *RemoteError.
type AllocationSubmitter interface {
	CommitAllocation(ctx context.Context, plan *AllocationPlan) error
}
