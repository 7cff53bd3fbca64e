package collector

import (
	"context"
	"time"
)

// PricePoint is one 15-minute entry of the balancing price feed, already
// normalised to €/kWh.
type PricePoint struct {
	Start         time.Time
	MFFRPrice     *float64
	NordpoolPrice *float64
}

// PriceFetcher defines the interface for fetching balancing prices.
type PriceFetcher interface {
	FetchPrices(ctx context.Context) ([]PricePoint, error)
	Name() string
}
