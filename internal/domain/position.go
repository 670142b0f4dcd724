package domain

import "github.com/shopspring/decimal"

// LPPosition represents one provider's claim on one pool.
type LPPosition struct {
	PoolID           string
	ProviderID       string
	LPShares         decimal.Decimal
	BaseContributed  decimal.Decimal // cumulative, reporting only
	QuoteContributed decimal.Decimal // cumulative, reporting only
	CreatedAt        int64           // Unix timestamp in milliseconds
	UpdatedAt        int64           // Unix timestamp in milliseconds
}
