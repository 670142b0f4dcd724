package simulation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"token-dex-lab/internal/domain"
)

// ErrInvariantViolated is wrapped by every invariant check failure.
var ErrInvariantViolated = errors.New("invariant violated")

// CheckSwapInvariant verifies that a swap did not decrease the reserve product
// and left both reserves positive.
func CheckSwapInvariant(before, after *domain.Pool) error {
	if !after.BaseReserve.IsPositive() || !after.QuoteReserve.IsPositive() {
		return fmt.Errorf("%w: reserves %s/%s", ErrInvariantViolated, after.BaseReserve, after.QuoteReserve)
	}
	if after.K().LessThan(before.K()) {
		return fmt.Errorf("%w: k decreased from %s to %s", ErrInvariantViolated, before.K(), after.K())
	}
	return nil
}

// CheckShareInvariant verifies sum(position shares) == lpSupply.
func CheckShareInvariant(p *domain.Pool, positions []*domain.LPPosition) error {
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(pos.LPShares)
	}
	if !total.Equal(p.LPSupply) {
		return fmt.Errorf("%w: positions sum to %s, lp supply is %s", ErrInvariantViolated, total, p.LPSupply)
	}
	return nil
}
