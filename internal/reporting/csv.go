package reporting

import (
	"fmt"
	"strings"

	"token-dex-lab/internal/domain"
)

// RenderCandlesCSV renders one pool's candles as CSV string.
func RenderCandlesCSV(poolID string, candles []domain.Candle) string {
	var sb strings.Builder

	// Header
	sb.WriteString("pool_id,time_bucket_start,open,high,low,close,volume,trade_count\n")

	// Rows
	for _, c := range candles {
		sb.WriteString(fmt.Sprintf("%s,%d,%s,%s,%s,%s,%s,%d\n",
			poolID,
			c.TimeBucketStart,
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
			c.TradeCount,
		))
	}

	return sb.String()
}

// RenderPoolsCSV renders pool summaries as CSV string.
func RenderPoolsCSV(pools []PoolSummary) string {
	var sb strings.Builder

	sb.WriteString("pool_id,base_reserve,quote_reserve,spot_price,lp_supply,providers,fee_rate_bps,")
	sb.WriteString("fees_base,fees_quote,trade_count,base_volume\n")

	for _, p := range pools {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%d,%d,%s,%s,%d,%s\n",
			p.PoolID,
			p.BaseReserve.String(),
			p.QuoteReserve.String(),
			p.SpotPrice.StringFixed(8),
			p.LPSupply.String(),
			p.Providers,
			p.FeeRateBps,
			p.FeesBase.String(),
			p.FeesQuote.String(),
			p.TradeCount,
			p.BaseVolume.String(),
		))
	}

	return sb.String()
}
