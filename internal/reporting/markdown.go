package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Pool Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Pools: %d | Timeframe: %s\n\n", len(r.Pools), r.Timeframe))

	// Pools
	sb.WriteString("## Pools\n\n")
	if len(r.Pools) > 0 {
		sb.WriteString("| Pool | Base | Quote | Price | LP Supply | Providers | Fee (bps) | Trades | Volume |\n")
		sb.WriteString("|------|------|-------|-------|-----------|-----------|-----------|--------|--------|\n")
		for _, p := range r.Pools {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d | %d | %d | %s |\n",
				p.PoolID, p.BaseReserve, p.QuoteReserve, p.SpotPrice.StringFixed(8), p.LPSupply,
				p.Providers, p.FeeRateBps, p.TradeCount, p.BaseVolume))
		}
	} else {
		sb.WriteString("No pools.\n")
	}
	sb.WriteString("\n")

	// Integrity errors (always shown if present)
	if len(r.IntegrityErrors) > 0 {
		sb.WriteString("## Integrity Errors\n\n")
		for _, err := range r.IntegrityErrors {
			sb.WriteString(fmt.Sprintf("- %s\n", err))
		}
		sb.WriteString("\n")
	}

	// Candles
	for _, p := range r.Pools {
		candles := r.Candles[p.PoolID]
		sb.WriteString(fmt.Sprintf("## Candles: %s\n\n", p.PoolID))
		if len(candles) == 0 {
			sb.WriteString("No trades.\n\n")
			continue
		}
		sb.WriteString("| Bucket | Open | High | Low | Close | Volume | Trades |\n")
		sb.WriteString("|--------|------|------|-----|-------|--------|--------|\n")
		for _, c := range candles {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d |\n",
				time.Unix(c.TimeBucketStart, 0).UTC().Format(time.RFC3339),
				c.Open.StringFixed(8), c.High.StringFixed(8), c.Low.StringFixed(8), c.Close.StringFixed(8),
				c.Volume, c.TradeCount))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
