package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO trades (
		trade_id, pool_id, seq, side,
		amount_in, amount_out, fee_paid, price_after, price_impact_pct,
		timestamp, trader_id
	) VALUES (
		$1, $2, $3, $4,
		$5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric,
		$10, $11
	)
`

const selectTradeColumns = `
	SELECT
		trade_id, pool_id, seq, side,
		amount_in::text, amount_out::text, fee_paid::text, price_after::text, price_impact_pct::text,
		timestamp, trader_id
	FROM trades
`

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id or (pool_id, seq) exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.TradeID == "" || t.PoolID == "" {
		return storage.ErrInvalidInput
	}

	if _, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
		return writeError("insert trade", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if t == nil || t.TradeID == "" || t.PoolID == "" {
			return storage.ErrInvalidInput
		}
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		for _, t := range trades {
			if _, err := tx.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
				return writeError("insert trade in bulk", err)
			}
		}
		return nil
	})
}

// GetByPoolID retrieves all trades for a pool, ordered by (timestamp, seq) ASC.
func (s *TradeStore) GetByPoolID(ctx context.Context, poolID string) ([]*domain.Trade, error) {
	query := selectTradeColumns + `
		WHERE pool_id = $1
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query trades by pool id: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByTimeRange retrieves trades for a pool within [start, end] ms (inclusive).
func (s *TradeStore) GetByTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.Trade, error) {
	query := selectTradeColumns + `
		WHERE pool_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, poolID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query trades by time range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func tradeArgs(t *domain.Trade) []any {
	return []any{
		t.TradeID, t.PoolID, t.Seq, string(t.Side),
		t.AmountIn.String(), t.AmountOut.String(), t.FeePaid.String(),
		t.PriceAfter.String(), t.PriceImpactPct.String(),
		t.Timestamp, t.TraderID,
	}
}

// scanTrades scans trade rows. Numeric columns arrive as text and are parsed exactly.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var (
			t                                            domain.Trade
			side                                         string
			amountIn, amountOut, fee, priceAfter, impact string
		)

		err := rows.Scan(
			&t.TradeID, &t.PoolID, &t.Seq, &side,
			&amountIn, &amountOut, &fee, &priceAfter, &impact,
			&t.Timestamp, &t.TraderID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.Side = domain.Side(side)
		if err := parseDecimals(
			decimalField{amountIn, &t.AmountIn},
			decimalField{amountOut, &t.AmountOut},
			decimalField{fee, &t.FeePaid},
			decimalField{priceAfter, &t.PriceAfter},
			decimalField{impact, &t.PriceImpactPct},
		); err != nil {
			return nil, fmt.Errorf("parse trade %s: %w", t.TradeID, err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}
