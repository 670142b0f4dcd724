package clickhouse

import (
	"context"
	"fmt"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using ClickHouse.
// MergeTree does not enforce uniqueness, so trade_id is checked before insert.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	return s.InsertBulk(ctx, []*domain.Trade{t})
}

// InsertBulk adds multiple trades in one batch. Fails entire batch on duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(trades))
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		if t == nil || t.TradeID == "" || t.PoolID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[t.TradeID] = struct{}{}
		ids = append(ids, t.TradeID)
	}

	exists, err := s.anyExists(ctx, ids)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			trade_id, pool_id, seq, side,
			amount_in, amount_out, fee_paid, price_after, price_impact_pct,
			timestamp, trader_id
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.TradeID, t.PoolID, t.Seq, string(t.Side),
			t.AmountIn, t.AmountOut, t.FeePaid, t.PriceAfter, t.PriceImpactPct,
			t.Timestamp, t.TraderID,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPoolID retrieves all trades for a pool, ordered by (timestamp, seq) ASC.
func (s *TradeStore) GetByPoolID(ctx context.Context, poolID string) ([]*domain.Trade, error) {
	query := `
		SELECT trade_id, pool_id, seq, side,
			amount_in, amount_out, fee_paid, price_after, price_impact_pct,
			timestamp, trader_id
		FROM trades
		WHERE pool_id = ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query by pool id: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByTimeRange retrieves trades for a pool within [start, end] ms (inclusive).
func (s *TradeStore) GetByTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.Trade, error) {
	query := `
		SELECT trade_id, pool_id, seq, side,
			amount_in, amount_out, fee_paid, price_after, price_impact_pct,
			timestamp, trader_id
		FROM trades
		WHERE pool_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// anyExists reports whether any of ids is already stored.
func (s *TradeStore) anyExists(ctx context.Context, ids []string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM trades WHERE trade_id IN (?)`, ids).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanTrades scans multiple rows. Decimal columns scan directly into decimal.Decimal.
func scanTrades(rows chRows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var side string

		err := rows.Scan(
			&t.TradeID, &t.PoolID, &t.Seq, &side,
			&t.AmountIn, &t.AmountOut, &t.FeePaid, &t.PriceAfter, &t.PriceImpactPct,
			&t.Timestamp, &t.TraderID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.Side = domain.Side(side)
		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
