package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// SavePool upserts a pool snapshot and replaces its positions in one transaction.
func (s *SnapshotStore) SavePool(ctx context.Context, p *domain.Pool, positions []*domain.LPPosition) error {
	if p == nil || p.PoolID == "" {
		return storage.ErrInvalidInput
	}
	for _, pos := range positions {
		if pos == nil || pos.PoolID != p.PoolID || pos.ProviderID == "" {
			return storage.ErrInvalidInput
		}
	}

	history, err := json.Marshal(p.PriceHistory)
	if err != nil {
		return fmt.Errorf("encode price history: %w", err)
	}
	if p.PriceHistory == nil {
		history = []byte("[]")
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertPoolQuery,
			p.PoolID, p.BaseReserve.String(), p.QuoteReserve.String(), p.LPSupply.String(), p.FeeRateBps,
			p.FeesAccrued.Base.String(), p.FeesAccrued.Quote.String(), string(history), p.TradeCount,
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return writeError("upsert pool snapshot", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM lp_positions WHERE pool_id = $1`, p.PoolID); err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}

		for _, pos := range positions {
			_, err := tx.Exec(ctx, insertPositionQuery,
				pos.PoolID, pos.ProviderID, pos.LPShares.String(),
				pos.BaseContributed.String(), pos.QuoteContributed.String(),
				pos.CreatedAt, pos.UpdatedAt,
			)
			if err != nil {
				return writeError("insert position", err)
			}
		}
		return nil
	})
}

const upsertPoolQuery = `
	INSERT INTO pool_snapshots (
		pool_id, base_reserve, quote_reserve, lp_supply, fee_rate_bps,
		fees_base, fees_quote, price_history, trade_count, created_at, updated_at
	) VALUES (
		$1, $2::numeric, $3::numeric, $4::numeric, $5,
		$6::numeric, $7::numeric, $8::jsonb, $9, $10, $11
	)
	ON CONFLICT (pool_id) DO UPDATE SET
		base_reserve = EXCLUDED.base_reserve,
		quote_reserve = EXCLUDED.quote_reserve,
		lp_supply = EXCLUDED.lp_supply,
		fee_rate_bps = EXCLUDED.fee_rate_bps,
		fees_base = EXCLUDED.fees_base,
		fees_quote = EXCLUDED.fees_quote,
		price_history = EXCLUDED.price_history,
		trade_count = EXCLUDED.trade_count,
		updated_at = EXCLUDED.updated_at
`

const insertPositionQuery = `
	INSERT INTO lp_positions (
		pool_id, provider_id, lp_shares, base_contributed, quote_contributed, created_at, updated_at
	) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
`

// GetPool retrieves a pool snapshot. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetPool(ctx context.Context, poolID string) (*domain.Pool, error) {
	query := `
		SELECT
			pool_id, base_reserve::text, quote_reserve::text, lp_supply::text, fee_rate_bps,
			fees_base::text, fees_quote::text, price_history::text, trade_count, created_at, updated_at
		FROM pool_snapshots
		WHERE pool_id = $1
	`

	var (
		p                                        domain.Pool
		base, quote, supply, feesBase, feesQuote string
		history                                  string
	)
	err := s.pool.QueryRow(ctx, query, poolID).Scan(
		&p.PoolID, &base, &quote, &supply, &p.FeeRateBps,
		&feesBase, &feesQuote, &history, &p.TradeCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool snapshot: %w", err)
	}

	if err := parseDecimals(
		decimalField{base, &p.BaseReserve},
		decimalField{quote, &p.QuoteReserve},
		decimalField{supply, &p.LPSupply},
		decimalField{feesBase, &p.FeesAccrued.Base},
		decimalField{feesQuote, &p.FeesAccrued.Quote},
	); err != nil {
		return nil, fmt.Errorf("parse pool snapshot %s: %w", poolID, err)
	}
	if err := json.Unmarshal([]byte(history), &p.PriceHistory); err != nil {
		return nil, fmt.Errorf("decode price history %s: %w", poolID, err)
	}

	return &p, nil
}

// GetPositions retrieves positions for a pool, ordered by provider_id ASC.
func (s *SnapshotStore) GetPositions(ctx context.Context, poolID string) ([]*domain.LPPosition, error) {
	query := `
		SELECT
			pool_id, provider_id, lp_shares::text, base_contributed::text, quote_contributed::text,
			created_at, updated_at
		FROM lp_positions
		WHERE pool_id = $1
		ORDER BY provider_id ASC
	`

	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListPoolIDs returns all snapshotted pool IDs, sorted ASC.
func (s *SnapshotStore) ListPoolIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT pool_id FROM pool_snapshots ORDER BY pool_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pool ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pool id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool ids: %w", err)
	}
	return ids, nil
}

func scanPositions(rows pgx.Rows) ([]*domain.LPPosition, error) {
	var positions []*domain.LPPosition

	for rows.Next() {
		var (
			pos                 domain.LPPosition
			shares, base, quote string
		)
		err := rows.Scan(
			&pos.PoolID, &pos.ProviderID, &shares, &base, &quote,
			&pos.CreatedAt, &pos.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}

		if err := parseDecimals(
			decimalField{shares, &pos.LPShares},
			decimalField{base, &pos.BaseContributed},
			decimalField{quote, &pos.QuoteContributed},
		); err != nil {
			return nil, fmt.Errorf("parse position %s/%s: %w", pos.PoolID, pos.ProviderID, err)
		}

		positions = append(positions, &pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
