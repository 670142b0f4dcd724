package storage

import (
	"context"

	"token-dex-lab/internal/domain"
)

// TradeStore provides access to the append-only trade log.
// Readers always observe a consistent prefix of each pool's log.
type TradeStore interface {
	// Insert appends a trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk appends multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByPoolID retrieves all trades for a pool, ordered by (timestamp, seq) ASC.
	GetByPoolID(ctx context.Context, poolID string) ([]*domain.Trade, error)

	// GetByTimeRange retrieves trades for a pool within [start, end] ms (inclusive).
	GetByTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.Trade, error)
}

// SnapshotStore persists point-in-time copies of pools and their LP positions.
// Snapshots are overwritten, not appended.
type SnapshotStore interface {
	// SavePool upserts a pool snapshot, replacing its positions with the given set.
	SavePool(ctx context.Context, p *domain.Pool, positions []*domain.LPPosition) error

	// GetPool retrieves a pool snapshot. Returns ErrNotFound if not exists.
	GetPool(ctx context.Context, poolID string) (*domain.Pool, error)

	// GetPositions retrieves positions for a pool, ordered by provider_id ASC.
	GetPositions(ctx context.Context, poolID string) ([]*domain.LPPosition, error)

	// ListPoolIDs returns all snapshotted pool IDs, sorted ASC.
	ListPoolIDs(ctx context.Context) ([]string, error)
}
