package memory

import (
	"context"
	"sort"
	"sync"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
// Each pool's log is an append-only slice; readers copy a prefix under RLock.
type TradeStore struct {
	mu     sync.RWMutex
	byPool map[string][]*domain.Trade
	ids    map[string]struct{} // trade_id index for duplicate detection
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		byPool: make(map[string][]*domain.Trade),
		ids:    make(map[string]struct{}),
	}
}

// Insert appends a trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TradeID == "" || t.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	s.appendLocked(t)
	return nil
}

// InsertBulk appends multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(_ context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(trades))

	// First pass: validate everything before touching the log
	for _, t := range trades {
		if t == nil || t.TradeID == "" || t.PoolID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[t.TradeID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[t.TradeID] = struct{}{}
	}

	// Second pass: append all
	for _, t := range trades {
		s.appendLocked(t)
	}

	return nil
}

// appendLocked keeps each pool log sorted by (timestamp, seq). Trades arrive
// in order from the ledger, so the common case is a plain append.
func (s *TradeStore) appendLocked(t *domain.Trade) {
	cp := *t
	log := s.byPool[t.PoolID]
	n := len(log)
	if n == 0 || !tradeLess(&cp, log[n-1]) {
		s.byPool[t.PoolID] = append(log, &cp)
	} else {
		i := sort.Search(n, func(i int) bool { return tradeLess(&cp, log[i]) })
		log = append(log, nil)
		copy(log[i+1:], log[i:])
		log[i] = &cp
		s.byPool[t.PoolID] = log
	}
	s.ids[t.TradeID] = struct{}{}
}

// GetByPoolID retrieves all trades for a pool, ordered by (timestamp, seq) ASC.
func (s *TradeStore) GetByPoolID(_ context.Context, poolID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.byPool[poolID]
	result := make([]*domain.Trade, 0, len(log))
	for _, t := range log {
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

// GetByTimeRange retrieves trades for a pool within [start, end] (inclusive).
func (s *TradeStore) GetByTimeRange(_ context.Context, poolID string, start, end int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.byPool[poolID]
	lo := sort.Search(len(log), func(i int) bool { return log[i].Timestamp >= start })

	var result []*domain.Trade
	for i := lo; i < len(log) && log[i].Timestamp <= end; i++ {
		cp := *log[i]
		result = append(result, &cp)
	}
	return result, nil
}

// Count returns the number of trades stored for a pool.
func (s *TradeStore) Count(poolID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPool[poolID])
}

func tradeLess(a, b *domain.Trade) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Seq < b.Seq
}

var _ storage.TradeStore = (*TradeStore)(nil)
