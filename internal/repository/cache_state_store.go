package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/pkg/cache"
)

// CacheStateStore snapshots symbol state as JSON in a cache.Service,
// normally Redis.
type CacheStateStore struct {
	c   cache.Service
	ttl time.Duration
}

func NewCacheStateStore(c cache.Service, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{c: c, ttl: ttl}
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)

func stateKey(symbol string) string { return "state:" + symbol }

func (s *CacheStateStore) Save(ctx context.Context, st *models.SymbolState) error {
	if st == nil || st.Symbol == "" {
		return fmt.Errorf("save state: empty symbol")
	}
	if err := s.c.Set(ctx, stateKey(st.Symbol), st, s.ttl); err != nil {
		return fmt.Errorf("save state %s: %w", st.Symbol, err)
	}
	return nil
}

// Load returns (nil, nil) when no snapshot exists.
func (s *CacheStateStore) Load(ctx context.Context, symbol string) (*models.SymbolState, error) {
	var st models.SymbolState
	if err := s.c.Get(ctx, stateKey(symbol), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state %s: %w", symbol, err)
	}
	return &st, nil
}
