package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStateStore keeps symbol snapshots in an embedded Badger database
// for single-node deployments without Redis.
type BadgerStateStore struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerStateStore opens (or creates) the database at path. An empty
// path opens an in-memory instance.
func OpenBadgerStateStore(path string, ttl time.Duration) (*BadgerStateStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", path, err)
	}
	return &BadgerStateStore{db: db, ttl: ttl}, nil
}

var _ domrepo.StateStore = (*BadgerStateStore)(nil)

func (s *BadgerStateStore) Save(_ context.Context, st *models.SymbolState) error {
	if st == nil || st.Symbol == "" {
		return fmt.Errorf("save state: empty symbol")
	}
	val, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(stateKey(st.Symbol)), val)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Load returns (nil, nil) when no snapshot exists.
func (s *BadgerStateStore) Load(_ context.Context, symbol string) (*models.SymbolState, error) {
	var st *models.SymbolState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey(symbol)))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			st = new(models.SymbolState)
			return json.Unmarshal(val, st)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", symbol, err)
	}
	return st, nil
}

func (s *BadgerStateStore) Close() error { return s.db.Close() }
