// Package persist holds the balance checkpoint used to bootstrap the engine
// before the first network poll completes.
package persist

import (
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	"tradesync/internal/core"
)

// Gateway is the external persistence collaborator: load balances at
// startup, checkpoint them after each update.
type Gateway interface {
	Load() ([]core.BalanceItem, error)
	Save([]core.BalanceItem) error
}

const balanceKeyPrefix = "balance/"

// BadgerStore keeps one key per currency with the decimal amount as the
// value. Badger holds its own directory lock, so no extra instance locking
// is layered on top.
type BadgerStore struct {
	db *badger.DB
}

func Open(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns every checkpointed balance. Keys with unknown currency codes
// or unparseable amounts are skipped; a stale checkpoint must never prevent
// startup.
func (s *BadgerStore) Load() ([]core.BalanceItem, error) {
	var items []core.BalanceItem
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(balanceKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			code := strings.TrimPrefix(string(item.Key()), balanceKeyPrefix)
			currency, ok := core.ParseCurrency(code)
			if !ok {
				continue
			}
			err := item.Value(func(val []byte) error {
				amount, err := decimal.NewFromString(string(val))
				if err != nil {
					return nil
				}
				items = append(items, core.BalanceItem{Currency: currency, Amount: amount})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BadgerStore) Save(items []core.BalanceItem) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, item := range items {
			key := []byte(balanceKeyPrefix + string(item.Currency))
			if err := txn.Set(key, []byte(item.Amount.String())); err != nil {
				return err
			}
		}
		return nil
	})
}
