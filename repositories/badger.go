package repositories

import (
	"chat-relay/errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	maxTxnAttempts    = 3
	sequenceBandwidth = 64
)

// update runs fn in a read-write transaction, retrying when badger reports a
// conflict with a concurrent transaction. fn must be idempotent: a retry
// re-reads everything, so a lost race surfaces as the winner's state.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// idSequence hands out strictly increasing ids, starting at 1.
type idSequence struct {
	seq *badger.Sequence
}

func newIDSequence(db *badger.DB, name string) (*idSequence, error) {
	seq, err := db.GetSequence([]byte(name), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("sequence %s: %w", name, err)
	}
	return &idSequence{seq: seq}, nil
}

func (s *idSequence) next() (int64, error) {
	for {
		id, err := s.seq.Next()
		if err != nil {
			return 0, err
		}
		if id > 0 {
			return int64(id), nil
		}
	}
}

func (s *idSequence) release() error {
	return s.seq.Release()
}

func getRecord(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, v)
	})
}

func setRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(key, data)
}
