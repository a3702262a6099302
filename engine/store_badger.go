package engine

import (
	"bytes"
	"errors"

	badger "github.com/dgraph-io/badger/v2"
)

// BadgerStore is the persistent Store. One badger DB backs every store of
// a node; each store owns a key prefix so map values and replication
// records share durability (a crash keeps them consistent with each
// other).
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	owner  bool
}

func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:    db,
		owner: true,
	}, nil
}

// Sub derives a store scoped under a prefix of this store's DB. Closing a
// derived store is a no-op; the root store owns the DB.
func (self *BadgerStore) Sub(prefix string) *BadgerStore {
	p := make([]byte, 0, len(self.prefix)+len(prefix)+1)
	p = append(p, self.prefix...)
	p = append(p, prefix...)
	p = append(p, 0x00)
	return &BadgerStore{
		db:     self.db,
		prefix: p,
	}
}

func (self *BadgerStore) storeKey(key []byte) []byte {
	k := make([]byte, 0, len(self.prefix)+len(key))
	k = append(k, self.prefix...)
	return append(k, key...)
}

func (self *BadgerStore) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := self.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(self.storeKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (self *BadgerStore) Put(key []byte, value []byte) error {
	return self.update(func(txn *badger.Txn) error {
		return txn.Set(self.storeKey(key), value)
	})
}

func (self *BadgerStore) Delete(key []byte) error {
	return self.update(func(txn *badger.Txn) error {
		return txn.Delete(self.storeKey(key))
	})
}

func (self *BadgerStore) PutIfAbsent(key []byte, value []byte) ([]byte, error) {
	var prior []byte
	err := self.update(func(txn *badger.Txn) error {
		prior = nil
		k := self.storeKey(key)
		item, err := txn.Get(k)
		if err == nil {
			prior, err = item.ValueCopy(nil)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, value)
	})
	return prior, err
}

func (self *BadgerStore) ReplaceIfEqual(key []byte, old []byte, new []byte) (bool, error) {
	replaced := false
	err := self.update(func(txn *badger.Txn) error {
		replaced = false
		k := self.storeKey(key)
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, old) {
			return nil
		}
		if err := txn.Set(k, new); err != nil {
			return err
		}
		replaced = true
		return nil
	})
	return replaced, err
}

// update retries transactions that lose badger's optimistic conflict
// check, which is how the CAS primitives stay atomic without a store lock.
func (self *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	for {
		err := self.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func (self *BadgerStore) ForEachKey(fn func(key []byte) bool) error {
	return self.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = self.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !fn(key[len(self.prefix):]) {
				return nil
			}
		}
		return nil
	})
}

func (self *BadgerStore) Size() (int64, error) {
	var n int64
	err := self.ForEachKey(func(key []byte) bool {
		n += 1
		return true
	})
	return n, err
}

func (self *BadgerStore) Clear() error {
	keys := [][]byte{}
	if err := self.ForEachKey(func(key []byte) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return err
	}
	for _, key := range keys {
		if err := self.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (self *BadgerStore) Close() error {
	if !self.owner {
		return nil
	}
	return self.db.Close()
}
