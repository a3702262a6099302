package engine

import (
	"sync"
	"sync/atomic"
)

// Store is the KV engine primitive surface the core builds on. The
// replication machinery needs exactly two atomic primitives, PutIfAbsent
// and ReplaceIfEqual; everything else is plain byte KV. Implementations
// must allow concurrent use.
type Store interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error

	// PutIfAbsent stores value if the key is absent and returns the prior
	// value otherwise.
	PutIfAbsent(key []byte, value []byte) ([]byte, error)

	// ReplaceIfEqual stores new only if the current value equals old.
	ReplaceIfEqual(key []byte, old []byte, new []byte) (bool, error)

	ForEachKey(fn func(key []byte) bool) error
	Size() (int64, error)
	Clear() error
	Close() error
}

// MemoryStore keeps values in a sync.Map keyed by the key bytes. Values
// are held as strings so the map's native compare-and-swap gives the CAS
// primitives without a store-wide lock.
type MemoryStore struct {
	entries sync.Map
	count   atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (self *MemoryStore) Get(key []byte) ([]byte, bool, error) {
	v, ok := self.entries.Load(string(key))
	if !ok {
		return nil, false, nil
	}
	return []byte(v.(string)), true, nil
}

func (self *MemoryStore) Put(key []byte, value []byte) error {
	_, loaded := self.entries.Swap(string(key), string(value))
	if !loaded {
		self.count.Add(1)
	}
	return nil
}

func (self *MemoryStore) Delete(key []byte) error {
	_, loaded := self.entries.LoadAndDelete(string(key))
	if loaded {
		self.count.Add(-1)
	}
	return nil
}

func (self *MemoryStore) PutIfAbsent(key []byte, value []byte) ([]byte, error) {
	prior, loaded := self.entries.LoadOrStore(string(key), string(value))
	if loaded {
		return []byte(prior.(string)), nil
	}
	self.count.Add(1)
	return nil, nil
}

func (self *MemoryStore) ReplaceIfEqual(key []byte, old []byte, new []byte) (bool, error) {
	return self.entries.CompareAndSwap(string(key), string(old), string(new)), nil
}

func (self *MemoryStore) ForEachKey(fn func(key []byte) bool) error {
	self.entries.Range(func(k any, v any) bool {
		return fn([]byte(k.(string)))
	})
	return nil
}

func (self *MemoryStore) Size() (int64, error) {
	return self.count.Load(), nil
}

func (self *MemoryStore) Clear() error {
	self.entries.Range(func(k any, v any) bool {
		if _, loaded := self.entries.LoadAndDelete(k); loaded {
			self.count.Add(-1)
		}
		return true
	})
	return nil
}

func (self *MemoryStore) Close() error {
	return nil
}
