package engine

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func openTestBadger(t *testing.T) *BadgerStore {
	store, err := OpenBadgerStore(t.TempDir())
	assert.Equal(t, err, nil)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestBadgerStorePrimitives(t *testing.T) {
	root := openTestBadger(t)
	store := root.Sub("/m")

	prior, err := store.PutIfAbsent([]byte("k"), []byte("v1"))
	assert.Equal(t, err, nil)
	assert.Equal(t, prior, nil)

	prior, err = store.PutIfAbsent([]byte("k"), []byte("v2"))
	assert.Equal(t, err, nil)
	assert.Equal(t, prior, []byte("v1"))

	replaced, err := store.ReplaceIfEqual([]byte("k"), []byte("v1"), []byte("v2"))
	assert.Equal(t, err, nil)
	assert.Equal(t, replaced, true)

	replaced, err = store.ReplaceIfEqual([]byte("k"), []byte("v1"), []byte("v3"))
	assert.Equal(t, err, nil)
	assert.Equal(t, replaced, false)

	value, present, err := store.Get([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, present, true)
	assert.Equal(t, value, []byte("v2"))
}

func TestBadgerStorePrefixIsolation(t *testing.T) {
	root := openTestBadger(t)
	values := root.Sub("/m")
	records := root.Sub("/m#replication")

	assert.Equal(t, values.Put([]byte("k"), []byte("v")), nil)
	assert.Equal(t, records.Put([]byte("k"), []byte("r")), nil)

	size, err := values.Size()
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(1))

	value, present, err := records.Get([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, present, true)
	assert.Equal(t, value, []byte("r"))

	// clearing one keyspace leaves the other
	assert.Equal(t, values.Clear(), nil)
	size, _ = values.Size()
	assert.Equal(t, size, int64(0))
	_, present, _ = records.Get([]byte("k"))
	assert.Equal(t, present, true)
}

func TestBadgerBackedReplication(t *testing.T) {
	root := openTestBadger(t)

	values := root.Sub("/m")
	replication := NewReplication(
		1,
		root.Sub("/m#replication"),
		func(entry *ReplicationEntry) error {
			if entry.Deleted {
				return values.Delete(entry.Key)
			}
			return values.Put(entry.Key, entry.Value)
		},
		func(key []byte) ([]byte, error) {
			value, _, err := values.Get(key)
			return value, err
		},
	)

	values.Put([]byte("k"), []byte("v"))
	replication.OnPut([]byte("k"), 100)

	modIter := replication.AcquireModificationIterator(2)
	assert.Equal(t, modIter.HasNext(), true)

	delivered := 0
	err := modIter.ForEach(func(entry *ReplicationEntry) error {
		delivered += 1
		assert.Equal(t, entry.Key, []byte("k"))
		assert.Equal(t, entry.Value, []byte("v"))
		assert.Equal(t, entry.Timestamp, int64(100))
		return nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, delivered, 1)
	assert.Equal(t, modIter.HasNext(), false)
}
