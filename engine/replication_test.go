package engine

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

// a replication wired to a plain memory value store, the same shape the
// map view uses
type testReplica struct {
	values      *MemoryStore
	replication *Replication
}

func newTestReplica(identifier byte) *testReplica {
	replica := &testReplica{
		values: NewMemoryStore(),
	}
	replica.replication = NewReplication(
		identifier,
		NewMemoryStore(),
		func(entry *ReplicationEntry) error {
			if entry.Deleted {
				return replica.values.Delete(entry.Key)
			}
			return replica.values.Put(entry.Key, entry.Value)
		},
		func(key []byte) ([]byte, error) {
			value, _, err := replica.values.Get(key)
			return value, err
		},
	)
	return replica
}

func (self *testReplica) put(key string, value string, timestamp int64) {
	self.values.Put([]byte(key), []byte(value))
	self.replication.onChange([]byte(key), false, timestamp)
}

func (self *testReplica) remove(key string, timestamp int64) {
	self.values.Delete([]byte(key))
	self.replication.onChange([]byte(key), true, timestamp)
}

func (self *testReplica) get(key string) (string, bool) {
	value, present, _ := self.values.Get([]byte(key))
	return string(value), present
}

// drain ships every dirty entry for the remote into the remote replica.
func (self *testReplica) drain(t *testing.T, remote *testReplica) int {
	modIter := self.replication.AcquireModificationIterator(remote.replication.Identifier())
	count := 0
	err := modIter.ForEach(func(entry *ReplicationEntry) error {
		count += 1
		copied := *entry
		copied.Key = append([]byte{}, entry.Key...)
		copied.Value = append([]byte{}, entry.Value...)
		return remote.replication.ApplyReplication(&copied)
	})
	assert.Equal(t, err, nil)
	return count
}

func TestMonotoneTimestamps(t *testing.T) {
	a := newTestReplica(1)

	// writing with a stale clock still advances the record timestamp
	a.put("k", "v1", 100)
	a.put("k", "v2", 100)
	a.put("k", "v3", 50)

	var record replicationRecord
	recordBytes, present, err := a.replication.records.Get([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, present, true)
	assert.Equal(t, decodeRecord(recordBytes, &record), nil)
	assert.Equal(t, record.timestamp, int64(102))
	assert.Equal(t, record.identifier, byte(1))
}

func TestConflictResolution(t *testing.T) {
	// newer timestamp wins
	local := &replicationRecord{timestamp: 100, identifier: 2}
	assert.Equal(t, shouldApplyRemoteModification(&ReplicationEntry{Timestamp: 101, Identifier: 3}, local), true)
	assert.Equal(t, shouldApplyRemoteModification(&ReplicationEntry{Timestamp: 99, Identifier: 1}, local), false)

	// ties break toward the smaller identifier
	assert.Equal(t, shouldApplyRemoteModification(&ReplicationEntry{Timestamp: 100, Identifier: 1}, local), true)
	assert.Equal(t, shouldApplyRemoteModification(&ReplicationEntry{Timestamp: 100, Identifier: 2}, local), true)
	assert.Equal(t, shouldApplyRemoteModification(&ReplicationEntry{Timestamp: 100, Identifier: 3}, local), false)
}

func TestTimestampTieSmallerIdWins(t *testing.T) {
	// scenario: nodes 1 and 2 write key k at the same instant
	a := newTestReplica(1)
	b := newTestReplica(2)

	a.put("k", "A", 100)
	b.put("k", "B", 100)

	a.drain(t, b)
	b.drain(t, a)

	va, _ := a.get("k")
	vb, _ := b.get("k")
	assert.Equal(t, va, "A")
	assert.Equal(t, vb, "A")
}

func TestConvergenceAfterExchange(t *testing.T) {
	a := newTestReplica(1)
	b := newTestReplica(2)

	a.put("x", "1", 10)
	a.put("y", "2", 11)
	b.put("z", "3", 12)
	b.remove("missing", 13)

	// exchange until neither side has dirty entries
	for i := 0; i < 4; i += 1 {
		a.drain(t, b)
		b.drain(t, a)
	}

	for _, key := range []string{"x", "y", "z"} {
		va, oka := a.get(key)
		vb, okb := b.get(key)
		assert.Equal(t, oka, true)
		assert.Equal(t, okb, true)
		assert.Equal(t, va, vb)
	}
	_, ok := a.get("missing")
	assert.Equal(t, ok, false)
	_, ok = b.get("missing")
	assert.Equal(t, ok, false)
}

func TestTombstoneReplicates(t *testing.T) {
	a := newTestReplica(1)
	b := newTestReplica(2)

	a.put("k", "v", 10)
	a.drain(t, b)
	v, ok := b.get("k")
	assert.Equal(t, ok, true)
	assert.Equal(t, v, "v")

	a.remove("k", 20)
	a.drain(t, b)
	_, ok = b.get("k")
	assert.Equal(t, ok, false)

	// the tombstone record survives for convergence
	_, present, err := b.replication.records.Get([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, present, true)
}

func TestAppliedEntryDoesNotEcho(t *testing.T) {
	a := newTestReplica(1)
	b := newTestReplica(2)

	a.put("k", "v", 10)
	assert.Equal(t, a.drain(t, b), 1)

	// the arrival on b is not a local change: nothing to ship back
	assert.Equal(t, b.drain(t, a), 0)
	modIter := b.replication.AcquireModificationIterator(1)
	assert.Equal(t, modIter.HasNext(), false)
}

func TestAtLeastOnceDelivery(t *testing.T) {
	a := newTestReplica(1)
	b := newTestReplica(2)

	// the iterator must exist when the mutation lands
	modIter := a.replication.AcquireModificationIterator(2)
	for i := 0; i < 50; i += 1 {
		a.put(fmt.Sprintf("k%d", i), "v", int64(10+i))
	}
	assert.Equal(t, modIter.HasNext(), true)
	assert.Equal(t, a.drain(t, b), 50)
	assert.Equal(t, modIter.HasNext(), false)

	size, _ := b.values.Size()
	assert.Equal(t, size, int64(50))
}

func TestDirtyEntriesResync(t *testing.T) {
	a := newTestReplica(1)
	b := newTestReplica(2)

	for i := 0; i < 10; i += 1 {
		a.put(fmt.Sprintf("k%d", i), "v", int64(100+i))
	}
	a.drain(t, b)

	// a resync from t=105 re-raises only the newer half
	modIter := a.replication.AcquireModificationIterator(2)
	assert.Equal(t, modIter.DirtyEntries(105), nil)
	assert.Equal(t, a.drain(t, b), 5)
}

func TestLastModificationTime(t *testing.T) {
	a := newTestReplica(1)
	b := newTestReplica(2)

	a.put("k1", "v", 100)
	a.put("k2", "v", 200)
	a.drain(t, b)

	assert.Equal(t, b.replication.LastModificationTime(1), int64(200))

	// monotone: an older value does not move it back
	b.replication.SetLastModificationTime(1, 150)
	assert.Equal(t, b.replication.LastModificationTime(1), int64(200))
}

func TestBootstrapTimestampPromotion(t *testing.T) {
	a := newTestReplica(1)

	modIter := a.replication.AcquireModificationIterator(2)

	// nothing pending: bootstrap timestamp is unset
	assert.Equal(t, a.replication.bootstrapTimestamp(2), int64(0))

	// an empty drain flags "needs bootstrap timestamp"; the next local
	// write publishes its timestamp as the candidate
	assert.Equal(t, modIter.ForEach(func(entry *ReplicationEntry) error {
		return nil
	}), nil)
	a.put("k", "v", 500)

	// the candidate promotes on read, once
	assert.Equal(t, a.replication.bootstrapTimestamp(2), int64(500))
	assert.Equal(t, a.replication.bootstrapTimestamp(2), int64(500))
}

func TestModificationNotifier(t *testing.T) {
	a := newTestReplica(1)
	modIter := a.replication.AcquireModificationIterator(2)

	notified := 0
	modIter.SetModificationNotifier(func() {
		notified += 1
	})
	a.put("k", "v", 10)
	a.put("k", "v2", 20)
	assert.Equal(t, notified, 2)
}

func TestAcquireModificationIteratorIdempotent(t *testing.T) {
	a := newTestReplica(1)
	first := a.replication.AcquireModificationIterator(7)
	second := a.replication.AcquireModificationIterator(7)
	if first != second {
		t.Fatal("expected the same iterator instance")
	}
}

func TestRecordCodec(t *testing.T) {
	record := replicationRecord{
		deleted:    true,
		timestamp:  12345678901234,
		identifier: 99,
	}
	record.setChange(0)
	record.setChange(63)
	record.setChange(64)
	record.setChange(MaxModificationIterators - 1)

	var buf [recordSize]byte
	var out replicationRecord
	assert.Equal(t, decodeRecord(record.encode(buf[:]), &out), nil)
	assert.Equal(t, out, record)

	assert.Equal(t, out.isChanged(0), true)
	assert.Equal(t, out.isChanged(1), false)
	assert.Equal(t, out.isChanged(64), true)
	out.clearChange(64)
	assert.Equal(t, out.isChanged(64), false)
}
