package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// Multi-master replication state. Every key carries a replication record
// (tombstone flag, logical timestamp, originating identifier and one
// dirty bit per possible remote peer); every possible remote identifier
// carries bootstrap/last-modification state. All record updates go
// through the store's CAS primitives; there is no store-wide lock.

const ReservedModIter = 8
const MaxModificationIterators = 127 + ReservedModIter

// a 64 bit word serves 64 dirty bits
const dirtyWordCount = (MaxModificationIterators + 63) / 64

const recordSize = 10 + 8*dirtyWordCount

func idToInt(identifier byte) int {
	return int(identifier) & 0xff
}

type replicationRecord struct {
	deleted    bool
	timestamp  int64
	identifier byte
	dirtyWords [dirtyWordCount]uint64
}

func (self *replicationRecord) encode(b []byte) []byte {
	if self.deleted {
		b[0] = 1
	} else {
		b[0] = 0
	}
	binary.LittleEndian.PutUint64(b[1:], uint64(self.timestamp))
	b[9] = self.identifier
	for i := 0; i < dirtyWordCount; i += 1 {
		binary.LittleEndian.PutUint64(b[10+8*i:], self.dirtyWords[i])
	}
	return b[:recordSize]
}

func decodeRecord(b []byte, r *replicationRecord) error {
	if len(b) != recordSize {
		return fmt.Errorf("bad replication record size: %d", len(b))
	}
	r.deleted = b[0] != 0
	r.timestamp = int64(binary.LittleEndian.Uint64(b[1:]))
	r.identifier = b[9]
	for i := 0; i < dirtyWordCount; i += 1 {
		r.dirtyWords[i] = binary.LittleEndian.Uint64(b[10+8*i:])
	}
	return nil
}

func (self *replicationRecord) raiseChange() {
	for i := 0; i < dirtyWordCount; i += 1 {
		self.dirtyWords[i] = ^uint64(0)
	}
}

func (self *replicationRecord) dropChange() {
	for i := 0; i < dirtyWordCount; i += 1 {
		self.dirtyWords[i] = 0
	}
}

func (self *replicationRecord) setChange(identifier int) {
	self.dirtyWords[identifier/64] |= 1 << (identifier % 64)
}

func (self *replicationRecord) clearChange(identifier int) {
	self.dirtyWords[identifier/64] &^= 1 << (identifier % 64)
}

func (self *replicationRecord) isChanged(identifier int) bool {
	return self.dirtyWords[identifier/64]&(1<<(identifier%64)) != 0
}

// atomicBitset is a fixed word-level bitset for the active-iterator and
// needs-bootstrap-timestamp sets.
type atomicBitset struct {
	words [dirtyWordCount]atomic.Uint64
}

func (self *atomicBitset) Set(i int) {
	self.words[i/64].Or(1 << (i % 64))
}

func (self *atomicBitset) IsSet(i int) bool {
	return self.words[i/64].Load()&(1<<(i%64)) != 0
}

// ClearIfSet clears bit i and reports whether it was set, atomically.
func (self *atomicBitset) ClearIfSet(i int) bool {
	bit := uint64(1) << (i % 64)
	prev := self.words[i/64].And(^bit)
	return prev&bit != 0
}

// NextSetBit returns the first set bit at or after from, or -1.
func (self *atomicBitset) NextSetBit(from int) int {
	for i := from; i < MaxModificationIterators; i += 1 {
		if self.IsSet(i) {
			return i
		}
	}
	return -1
}

type peerState struct {
	lastBootstrapTs      int64
	nextBootstrapTs      int64
	lastModificationTime int64
}

// ReplicationEntry is one replicated change as it crosses the wire.
type ReplicationEntry struct {
	Key                []byte
	Value              []byte
	Deleted            bool
	Timestamp          int64
	Identifier         byte
	BootstrapTimestamp int64
}

func (self *ReplicationEntry) TypeName() string {
	return "ReplicationEntry"
}

func (self *ReplicationEntry) MarshalWire(d *wire.Document) {
	d.Append(paramKey, wire.BytesValue(self.Key))
	if self.Value != nil {
		d.Append(paramValue, wire.BytesValue(self.Value))
	} else {
		d.Append(paramValue, wire.NullValue())
	}
	d.Append("deleted", wire.BoolValue(self.Deleted))
	d.Append("timestamp", wire.Int64Value(self.Timestamp))
	d.Append(paramIdentifier, wire.Int8Value(int8(self.Identifier)))
	d.Append("bootStrapTimeStamp", wire.Int64Value(self.BootstrapTimestamp))
}

func (self *ReplicationEntry) UnmarshalWire(d *wire.Document) error {
	key, ok := d.GetBytes(paramKey)
	if !ok {
		return fmt.Errorf("replication entry has no key")
	}
	self.Key = key
	self.Value, _ = d.GetBytes(paramValue)
	self.Deleted, _ = d.GetBool("deleted")
	self.Timestamp, _ = d.GetInt64("timestamp")
	identifier, _ := d.GetInt64(paramIdentifier)
	self.Identifier = byte(identifier)
	self.BootstrapTimestamp, _ = d.GetInt64("bootStrapTimeStamp")
	return nil
}

// Bootstrap is the handshake payload naming a peer and the highest
// timestamp it has already been told everything below.
type Bootstrap struct {
	Identifier      byte
	LastUpdatedTime int64
}

func (self *Bootstrap) TypeName() string {
	return "Bootstrap"
}

func (self *Bootstrap) MarshalWire(d *wire.Document) {
	d.Append(paramIdentifier, wire.Int8Value(int8(self.Identifier)))
	d.Append("lastUpdatedTime", wire.Int64Value(self.LastUpdatedTime))
}

func (self *Bootstrap) UnmarshalWire(d *wire.Document) error {
	identifier, _ := d.GetInt64(paramIdentifier)
	self.Identifier = byte(identifier)
	self.LastUpdatedTime, _ = d.GetInt64("lastUpdatedTime")
	return nil
}

func init() {
	wire.Register("ReplicationEntry", func() wire.Marshallable {
		return &ReplicationEntry{}
	})
	wire.Register("Bootstrap", func() wire.Marshallable {
		return &Bootstrap{}
	})
}

// ChangeApplier mutates the underlying value store for an accepted remote
// entry (upsert or delete).
type ChangeApplier func(entry *ReplicationEntry) error

// ValueGetter reads the current user-visible value for a key.
type ValueGetter func(key []byte) ([]byte, error)

type Replication struct {
	identifier byte

	// key -> encoded replicationRecord, updated only by CAS
	records Store

	applyChange ChangeApplier
	getValue    ValueGetter

	peerStates [256]atomic.Pointer[peerState]

	iteratorsMutex sync.Mutex
	iterators      [MaxModificationIterators]atomic.Pointer[ModificationIterator]

	// peers with a live iterator; fan-out targets of every local change
	modIterSet atomicBitset
	// peers whose next local change must publish a bootstrap timestamp
	needsBootstrapTs atomicBitset
}

func NewReplication(identifier byte, records Store, applyChange ChangeApplier, getValue ValueGetter) *Replication {
	replication := &Replication{
		identifier:  identifier,
		records:     records,
		applyChange: applyChange,
		getValue:    getValue,
	}
	zero := &peerState{}
	for i := range replication.peerStates {
		replication.peerStates[i].Store(zero)
	}
	return replication
}

func (self *Replication) Identifier() byte {
	return self.identifier
}

// casPeerState retries mutate until the state CAS lands. mutate returns
// false to abandon the update.
func (self *Replication) casPeerState(remoteIdentifier int, mutate func(old peerState) (peerState, bool)) bool {
	slot := &self.peerStates[remoteIdentifier]
	for {
		old := slot.Load()
		next, ok := mutate(*old)
		if !ok {
			return false
		}
		if slot.CompareAndSwap(old, &next) {
			return true
		}
	}
}

func (self *Replication) resetNextBootstrapTimestamp(remoteIdentifier int) {
	self.casPeerState(remoteIdentifier, func(old peerState) (peerState, bool) {
		old.nextBootstrapTs = 0
		return old, true
	})
}

func (self *Replication) resetLastBootstrapTimestamp(remoteIdentifier int) {
	self.casPeerState(remoteIdentifier, func(old peerState) (peerState, bool) {
		old.lastBootstrapTs = 0
		return old, true
	})
}

// setNextBootstrapTimestamp publishes a candidate bootstrap timestamp,
// asserting it was previously unset.
func (self *Replication) setNextBootstrapTimestamp(remoteIdentifier int, timestamp int64) bool {
	return self.casPeerState(remoteIdentifier, func(old peerState) (peerState, bool) {
		if old.nextBootstrapTs != 0 {
			return old, false
		}
		old.nextBootstrapTs = timestamp
		return old, true
	})
}

// bootstrapTimestamp promotes the pending candidate, if any, and returns
// the timestamp the remote should replay from.
func (self *Replication) bootstrapTimestamp(remoteIdentifier int) int64 {
	slot := &self.peerStates[remoteIdentifier]
	for {
		old := slot.Load()
		if old.nextBootstrapTs == 0 {
			return old.lastBootstrapTs
		}
		next := *old
		next.lastBootstrapTs = old.nextBootstrapTs
		next.nextBootstrapTs = 0
		if slot.CompareAndSwap(old, &next) {
			return next.lastBootstrapTs
		}
	}
}

func (self *Replication) LastModificationTime(remoteIdentifier byte) int64 {
	return self.peerStates[idToInt(remoteIdentifier)].Load().lastModificationTime
}

func (self *Replication) SetLastModificationTime(remoteIdentifier byte, timestamp int64) {
	self.casPeerState(idToInt(remoteIdentifier), func(old peerState) (peerState, bool) {
		if timestamp <= old.lastModificationTime {
			return old, false
		}
		old.lastModificationTime = timestamp
		return old, true
	})
}

func (self *Replication) OnPut(key []byte, timestamp int64) {
	self.onChange(key, false, timestamp)
}

func (self *Replication) OnRemove(key []byte, timestamp int64) {
	self.onChange(key, true, timestamp)
}

// onChange records a local mutation: monotonise the timestamp, stamp the
// local identifier, raise every dirty bit and wake the active iterators.
func (self *Replication) onChange(key []byte, deleted bool, changeTimestamp int64) {
	var old replicationRecord
	var next replicationRecord
	var oldBuf [recordSize]byte
	var nextBuf [recordSize]byte

	for {
		oldBytes, present, err := self.records.Get(key)
		if err != nil {
			glog.Errorf("[re]record load error = %s\n", err)
			return
		}
		timestamp := changeTimestamp
		if present {
			if err := decodeRecord(oldBytes, &old); err != nil {
				glog.Errorf("[re]record decode error = %s\n", err)
				return
			}
			if timestamp <= old.timestamp {
				timestamp = old.timestamp + 1
			}
		}
		next = replicationRecord{
			deleted:    deleted,
			timestamp:  timestamp,
			identifier: self.identifier,
		}
		next.raiseChange()

		var updated bool
		if present {
			copy(oldBuf[:], oldBytes)
			updated, err = self.records.ReplaceIfEqual(key, oldBuf[:], next.encode(nextBuf[:]))
		} else {
			var prior []byte
			prior, err = self.records.PutIfAbsent(key, next.encode(nextBuf[:]))
			updated = prior == nil
		}
		if err != nil {
			glog.Errorf("[re]record store error = %s\n", err)
			return
		}
		if updated {
			self.fanOut(timestamp)
			return
		}
	}
}

func (self *Replication) fanOut(changeTimestamp int64) {
	for next := self.modIterSet.NextSetBit(0); 0 <= next; next = self.modIterSet.NextSetBit(next + 1) {
		if modIter := self.iterators[next].Load(); modIter != nil {
			modIter.modNotify()
		}
		if self.needsBootstrapTs.ClearIfSet(next) {
			if !self.setNextBootstrapTimestamp(next, changeTimestamp) {
				glog.Errorf("[re]%s\n", ErrAssertion)
			}
		}
	}
}

func shouldApplyRemoteModification(entry *ReplicationEntry, local *replicationRecord) bool {
	// newer timestamp wins; ties break toward the smaller identifier
	return entry.Timestamp > local.timestamp ||
		(entry.Timestamp == local.timestamp && entry.Identifier <= local.identifier)
}

// ApplyReplication folds one remote entry into the local store under the
// deterministic conflict rule. The arrival itself raises no dirty bits.
func (self *Replication) ApplyReplication(entry *ReplicationEntry) error {
	var old replicationRecord
	var next replicationRecord
	var oldBuf [recordSize]byte
	var nextBuf [recordSize]byte

	for {
		oldBytes, present, err := self.records.Get(entry.Key)
		if err != nil {
			return err
		}
		if present {
			if err := decodeRecord(oldBytes, &old); err != nil {
				return err
			}
			if !shouldApplyRemoteModification(entry, &old) {
				break
			}
		}

		if err := self.applyChange(entry); err != nil {
			return err
		}
		next = replicationRecord{
			deleted:    entry.Deleted,
			timestamp:  entry.Timestamp,
			identifier: entry.Identifier,
		}

		var updated bool
		if present {
			copy(oldBuf[:], oldBytes)
			updated, err = self.records.ReplaceIfEqual(entry.Key, oldBuf[:], next.encode(nextBuf[:]))
		} else {
			var prior []byte
			prior, err = self.records.PutIfAbsent(entry.Key, next.encode(nextBuf[:]))
			updated = prior == nil
		}
		if err != nil {
			return err
		}
		if updated {
			break
		}
	}

	self.SetLastModificationTime(entry.Identifier, entry.Timestamp)
	return nil
}

// AcquireModificationIterator lazily creates the per-peer iterator and
// registers the peer as an active fan-out target. Idempotent. The
// identifier must be below MaxModificationIterators; the wire handlers
// validate before calling.
func (self *Replication) AcquireModificationIterator(remoteIdentifier byte) *ModificationIterator {
	id := idToInt(remoteIdentifier)
	if MaxModificationIterators <= id {
		panic(fmt.Sprintf("identifier out of range: %d", id))
	}
	if modIter := self.iterators[id].Load(); modIter != nil {
		return modIter
	}

	self.iteratorsMutex.Lock()
	defer self.iteratorsMutex.Unlock()

	if modIter := self.iterators[id].Load(); modIter != nil {
		return modIter
	}

	modIter := newModificationIterator(self, id)
	self.needsBootstrapTs.Set(id)
	self.resetNextBootstrapTimestamp(id)
	self.resetLastBootstrapTimestamp(id)

	self.iterators[id].Store(modIter)
	self.modIterSet.Set(id)
	return modIter
}

// NextTimestamp produces the logical write time for a local mutation.
func NextTimestamp() int64 {
	return time.Now().UnixMilli()
}
