package engine

import (
	"fmt"
	"sync/atomic"
)

// ModificationIterator is the per-peer cursor over keys whose dirty bit
// for that peer is raised. Entries are delivered at least once and not in
// timestamp order; the receiving side's conflict rule keeps replicas
// convergent regardless.
type ModificationIterator struct {
	r          *Replication
	identifier int

	notifier atomic.Pointer[func()]
}

func newModificationIterator(r *Replication, identifier int) *ModificationIterator {
	return &ModificationIterator{
		r:          r,
		identifier: identifier,
	}
}

// ForEach presents every dirty entry to consumer, clearing each dirty bit
// after the consumer accepts it. A clear that fails means the record
// moved underneath an entry the consumer already saw, which is an
// assertion violation fatal to the session. A drain that found nothing
// flags the peer for a fresh bootstrap timestamp on the next local write.
func (self *ModificationIterator) ForEach(consumer func(entry *ReplicationEntry) error) error {
	var record replicationRecord
	var next replicationRecord
	var oldBuf [recordSize]byte
	var nextBuf [recordSize]byte

	count := 0
	var iterErr error
	self.r.records.ForEachKey(func(key []byte) bool {
		recordBytes, present, err := self.r.records.Get(key)
		if err != nil || !present {
			return true
		}
		if err := decodeRecord(recordBytes, &record); err != nil {
			iterErr = err
			return false
		}
		if !record.isChanged(self.identifier) {
			return true
		}

		entry := ReplicationEntry{
			Key:                key,
			Deleted:            record.deleted,
			Timestamp:          record.timestamp,
			Identifier:         record.identifier,
			BootstrapTimestamp: self.r.bootstrapTimestamp(self.identifier),
		}
		if !record.deleted {
			value, err := self.r.getValue(key)
			if err != nil {
				iterErr = err
				return false
			}
			entry.Value = value
		}
		if err := consumer(&entry); err != nil {
			iterErr = err
			return false
		}

		next = record
		next.clearChange(self.identifier)
		copy(oldBuf[:], recordBytes)
		replaced, err := self.r.records.ReplaceIfEqual(key, oldBuf[:], next.encode(nextBuf[:]))
		if err != nil {
			iterErr = err
			return false
		}
		if !replaced {
			iterErr = fmt.Errorf("%w: record changed under delivered entry", ErrAssertion)
			return false
		}
		count += 1
		return true
	})
	if iterErr != nil {
		return iterErr
	}

	if count == 0 {
		self.r.needsBootstrapTs.Set(self.identifier)
		self.r.resetNextBootstrapTimestamp(self.identifier)
	}
	return nil
}

// HasNext scans for a dirty entry without side effects.
func (self *ModificationIterator) HasNext() bool {
	var record replicationRecord
	found := false
	self.r.records.ForEachKey(func(key []byte) bool {
		recordBytes, present, err := self.r.records.Get(key)
		if err != nil || !present {
			return true
		}
		if err := decodeRecord(recordBytes, &record); err != nil {
			return true
		}
		if record.isChanged(self.identifier) {
			found = true
			return false
		}
		return true
	})
	return found
}

// DirtyEntries re-raises this peer's dirty bit on every record stamped at
// or after fromTimestamp, forcing a resend after a reconnection.
func (self *ModificationIterator) DirtyEntries(fromTimestamp int64) error {
	var record replicationRecord
	var next replicationRecord
	var oldBuf [recordSize]byte
	var nextBuf [recordSize]byte

	var iterErr error
	self.r.records.ForEachKey(func(key []byte) bool {
		for {
			recordBytes, present, err := self.r.records.Get(key)
			if err != nil {
				iterErr = err
				return false
			}
			if !present {
				return true
			}
			if err := decodeRecord(recordBytes, &record); err != nil {
				iterErr = err
				return false
			}
			if record.timestamp < fromTimestamp {
				return true
			}
			next = record
			next.setChange(self.identifier)
			copy(oldBuf[:], recordBytes)
			replaced, err := self.r.records.ReplaceIfEqual(key, oldBuf[:], next.encode(nextBuf[:]))
			if err != nil {
				iterErr = err
				return false
			}
			if replaced {
				return true
			}
		}
	})
	return iterErr
}

// SetModificationNotifier installs the hook run after every dirty-bit
// raise for this peer, typically the event loop's Unpause.
func (self *ModificationIterator) SetModificationNotifier(notifier func()) {
	self.notifier.Store(&notifier)
}

func (self *ModificationIterator) modNotify() {
	if notifier := self.notifier.Load(); notifier != nil {
		(*notifier)()
	}
}
