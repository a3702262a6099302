package engine

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// MapEvent types as they cross the wire.
const (
	MapEventInsert int8 = 1
	MapEventUpdate int8 = 2
	MapEventRemove int8 = 3
)

type MapEvent struct {
	Type     int8
	Key      []byte
	Value    []byte
	OldValue []byte
}

func (self *MapEvent) TypeName() string {
	return "MapEvent"
}

func (self *MapEvent) MarshalWire(d *wire.Document) {
	d.Append("eventType", wire.Int8Value(self.Type))
	d.Append(paramKey, wire.BytesValue(self.Key))
	switch self.Type {
	case MapEventInsert:
		d.Append(paramNewValue, wire.BytesValue(self.Value))
	case MapEventUpdate:
		d.Append(paramOldValue, wire.BytesValue(self.OldValue))
		d.Append(paramNewValue, wire.BytesValue(self.Value))
	case MapEventRemove:
		d.Append(paramOldValue, wire.BytesValue(self.OldValue))
	}
}

func (self *MapEvent) UnmarshalWire(d *wire.Document) error {
	eventType, ok := d.GetInt64("eventType")
	if !ok {
		return fmt.Errorf("map event has no type")
	}
	self.Type = int8(eventType)
	self.Key, _ = d.GetBytes(paramKey)
	self.Value, _ = d.GetBytes(paramNewValue)
	self.OldValue, _ = d.GetBytes(paramOldValue)
	return nil
}

func init() {
	wire.Register("MapEvent", func() wire.Marshallable {
		return &MapEvent{}
	})
}

// MapView is the server-side map projection of an asset: plain byte KV
// over a Store, with every mutation recorded into the replication state
// store and published to key-value subscribers. Read-modify-write pairs
// are serialised by a view lock; the replication records themselves stay
// CAS-only.
type MapView struct {
	name       string
	store      Store
	records    Store
	replicator *Replication

	mutex       sync.Mutex
	subscribers CallbackList[func(e *MapEvent)]
}

func newMapView(name string, identifier byte, values Store, records Store) *MapView {
	view := &MapView{
		name:    name,
		store:   values,
		records: records,
	}
	view.replicator = NewReplication(identifier, records, view.applyReplicatedChange, view.getValue)
	return view
}

func (self *MapView) Name() string {
	return self.name
}

func (self *MapView) Replication() *Replication {
	return self.replicator
}

// applyReplicatedChange is the change applier handed to the replication
// store: it mutates the user-visible values for an accepted remote entry
// and tells subscribers, without touching dirty state.
func (self *MapView) applyReplicatedChange(entry *ReplicationEntry) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	old, present, err := self.store.Get(entry.Key)
	if err != nil {
		return err
	}
	if entry.Deleted {
		if !present {
			return nil
		}
		if err := self.store.Delete(entry.Key); err != nil {
			return err
		}
		self.publish(&MapEvent{Type: MapEventRemove, Key: entry.Key, OldValue: old})
		return nil
	}
	if err := self.store.Put(entry.Key, entry.Value); err != nil {
		return err
	}
	if present {
		self.publish(&MapEvent{Type: MapEventUpdate, Key: entry.Key, Value: entry.Value, OldValue: old})
	} else {
		self.publish(&MapEvent{Type: MapEventInsert, Key: entry.Key, Value: entry.Value})
	}
	return nil
}

func (self *MapView) getValue(key []byte) ([]byte, error) {
	value, _, err := self.store.Get(key)
	return value, err
}

func (self *MapView) publish(e *MapEvent) {
	for _, subscriber := range self.subscribers.Get() {
		subscriber(e)
	}
}

func (self *MapView) Subscribe(subscriber func(e *MapEvent)) int {
	return self.subscribers.Add(subscriber)
}

func (self *MapView) Unsubscribe(subscriberId int) {
	self.subscribers.Remove(subscriberId)
}

func (self *MapView) Get(key []byte) ([]byte, bool, error) {
	return self.store.Get(key)
}

// Put upserts and returns the prior value.
func (self *MapView) Put(key []byte, value []byte) ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	old, present, err := self.store.Get(key)
	if err != nil {
		return nil, err
	}
	if err := self.store.Put(key, value); err != nil {
		return nil, err
	}
	self.replicator.OnPut(key, NextTimestamp())
	if present {
		self.publish(&MapEvent{Type: MapEventUpdate, Key: key, Value: value, OldValue: old})
	} else {
		self.publish(&MapEvent{Type: MapEventInsert, Key: key, Value: value})
	}
	return old, nil
}

// Remove deletes and returns the prior value.
func (self *MapView) Remove(key []byte) ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.removeLocked(key)
}

func (self *MapView) removeLocked(key []byte) ([]byte, error) {
	old, present, err := self.store.Get(key)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	if err := self.store.Delete(key); err != nil {
		return nil, err
	}
	self.replicator.OnRemove(key, NextTimestamp())
	self.publish(&MapEvent{Type: MapEventRemove, Key: key, OldValue: old})
	return old, nil
}

func (self *MapView) PutIfAbsent(key []byte, value []byte) ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	existing, present, err := self.store.Get(key)
	if err != nil {
		return nil, err
	}
	if present {
		return existing, nil
	}
	if err := self.store.Put(key, value); err != nil {
		return nil, err
	}
	self.replicator.OnPut(key, NextTimestamp())
	self.publish(&MapEvent{Type: MapEventInsert, Key: key, Value: value})
	return nil, nil
}

// Replace stores value only if the key is present, returning the prior
// value and whether the replace happened.
func (self *MapView) Replace(key []byte, value []byte) ([]byte, bool, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	old, present, err := self.store.Get(key)
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	if err := self.store.Put(key, value); err != nil {
		return nil, false, err
	}
	self.replicator.OnPut(key, NextTimestamp())
	self.publish(&MapEvent{Type: MapEventUpdate, Key: key, Value: value, OldValue: old})
	return old, true, nil
}

func (self *MapView) ReplaceForOld(key []byte, oldValue []byte, newValue []byte) (bool, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	current, present, err := self.store.Get(key)
	if err != nil {
		return false, err
	}
	if !present || !bytes.Equal(current, oldValue) {
		return false, nil
	}
	if err := self.store.Put(key, newValue); err != nil {
		return false, err
	}
	self.replicator.OnPut(key, NextTimestamp())
	self.publish(&MapEvent{Type: MapEventUpdate, Key: key, Value: newValue, OldValue: current})
	return true, nil
}

func (self *MapView) RemoveWithValue(key []byte, value []byte) (bool, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	current, present, err := self.store.Get(key)
	if err != nil {
		return false, err
	}
	if !present || !bytes.Equal(current, value) {
		return false, nil
	}
	if _, err := self.removeLocked(key); err != nil {
		return false, err
	}
	return true, nil
}

func (self *MapView) ContainsKey(key []byte) (bool, error) {
	_, present, err := self.store.Get(key)
	return present, err
}

func (self *MapView) ContainsValue(value []byte) (bool, error) {
	found := false
	err := self.ForEachEntry(func(key []byte, v []byte) bool {
		if bytes.Equal(v, value) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

func (self *MapView) Size() (int64, error) {
	return self.store.Size()
}

// Clear removes every key one by one so each removal leaves a tombstone
// for replication.
func (self *MapView) Clear() error {
	keys := [][]byte{}
	if err := self.store.ForEachKey(func(key []byte) bool {
		keys = append(keys, append([]byte{}, key...))
		return true
	}); err != nil {
		return err
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, key := range keys {
		if _, err := self.removeLocked(key); err != nil {
			return err
		}
	}
	return nil
}

func (self *MapView) ForEachKey(fn func(key []byte) bool) error {
	return self.store.ForEachKey(fn)
}

func (self *MapView) ForEachEntry(fn func(key []byte, value []byte) bool) error {
	return self.store.ForEachKey(func(key []byte) bool {
		value, present, err := self.store.Get(key)
		if err != nil || !present {
			return true
		}
		return fn(key, value)
	})
}

func (self *MapView) close() {
	self.store.Close()
	self.records.Close()
}
