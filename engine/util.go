package engine

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// comparable
type SessionId [16]byte

func NewSessionId() SessionId {
	return SessionId(ulid.Make())
}

func (self SessionId) String() string {
	return ulid.ULID(self).String()
}

// Monitor is an edge-triggered wakeup. Waiters select on NotifyChannel;
// NotifyAll closes the current channel and installs a fresh one, so a
// notification is never lost between a check and a wait.
type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// CallbackList is a copy-on-write callback registry. Get returns a stable
// snapshot so callbacks can be invoked without holding the lock.
type CallbackList[T any] struct {
	mutex    sync.Mutex
	nextId   int
	entries  []callbackEntry[T]
	snapshot []T
}

type callbackEntry[T any] struct {
	callbackId int
	callback   T
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.snapshot
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextId += 1
	callbackId := self.nextId
	self.entries = append(self.entries, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.updateSnapshot()
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for i, entry := range self.entries {
		if entry.callbackId == callbackId {
			self.entries = append(self.entries[:i], self.entries[i+1:]...)
			self.updateSnapshot()
			return
		}
	}
}

func (self *CallbackList[T]) updateSnapshot() {
	snapshot := make([]T, len(self.entries))
	for i, entry := range self.entries {
		snapshot[i] = entry.callback
	}
	self.snapshot = snapshot
}
