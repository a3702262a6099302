package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

type hubState int32

const (
	stateHandshake hubState = iota
	stateSubscribed
	stateStreaming
	stateClosed
)

func (self hubState) String() string {
	switch self {
	case stateHandshake:
		return "HANDSHAKE"
	case stateSubscribed:
		return "SUBSCRIBED"
	case stateStreaming:
		return "STREAMING"
	case stateClosed:
		return "CLOSED"
	}
	return "?"
}

// ReplicationHub drives one peer session: identifier exchange, bootstrap
// handshake, the replication subscription, and the event-loop pump that
// ships dirty entries. Inbound replicactionReply documents fold into the
// local store as they arrive on the subscription.
type ReplicationHub struct {
	hub         *ChannelHub
	eventLoop   *EventLoop
	replication *Replication
	csp         string

	state  atomic.Int32
	closed atomic.Bool

	sub *AsyncSubscription
}

func NewReplicationHub(name string, hub *ChannelHub, eventLoop *EventLoop, replication *Replication) *ReplicationHub {
	rc := &RequestContext{
		Name:      name,
		View:      ViewReplication,
		Bootstrap: true,
	}
	return &ReplicationHub{
		hub:         hub,
		eventLoop:   eventLoop,
		replication: replication,
		csp:         rc.CSP(),
	}
}

func (self *ReplicationHub) setState(s hubState) {
	self.state.Store(int32(s))
	glog.V(1).Infof("[re]%s session %s\n", self.csp, s)
}

func (self *ReplicationHub) State() string {
	return hubState(self.state.Load()).String()
}

// Bootstrap runs the session to the streaming state. On any handshake
// failure the session restarts cleanly from HANDSHAKE by calling it
// again.
func (self *ReplicationHub) Bootstrap() error {
	self.setState(stateHandshake)

	// identity exchange
	r, err := self.hub.ProxyCall(self.csp, 0, eventDocument(evnIdentifier))
	if err != nil {
		return err
	}
	idValue, ok := r.Get(evnIdentifierReply)
	if !ok {
		return fmt.Errorf("%w: no identifierReply", ErrProtocol)
	}
	if int(idValue.Int) < 0 || MaxModificationIterators <= int(idValue.Int) {
		return fmt.Errorf("%w: identifier out of range: %d", ErrProtocol, idValue.Int)
	}
	remoteIdentifier := byte(idValue.Int)

	modIter := self.replication.AcquireModificationIterator(remoteIdentifier)
	lastModificationTime := self.replication.LastModificationTime(remoteIdentifier)

	// bootstrap handshake: tell the remote what we have already seen from
	// it, learn the same about us
	local := &Bootstrap{
		Identifier:      self.replication.Identifier(),
		LastUpdatedTime: lastModificationTime,
	}
	bootstrapDoc := wire.NewDocument()
	bootstrapDoc.Append(evnBootstrap, wire.MarshalValue(local))
	r, err = self.hub.ProxyCall(self.csp, 0, bootstrapDoc)
	if err != nil {
		return err
	}
	bootstrapValue, ok := r.Get(evnBootstrapReply)
	if !ok {
		return fmt.Errorf("%w: no bootstrapReply", ErrProtocol)
	}
	m, err := wire.UnmarshalValue(bootstrapValue)
	if err != nil {
		return err
	}
	remoteBootstrap, ok := m.(*Bootstrap)
	if !ok {
		return fmt.Errorf("%w: bootstrapReply is %T", ErrProtocol, m)
	}

	modIter.SetModificationNotifier(self.eventLoop.Unpause)

	// subscribe: inbound replication events apply from here on
	localIdentifier := self.replication.Identifier()
	sub, err := self.hub.Subscribe(
		self.csp,
		func(d *wire.Document) {
			d.Append(evnReplicationSubscribe, wire.Int8Value(int8(localIdentifier)))
		},
		self.consume,
		nil,
	)
	if err != nil {
		return err
	}
	self.sub = sub
	self.setState(stateSubscribed)

	// force a resend of anything the remote may have missed, before the
	// first pump so nothing lands between subscribe and drain
	if err := modIter.DirtyEntries(remoteBootstrap.LastUpdatedTime); err != nil {
		return err
	}

	self.eventLoop.AddHandler(PriorityMedium, self.pump(sub.Tid(), modIter))
	self.setState(stateStreaming)
	return nil
}

func (self *ReplicationHub) consume(d *wire.Document) {
	name, v, ok := d.First()
	if !ok {
		return
	}
	if name != evnReplicationReply {
		glog.Infof("[re]%s unexpected event %q in %s\n", self.csp, name, self.State())
		return
	}
	m, err := wire.UnmarshalValue(v)
	if err != nil {
		glog.Infof("[re]%s bad entry = %s\n", self.csp, err)
		return
	}
	entry, ok := m.(*ReplicationEntry)
	if !ok {
		return
	}
	if err := self.replication.ApplyReplication(entry); err != nil {
		glog.Errorf("[re]%s apply error = %s\n", self.csp, err)
	}
}

// pump ships dirty entries as replicationEvent documents on the
// subscription tid. It reports "did work" per tick; close or an iterator
// assertion ends the handler through its error return.
func (self *ReplicationHub) pump(tid int64, modIter *ModificationIterator) HandlerFunc {
	return func() (bool, error) {
		if self.closed.Load() {
			self.setState(stateClosed)
			return false, ErrClosed
		}
		if !modIter.HasNext() {
			return false, nil
		}

		err := self.hub.Send(func(b *Batch) error {
			if err := writeMeta(b, tid, self.csp, 0); err != nil {
				return err
			}
			return modIter.ForEach(func(entry *ReplicationEntry) error {
				event := wire.NewDocument()
				event.Append(evnReplicationEvent, wire.MarshalValue(entry))
				return b.WriteData(true, event)
			})
		})
		if err != nil {
			if errors.Is(err, ErrAssertion) {
				glog.Errorf("[re]%s pump fatal = %s\n", self.csp, err)
				self.closed.Store(true)
				self.setState(stateClosed)
				return false, err
			}
			glog.Infof("[re]%s pump error = %s\n", self.csp, err)
			return false, nil
		}
		return true, nil
	}
}

func (self *ReplicationHub) Close() {
	self.closed.Store(true)
	self.setState(stateClosed)
	if self.sub != nil {
		self.hub.Unsubscribe(self.sub.Tid())
	}
}
