package engine

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// Server side of a replication session. The remote drives the handshake:
// identifier exchange, bootstap with its last-seen timestamp, then
// replicationSubscribe. From then on inbound replicationEvent documents
// are folded into the store and local dirty entries are pumped back as
// replicactionReply documents on the subscribe tid.
func (self *engineHandler) processReplication(rc *RequestContext, tid int64, ev eventId, d *wire.Document) error {
	mapView, err := self.tree.Acquire(rc.FullName()).AcquireMapView()
	if err != nil {
		return err
	}
	replication := mapView.Replication()

	switch ev {
	case evIdentifier:
		return self.reply(tid, func(reply *wire.Document) {
			reply.Append(evnIdentifierReply, wire.Int8Value(int8(replication.Identifier())))
		})

	case evBootstrap:
		_, v, _ := d.First()
		m, err := wire.UnmarshalValue(v)
		if err != nil {
			self.protocolViolation("bad bootstrap payload: %s", err)
			return nil
		}
		remoteBootstrap, ok := m.(*Bootstrap)
		if !ok {
			self.protocolViolation("bootstrap payload is %T", m)
			return nil
		}
		self.remoteBootstrap.Store(remoteBootstrap)
		glog.V(1).Infof("[dsp]%s replication bootstrap from %d lastUpdated=%d\n",
			self.sessionId, remoteBootstrap.Identifier, remoteBootstrap.LastUpdatedTime)

		self.tree.Root().AcquireTopologyView().Publish(&HostEvent{
			Identifier: remoteBootstrap.Identifier,
			Connected:  true,
			Address:    self.conn.RemoteAddr(),
		})

		local := &Bootstrap{
			Identifier:      replication.Identifier(),
			LastUpdatedTime: replication.LastModificationTime(remoteBootstrap.Identifier),
		}
		return self.reply(tid, func(reply *wire.Document) {
			reply.Append(evnBootstrapReply, wire.MarshalValue(local))
		})

	case evReplicationSubscribe:
		_, v, _ := d.First()
		if int(v.Int) < 0 || MaxModificationIterators <= int(v.Int) {
			self.protocolViolation("identifier out of range: %d", v.Int)
			return nil
		}
		remoteIdentifier := byte(v.Int)
		modIter := replication.AcquireModificationIterator(remoteIdentifier)
		modIter.SetModificationNotifier(self.server.eventLoop.Unpause)

		// resend anything the remote may have missed since its last-seen
		// timestamp, before the first pump
		if remoteBootstrap := self.remoteBootstrap.Load(); remoteBootstrap != nil {
			if err := modIter.DirtyEntries(remoteBootstrap.LastUpdatedTime); err != nil {
				return err
			}
		}

		self.server.eventLoop.AddHandler(PriorityMedium, self.replicationPump(tid, modIter))
		return nil

	case evReplicationEvent:
		_, v, _ := d.First()
		m, err := wire.UnmarshalValue(v)
		if err != nil {
			self.protocolViolation("bad replication entry: %s", err)
			return nil
		}
		entry, ok := m.(*ReplicationEntry)
		if !ok {
			self.protocolViolation("replication entry is %T", m)
			return nil
		}
		return replication.ApplyReplication(entry)
	}

	self.protocolViolation("event not valid on replication view")
	return nil
}

// replicationPump drains the peer's modification iterator on each event
// loop tick. It reports "did work"; session close or an iterator
// assertion terminates it through the error return.
func (self *engineHandler) replicationPump(tid int64, modIter *ModificationIterator) HandlerFunc {
	return func() (bool, error) {
		if self.replicationClosed.Load() || self.conn.IsClosed() {
			return false, ErrClosed
		}
		if !modIter.HasNext() {
			return false, nil
		}

		err := self.conn.Send(func(b *Batch) error {
			if err := writeMeta(b, tid, "", 0); err != nil {
				return err
			}
			return modIter.ForEach(func(entry *ReplicationEntry) error {
				event := wire.NewDocument()
				event.Append(evnReplicationReply, wire.MarshalValue(entry))
				return b.WriteData(true, event)
			})
		})
		if err != nil {
			if errors.Is(err, ErrAssertion) {
				glog.Errorf("[dsp]%s replication pump fatal = %s\n", self.sessionId, err)
				self.conn.Close()
			}
			return false, fmt.Errorf("replication pump: %w", err)
		}
		return true, nil
	}
}
