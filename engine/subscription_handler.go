package engine

import (
	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// C4: map-event subscriptions. registerSubscriber binds this connection's
// tid to a listener on the asset's map view; every event enqueues a
// publish task that writes the tid's meta followed by a not-ready data
// document, so the logical reply never terminates until unsubscribe.
func (self *engineHandler) processSubscription(rc *RequestContext, tid int64, ev eventId, d *wire.Document) error {
	switch ev {
	case evRegisterSubscriber:
		mapView, err := self.tree.Acquire(rc.FullName()).AcquireMapView()
		if err != nil {
			return err
		}
		subscriberId := mapView.Subscribe(func(e *MapEvent) {
			event := *e
			self.publisher.add(func(b *Batch) error {
				if err := writeMeta(b, tid, "", 0); err != nil {
					return err
				}
				reply := wire.NewDocument()
				reply.Append(fieldReply, wire.MarshalValue(&event))
				return b.WriteData(false, reply)
			})
		})
		self.addListener(tid, func() {
			mapView.Unsubscribe(subscriberId)
		})
		return nil

	case evUnRegisterSubscriber:
		cleanup, ok := self.removeListener(tid)
		if !ok {
			glog.Infof("[dsp]%s no subscriber to unregister for tid=%d\n", self.sessionId, tid)
		} else {
			cleanup()
		}
		// terminal document: the subscription's last reply
		self.publisher.add(func(b *Batch) error {
			if err := writeMeta(b, tid, "", 0); err != nil {
				return err
			}
			terminal := wire.NewDocument()
			terminal.Append(fieldReply, wire.NullValue())
			return b.WriteData(true, terminal)
		})
		return nil
	}

	self.protocolViolation("event not valid on subscription view")
	return nil
}

func (self *engineHandler) processTopology(rc *RequestContext, tid int64, ev eventId, d *wire.Document) error {
	switch ev {
	case evRegisterTopologySubscriber:
		topology := self.tree.Acquire(rc.FullName()).AcquireTopologyView()
		subscriberId := topology.Subscribe(func(e *HostEvent) {
			event := *e
			self.publisher.add(func(b *Batch) error {
				if err := writeMeta(b, tid, "", 0); err != nil {
					return err
				}
				reply := wire.NewDocument()
				reply.Append(fieldReply, wire.MarshalValue(&event))
				return b.WriteData(false, reply)
			})
		})
		self.addListener(tid, func() {
			topology.Unsubscribe(subscriberId)
		})
		return nil

	case evUnRegisterSubscriber:
		cleanup, ok := self.removeListener(tid)
		if !ok {
			glog.Infof("[dsp]%s no topology subscriber for tid=%d\n", self.sessionId, tid)
		} else {
			cleanup()
		}
		self.publisher.add(func(b *Batch) error {
			if err := writeMeta(b, tid, "", 0); err != nil {
				return err
			}
			terminal := wire.NewDocument()
			terminal.Append(fieldReply, wire.NullValue())
			return b.WriteData(true, terminal)
		})
		return nil
	}

	self.protocolViolation("event not valid on topology view")
	return nil
}
