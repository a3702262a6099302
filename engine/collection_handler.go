package engine

import (
	"bytes"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// Collection events on set-proxy csps (keySet, entrySet, values). The
// proxy addresses the same underlying map; iteration streams one
// not-ready document per element so no single reply is unbounded.
func (self *engineHandler) processCollection(rc *RequestContext, tid int64, ev eventId, d *wire.Document) error {
	mapView, err := self.tree.Acquire(rc.FullName()).AcquireMapView()
	if err != nil {
		return err
	}

	switch ev {
	case evSize:
		size, err := mapView.Size()
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.Int64Value(size))

	case evClear:
		return mapView.Clear()

	case evContains:
		element, ok := self.nullCheck(d, paramElement)
		if !ok {
			return nil
		}
		var contains bool
		switch rc.View {
		case ViewKeySet:
			contains, err = mapView.ContainsKey(element.Bytes)
		case ViewValues:
			contains, err = mapView.ContainsValue(element.Bytes)
		default:
			self.protocolViolation("contains not valid on %s", rc.View)
			return nil
		}
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.BoolValue(contains))

	case evIterator:
		return self.streamCollection(rc, tid, mapView)
	}

	self.protocolViolation("event not valid on %s view", rc.View)
	return nil
}

// streamCollection emits each element as a not-ready document and a final
// ready null to terminate the iteration.
func (self *engineHandler) streamCollection(rc *RequestContext, tid int64, mapView *MapView) error {
	elements := []wire.Value{}
	err := mapView.ForEachEntry(func(key []byte, value []byte) bool {
		switch rc.View {
		case ViewKeySet:
			elements = append(elements, wire.BytesValue(bytes.Clone(key)))
		case ViewValues:
			elements = append(elements, wire.BytesValue(bytes.Clone(value)))
		case ViewEntrySet:
			entry := wire.NewDocument()
			entry.Append(paramKey, wire.BytesValue(bytes.Clone(key)))
			entry.Append(paramValue, wire.BytesValue(bytes.Clone(value)))
			elements = append(elements, wire.TypedValue("MapEntry", entry))
		}
		return true
	})
	if err != nil {
		return err
	}

	return self.conn.Send(func(b *Batch) error {
		if err := writeMeta(b, tid, "", 0); err != nil {
			return err
		}
		for _, element := range elements {
			d := wire.NewDocument()
			d.Append(fieldReply, element)
			if err := b.WriteData(false, d); err != nil {
				return err
			}
		}
		terminal := wire.NewDocument()
		terminal.Append(fieldReply, wire.NullValue())
		return b.WriteData(true, terminal)
	})
}
