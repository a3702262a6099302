package engine

import (
	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// Map view events. Mutations that define no result are fire-and-forget;
// everything else replies on the same tid. putReturnsNull and
// removeReturnsNull suppress old-value replies for maps opened with those
// flags.
func (self *engineHandler) processMap(rc *RequestContext, tid int64, ev eventId, d *wire.Document) error {
	mapView, err := self.tree.Acquire(rc.FullName()).AcquireMapView()
	if err != nil {
		return err
	}

	switch ev {
	case evPut:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		value, ok := self.nullCheck(d, paramValue)
		if !ok {
			return nil
		}
		_, err := mapView.Put(key.Bytes, value.Bytes)
		return err

	case evRemove:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		_, err := mapView.Remove(key.Bytes)
		return err

	case evGet:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		value, present, err := mapView.Get(key.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, bytesOrNull(value, present))

	case evGetAndPut:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		value, ok := self.nullCheck(d, paramValue)
		if !ok {
			return nil
		}
		old, err := mapView.Put(key.Bytes, value.Bytes)
		if err != nil {
			return err
		}
		if rc.PutReturnsNull {
			return self.replyValue(tid, wire.NullValue())
		}
		return self.replyValue(tid, bytesOrNull(old, old != nil))

	case evGetAndRemove:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		old, err := mapView.Remove(key.Bytes)
		if err != nil {
			return err
		}
		if rc.RemoveReturnsNull {
			return self.replyValue(tid, wire.NullValue())
		}
		return self.replyValue(tid, bytesOrNull(old, old != nil))

	case evPutIfAbsent:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		value, ok := self.nullCheck(d, paramValue)
		if !ok {
			return nil
		}
		existing, err := mapView.PutIfAbsent(key.Bytes, value.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, bytesOrNull(existing, existing != nil))

	case evReplace:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		value, ok := self.nullCheck(d, paramValue)
		if !ok {
			return nil
		}
		old, replaced, err := mapView.Replace(key.Bytes, value.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, bytesOrNull(old, replaced))

	case evReplaceForOld:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		oldValue, ok := self.nullCheck(d, paramOldValue)
		if !ok {
			return nil
		}
		newValue, ok := self.nullCheck(d, paramNewValue)
		if !ok {
			return nil
		}
		replaced, err := mapView.ReplaceForOld(key.Bytes, oldValue.Bytes, newValue.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.BoolValue(replaced))

	case evRemoveWithValue:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		value, ok := self.nullCheck(d, paramValue)
		if !ok {
			return nil
		}
		removed, err := mapView.RemoveWithValue(key.Bytes, value.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.BoolValue(removed))

	case evContainsKey:
		key, ok := self.nullCheck(d, paramKey)
		if !ok {
			return nil
		}
		contains, err := mapView.ContainsKey(key.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.BoolValue(contains))

	case evContainsValue:
		value, ok := self.nullCheck(d, paramValue)
		if !ok {
			return nil
		}
		contains, err := mapView.ContainsValue(value.Bytes)
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.BoolValue(contains))

	case evSize:
		size, err := mapView.Size()
		if err != nil {
			return err
		}
		return self.replyValue(tid, wire.Int64Value(size))

	case evClear:
		return mapView.Clear()

	case evPutAll:
		entries, ok := d.Get("entries")
		if !ok || entries.Kind != wire.KindSequence {
			self.protocolViolation("putAll without entries sequence")
			return nil
		}
		for _, e := range entries.Sequence {
			if e.Kind != wire.KindMarshallable {
				continue
			}
			key, keyOk := e.Doc.GetBytes(paramKey)
			value, valueOk := e.Doc.GetBytes(paramValue)
			if !keyOk || !valueOk {
				continue
			}
			if _, err := mapView.Put(key, value); err != nil {
				return err
			}
		}
		return nil

	case evKeySet:
		return self.createProxy(rc, tid, ViewKeySet)
	case evValues:
		return self.createProxy(rc, tid, ViewValues)
	case evEntrySet:
		return self.createProxy(rc, tid, ViewEntrySet)
	}

	self.protocolViolation("event not valid on map view")
	return nil
}

// createProxy replies with a set-proxy naming a derived csp and a fresh
// cid, instead of materialising the collection into the reply.
func (self *engineHandler) createProxy(rc *RequestContext, tid int64, view string) error {
	derived := rc.WithView(view)
	csp := derived.CSP()
	cid := self.bindCid(csp)

	proxy := wire.NewDocument()
	proxy.Append(fieldCsp, wire.TextValue(csp))
	proxy.Append(fieldCid, wire.Int64Value(cid))
	return self.replyValue(tid, wire.TypedValue("set-proxy", proxy))
}

func bytesOrNull(b []byte, present bool) wire.Value {
	if !present {
		return wire.NullValue()
	}
	return wire.BytesValue(b)
}
