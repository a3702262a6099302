package engine

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// RemoteMap is the client-side map view: each operation is one wire event
// on the map's csp. Mutations with no defined result are fire-and-forget;
// the shared outbound lock keeps them ordered ahead of later calls from
// the same goroutine.
type RemoteMap struct {
	hub *ChannelHub
	rc  *RequestContext
	csp string
}

func NewRemoteMap(hub *ChannelHub, name string) *RemoteMap {
	return NewRemoteMapWithContext(hub, &RequestContext{
		Name:      name,
		View:      ViewMap,
		Bootstrap: true,
	})
}

func NewRemoteMapWithContext(hub *ChannelHub, rc *RequestContext) *RemoteMap {
	return &RemoteMap{
		hub: hub,
		rc:  rc,
		csp: rc.CSP(),
	}
}

func (self *RemoteMap) CSP() string {
	return self.csp
}

func eventDocument(event string, params ...wire.Field) *wire.Document {
	d := wire.NewDocument()
	d.Append(event, wire.NullValue())
	for _, p := range params {
		d.Append(p.Name, p.Value)
	}
	return d
}

func param(name string, v wire.Value) wire.Field {
	return wire.Field{Name: name, Value: v}
}

// replyOf extracts the reply field; a missing reply is a protocol error.
func replyOf(d *wire.Document) (wire.Value, error) {
	v, ok := d.Get(fieldReply)
	if !ok {
		return wire.Value{}, fmt.Errorf("%w: reply field missing", ErrProtocol)
	}
	return v, nil
}

func (self *RemoteMap) Put(key []byte, value []byte) error {
	return self.hub.ProxySend(self.csp, 0, eventDocument(evnPut,
		param(paramKey, wire.BytesValue(key)),
		param(paramValue, wire.BytesValue(value)),
	))
}

func (self *RemoteMap) Get(key []byte) ([]byte, bool, error) {
	r, err := self.hub.ProxyCall(self.csp, 0, eventDocument(evnGet,
		param(paramKey, wire.BytesValue(key)),
	))
	if err != nil {
		return nil, false, err
	}
	v, err := replyOf(r)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, false, nil
	}
	return v.Bytes, true, nil
}

func (self *RemoteMap) Remove(key []byte) error {
	return self.hub.ProxySend(self.csp, 0, eventDocument(evnRemove,
		param(paramKey, wire.BytesValue(key)),
	))
}

func (self *RemoteMap) bytesCall(d *wire.Document) ([]byte, bool, error) {
	r, err := self.hub.ProxyCall(self.csp, 0, d)
	if err != nil {
		return nil, false, err
	}
	v, err := replyOf(r)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, false, nil
	}
	return v.Bytes, true, nil
}

func (self *RemoteMap) boolCall(d *wire.Document) (bool, error) {
	r, err := self.hub.ProxyCall(self.csp, 0, d)
	if err != nil {
		return false, err
	}
	v, err := replyOf(r)
	if err != nil {
		return false, err
	}
	return v.Bool, nil
}

func (self *RemoteMap) GetAndPut(key []byte, value []byte) ([]byte, bool, error) {
	return self.bytesCall(eventDocument(evnGetAndPut,
		param(paramKey, wire.BytesValue(key)),
		param(paramValue, wire.BytesValue(value)),
	))
}

func (self *RemoteMap) GetAndRemove(key []byte) ([]byte, bool, error) {
	return self.bytesCall(eventDocument(evnGetAndRemove,
		param(paramKey, wire.BytesValue(key)),
	))
}

func (self *RemoteMap) PutIfAbsent(key []byte, value []byte) ([]byte, bool, error) {
	return self.bytesCall(eventDocument(evnPutIfAbsent,
		param(paramKey, wire.BytesValue(key)),
		param(paramValue, wire.BytesValue(value)),
	))
}

func (self *RemoteMap) Replace(key []byte, value []byte) ([]byte, bool, error) {
	return self.bytesCall(eventDocument(evnReplace,
		param(paramKey, wire.BytesValue(key)),
		param(paramValue, wire.BytesValue(value)),
	))
}

func (self *RemoteMap) ReplaceForOld(key []byte, oldValue []byte, newValue []byte) (bool, error) {
	return self.boolCall(eventDocument(evnReplaceForOld,
		param(paramKey, wire.BytesValue(key)),
		param(paramOldValue, wire.BytesValue(oldValue)),
		param(paramNewValue, wire.BytesValue(newValue)),
	))
}

func (self *RemoteMap) RemoveWithValue(key []byte, value []byte) (bool, error) {
	return self.boolCall(eventDocument(evnRemoveWithValue,
		param(paramKey, wire.BytesValue(key)),
		param(paramValue, wire.BytesValue(value)),
	))
}

func (self *RemoteMap) ContainsKey(key []byte) (bool, error) {
	return self.boolCall(eventDocument(evnContainsKey,
		param(paramKey, wire.BytesValue(key)),
	))
}

func (self *RemoteMap) ContainsValue(value []byte) (bool, error) {
	return self.boolCall(eventDocument(evnContainsValue,
		param(paramValue, wire.BytesValue(value)),
	))
}

func (self *RemoteMap) Size() (int64, error) {
	r, err := self.hub.ProxyCall(self.csp, 0, eventDocument(evnSize))
	if err != nil {
		return 0, err
	}
	v, err := replyOf(r)
	if err != nil {
		return 0, err
	}
	return v.Int, nil
}

func (self *RemoteMap) Clear() error {
	return self.hub.ProxySend(self.csp, 0, eventDocument(evnClear))
}

func (self *RemoteMap) collectionCall(event string) (*RemoteCollection, error) {
	r, err := self.hub.ProxyCall(self.csp, 0, eventDocument(event))
	if err != nil {
		return nil, err
	}
	v, err := replyOf(r)
	if err != nil {
		return nil, err
	}
	if v.Kind != wire.KindMarshallable || v.TypeName != "set-proxy" {
		return nil, fmt.Errorf("%w: expected set-proxy, got %s", ErrProtocol, v.Kind)
	}
	csp, _ := v.Doc.GetText(fieldCsp)
	cid, _ := v.Doc.GetInt64(fieldCid)
	return &RemoteCollection{
		hub: self.hub,
		csp: csp,
		cid: cid,
	}, nil
}

func (self *RemoteMap) KeySet() (*RemoteCollection, error) {
	return self.collectionCall(evnKeySet)
}

func (self *RemoteMap) Values() (*RemoteCollection, error) {
	return self.collectionCall(evnValues)
}

func (self *RemoteMap) EntrySet() (*RemoteCollection, error) {
	return self.collectionCall(evnEntrySet)
}

// Subscribe registers a streaming map-event subscription. Events arrive
// until Close; the subscription survives reconnects.
func (self *RemoteMap) Subscribe(onEvent func(e *MapEvent)) (*MapEventSubscription, error) {
	subCsp := self.rc.WithView(ViewSubscription).CSP()
	sub, err := self.hub.Subscribe(
		subCsp,
		func(d *wire.Document) {
			d.Append(evnRegisterSubscriber, wire.NullValue())
		},
		func(d *wire.Document) {
			v, ok := d.Get(fieldReply)
			if !ok || v.IsNull() {
				// terminal document
				return
			}
			m, err := wire.UnmarshalValue(v)
			if err != nil {
				glog.Infof("[hub]bad map event = %s\n", err)
				return
			}
			if e, ok := m.(*MapEvent); ok {
				onEvent(e)
			}
		},
		nil,
	)
	if err != nil {
		return nil, err
	}
	return &MapEventSubscription{
		hub: self.hub,
		csp: subCsp,
		sub: sub,
	}, nil
}

type MapEventSubscription struct {
	hub *ChannelHub
	csp string
	sub *AsyncSubscription
}

func (self *MapEventSubscription) Tid() int64 {
	return self.sub.Tid()
}

// Close unregisters on the server (terminal reply: null) and forgets the
// local listener.
func (self *MapEventSubscription) Close() error {
	err := self.hub.SendForTid(self.sub.Tid(), self.csp, 0, eventDocument(evnUnRegisterSubscriber))
	self.hub.Unsubscribe(self.sub.Tid())
	return err
}

// RemoteCollection addresses a server-side collection through its
// set-proxy csp/cid.
type RemoteCollection struct {
	hub *ChannelHub
	csp string
	cid int64
}

func (self *RemoteCollection) CSP() string {
	return self.csp
}

func (self *RemoteCollection) Cid() int64 {
	return self.cid
}

func (self *RemoteCollection) Size() (int64, error) {
	r, err := self.hub.ProxyCall(self.csp, self.cid, eventDocument(evnSize))
	if err != nil {
		return 0, err
	}
	v, err := replyOf(r)
	if err != nil {
		return 0, err
	}
	return v.Int, nil
}

func (self *RemoteCollection) Clear() error {
	return self.hub.ProxySend(self.csp, self.cid, eventDocument(evnClear))
}

func (self *RemoteCollection) Contains(element []byte) (bool, error) {
	r, err := self.hub.ProxyCall(self.csp, self.cid, eventDocument(evnContains,
		param(paramElement, wire.BytesValue(element)),
	))
	if err != nil {
		return false, err
	}
	v, err := replyOf(r)
	if err != nil {
		return false, err
	}
	return v.Bool, nil
}

// ForEach streams the collection, one element value per callback.
func (self *RemoteCollection) ForEach(fn func(v wire.Value)) error {
	return self.hub.ProxyStream(self.csp, self.cid, eventDocument(evnIterator), func(d *wire.Document) {
		v, ok := d.Get(fieldReply)
		if !ok || v.IsNull() {
			// terminal
			return
		}
		fn(v)
	})
}
