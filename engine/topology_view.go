package engine

import (
	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// HostEvent announces a peer session coming or going. Topology carries no
// membership discovery; it only reflects the wire.
type HostEvent struct {
	Identifier byte
	Connected  bool
	Address    string
}

func (self *HostEvent) TypeName() string {
	return "HostEvent"
}

func (self *HostEvent) MarshalWire(d *wire.Document) {
	d.Append(paramIdentifier, wire.Int8Value(int8(self.Identifier)))
	d.Append("connected", wire.BoolValue(self.Connected))
	d.Append("address", wire.TextValue(self.Address))
}

func (self *HostEvent) UnmarshalWire(d *wire.Document) error {
	identifier, _ := d.GetInt64(paramIdentifier)
	self.Identifier = byte(identifier)
	self.Connected, _ = d.GetBool("connected")
	self.Address, _ = d.GetText("address")
	return nil
}

func init() {
	wire.Register("HostEvent", func() wire.Marshallable {
		return &HostEvent{}
	})
}

type TopologyView struct {
	subscribers CallbackList[func(e *HostEvent)]
}

func newTopologyView() *TopologyView {
	return &TopologyView{}
}

func (self *TopologyView) Publish(e *HostEvent) {
	for _, subscriber := range self.subscribers.Get() {
		subscriber(e)
	}
}

func (self *TopologyView) Subscribe(subscriber func(e *HostEvent)) int {
	return self.subscribers.Add(subscriber)
}

func (self *TopologyView) Unsubscribe(subscriberId int) {
	self.subscribers.Remove(subscriberId)
}
