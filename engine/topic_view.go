package engine

import (
	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// TopicView is the publish/subscribe projection of an asset. Messages are
// wire values, so payloads can be text, bytes or typed (protobuf)
// documents. Delivery is fan-out to current subscribers; there is no
// retention.
type TopicView struct {
	name string

	subscribers CallbackList[func(topic string, message wire.Value)]
}

func newTopicView(name string) *TopicView {
	return &TopicView{
		name: name,
	}
}

func (self *TopicView) Name() string {
	return self.name
}

func (self *TopicView) Publish(topic string, message wire.Value) {
	for _, subscriber := range self.subscribers.Get() {
		subscriber(topic, message)
	}
}

func (self *TopicView) Subscribe(subscriber func(topic string, message wire.Value)) int {
	return self.subscribers.Add(subscriber)
}

func (self *TopicView) Unsubscribe(subscriberId int) {
	self.subscribers.Remove(subscriberId)
}
