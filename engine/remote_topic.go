package engine

import (
	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// RemoteTopic is the client-side topic publisher view.
type RemoteTopic struct {
	hub *ChannelHub
	rc  *RequestContext
	csp string
}

func NewRemoteTopic(hub *ChannelHub, name string) *RemoteTopic {
	rc := &RequestContext{
		Name:      name,
		View:      ViewTopic,
		Bootstrap: true,
	}
	return &RemoteTopic{
		hub: hub,
		rc:  rc,
		csp: rc.CSP(),
	}
}

func (self *RemoteTopic) Publish(topic string, message wire.Value) error {
	return self.hub.ProxySend(self.csp, 0, eventDocument(evnPublish,
		param(paramTopic, wire.TextValue(topic)),
		param(paramMessage, message),
	))
}

// Subscribe streams messages until Close; onEnd fires once when the
// server signals onEndOfSubscription.
func (self *RemoteTopic) Subscribe(onMessage func(topic string, message wire.Value), onEnd func()) (*TopicSubscription, error) {
	sub, err := self.hub.Subscribe(
		self.csp,
		func(d *wire.Document) {
			d.Append(evnRegisterTopicSubscriber, wire.NullValue())
		},
		func(d *wire.Document) {
			name, v, ok := d.First()
			if !ok {
				return
			}
			if name == evnOnEndOfSubscription {
				if onEnd != nil {
					onEnd()
				}
				return
			}
			if name != fieldReply || v.Kind != wire.KindMarshallable {
				glog.V(1).Infof("[hub]unexpected topic document %q\n", name)
				return
			}
			topic, _ := v.Doc.GetText(paramTopic)
			message, _ := v.Doc.Get(paramMessage)
			onMessage(topic, message)
		},
		nil,
	)
	if err != nil {
		return nil, err
	}
	return &TopicSubscription{
		hub: self.hub,
		csp: self.csp,
		sub: sub,
	}, nil
}

type TopicSubscription struct {
	hub *ChannelHub
	csp string
	sub *AsyncSubscription
}

func (self *TopicSubscription) Close() error {
	err := self.hub.SendForTid(self.sub.Tid(), self.csp, 0, eventDocument(evnUnRegisterSubscriber))
	self.hub.Unsubscribe(self.sub.Tid())
	return err
}
