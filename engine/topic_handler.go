package engine

import (
	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// Topic publisher events. A streaming topic subscription emits one inner
// document per message; its end is signalled by a single
// onEndOfSubscription event rather than a null reply.
func (self *engineHandler) processTopic(rc *RequestContext, tid int64, ev eventId, d *wire.Document) error {
	topicView := self.tree.Acquire(rc.FullName()).AcquireTopicView()

	switch ev {
	case evPublish:
		topic, ok := self.nullCheck(d, paramTopic)
		if !ok {
			return nil
		}
		message, ok := self.nullCheck(d, paramMessage)
		if !ok {
			return nil
		}
		topicView.Publish(topic.Text, message)
		return nil

	case evRegisterTopicSubscriber:
		subscriberId := topicView.Subscribe(func(topic string, message wire.Value) {
			self.publisher.add(func(b *Batch) error {
				if err := writeMeta(b, tid, "", 0); err != nil {
					return err
				}
				inner := wire.NewDocument()
				inner.Append(paramTopic, wire.TextValue(topic))
				inner.Append(paramMessage, message)
				reply := wire.NewDocument()
				reply.Append(fieldReply, wire.TypedValue("TopicMessage", inner))
				return b.WriteData(false, reply)
			})
		})
		self.addListener(tid, func() {
			topicView.Unsubscribe(subscriberId)
		})
		return nil

	case evUnRegisterSubscriber:
		cleanup, ok := self.removeListener(tid)
		if !ok {
			glog.Infof("[dsp]%s no topic subscriber for tid=%d\n", self.sessionId, tid)
		} else {
			cleanup()
		}
		self.publisher.add(func(b *Batch) error {
			if err := writeMeta(b, tid, "", 0); err != nil {
				return err
			}
			end := wire.NewDocument()
			end.Append(evnOnEndOfSubscription, wire.TextValue(""))
			return b.WriteData(true, end)
		})
		return nil
	}

	self.protocolViolation("event not valid on topic view")
	return nil
}
