package engine

import (
	"time"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// System messages: the userid handshake and heartbeats. Heartbeats ride
// the reserved TID 0 in both directions.
func (self *engineHandler) processSystem(tid int64, d *wire.Document) {
	name, v, ok := d.First()
	if !ok {
		return
	}
	switch name {
	case evnUserid:
		self.session.UserId = ParseSessionUserId(v.Text)
		glog.V(1).Infof("[dsp]%s session user %q\n", self.sessionId, self.session.UserId)

	case evnHeartbeat:
		err := self.conn.Send(func(b *Batch) error {
			if err := writeMeta(b, 0, "", 0); err != nil {
				return err
			}
			reply := wire.NewDocument()
			reply.Append(evnHeartbeatReply, wire.Int64Value(v.Int))
			return b.WriteData(true, reply)
		})
		if err != nil {
			glog.V(1).Infof("[dsp]%s heartbeat reply error = %s\n", self.sessionId, err)
		}

	case evnHeartbeatReply:
		glog.V(2).Infof("[dsp]%s heartbeat rtt %dms\n", self.sessionId, time.Now().UnixMilli()-v.Int)

	default:
		self.protocolViolation("unknown system event %q", name)
	}
}
