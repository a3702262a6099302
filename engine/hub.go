package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// ChannelHub is the client side of the wire: one framed channel, a
// monotone TID source, synchronous waiters and long-lived subscriptions
// multiplexed by TID. The hub reconnects on failure with a fixed backoff
// and reapplies every live subscription, so subscribers survive channel
// loss without an explicit call.
type ChannelHub struct {
	ctx    context.Context
	cancel context.CancelFunc

	address  string
	userId   string
	settings *ChannelSettings

	hubId SessionId

	eventLoop *EventLoop

	tid atomic.Int64

	stateMutex  sync.Mutex
	conn        *FramedConn
	connMonitor *Monitor

	waitersMutex  sync.Mutex
	syncWaiters   map[int64]*syncWaiter
	subscriptions map[int64]*AsyncSubscription

	awaitingHeartbeat atomic.Bool
	closed            atomic.Bool
}

type callResult struct {
	d     *wire.Document
	ready bool
	err   error
}

type syncWaiter struct {
	ch chan callResult
	// stream waiters stay registered and receive every document until the
	// ready one; plain waiters take the first
	stream bool
}

// AsyncSubscription is a client-held subscription: onSubscribe writes the
// registration document (re-run after each reconnect), onConsume receives
// every inbound document on the subscription's TID.
type AsyncSubscription struct {
	tid int64
	csp string
	cid int64

	onSubscribe func(d *wire.Document)
	onConsume   func(d *wire.Document)
	onClose     func()

	// the channel the registration was last written to
	appliedConn *FramedConn
}

func (self *AsyncSubscription) Tid() int64 {
	return self.tid
}

func NewChannelHubWithDefaults(ctx context.Context, address string, userId string, eventLoop *EventLoop) *ChannelHub {
	return NewChannelHub(ctx, address, userId, eventLoop, DefaultChannelSettings())
}

func NewChannelHub(ctx context.Context, address string, userId string, eventLoop *EventLoop, settings *ChannelSettings) *ChannelHub {
	cancelCtx, cancel := context.WithCancel(ctx)
	hub := &ChannelHub{
		ctx:           cancelCtx,
		cancel:        cancel,
		address:       address,
		userId:        userId,
		settings:      settings,
		hubId:         NewSessionId(),
		eventLoop:     eventLoop,
		connMonitor:   NewMonitor(),
		syncWaiters:   map[int64]*syncWaiter{},
		subscriptions: map[int64]*AsyncSubscription{},
	}
	go hub.run()
	eventLoop.AddHandler(PriorityMonitor, hub.heartbeatAction)
	return hub
}

// NextTid allocates a strictly increasing transaction id seeded from
// wall-clock ms, so ids stay unique across reconnects and clock skew.
func (self *ChannelHub) NextTid() int64 {
	id := time.Now().UnixMilli()
	for {
		old := self.tid.Load()
		if id <= old {
			id = old + 1
		}
		if self.tid.CompareAndSwap(old, id) {
			return id
		}
	}
}

func (self *ChannelHub) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		conn, err := self.connect()
		if err != nil {
			glog.Infof("[hub]%s connect %s error = %s\n", self.hubId, self.address, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectDelay):
			}
			continue
		}

		glog.V(1).Infof("[hub]%s connected %s\n", self.hubId, self.address)
		self.readLoop(conn)
		self.dropConn(conn)

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectDelay):
		}
	}
}

func (self *ChannelHub) connect() (*FramedConn, error) {
	conn, err := DialChannel(self.address, self.settings)
	if err != nil {
		return nil, err
	}

	// system handshake: a bare data document, no preceding meta
	handshake := wire.NewDocument()
	handshake.Append(evnUserid, wire.TextValue(self.userId))
	if err := conn.Send(func(b *Batch) error {
		return b.WriteData(true, handshake)
	}); err != nil {
		conn.Close()
		return nil, err
	}

	self.stateMutex.Lock()
	self.conn = conn
	self.stateMutex.Unlock()
	self.connMonitor.NotifyAll()

	// re-establish every live subscription
	self.waitersMutex.Lock()
	subscriptions := make([]*AsyncSubscription, 0, len(self.subscriptions))
	for _, sub := range self.subscriptions {
		subscriptions = append(subscriptions, sub)
	}
	self.waitersMutex.Unlock()
	for _, sub := range subscriptions {
		if err := self.applySubscribe(conn, sub); err != nil {
			glog.Infof("[hub]%s reapply subscription tid=%d error = %s\n", self.hubId, sub.tid, err)
		}
	}

	return conn, nil
}

func (self *ChannelHub) readLoop(conn *FramedConn) {
	currentTid := int64(0)
	for {
		payload, meta, ready, err := conn.ReadDocument()
		if err != nil {
			glog.V(1).Infof("[hub]%s read error = %s\n", self.hubId, err)
			return
		}
		d, err := self.settings.Codec.Decode(payload)
		if err != nil {
			glog.Infof("[hub]%s decode error = %s\n", self.hubId, err)
			continue
		}
		if meta {
			if tid, ok := d.GetInt64(fieldTid); ok {
				currentTid = tid
			} else {
				// a meta document without a tid precedes a system message
				currentTid = 0
			}
			continue
		}
		self.dispatch(conn, currentTid, ready, d)
	}
}

func (self *ChannelHub) dispatch(conn *FramedConn, tid int64, ready bool, d *wire.Document) {
	if tid == 0 {
		self.handleSystem(conn, d)
		return
	}

	self.waitersMutex.Lock()
	sub := self.subscriptions[tid]
	var sw *syncWaiter
	if sub == nil {
		sw = self.syncWaiters[tid]
		if sw != nil && ready {
			delete(self.syncWaiters, tid)
		}
	}
	self.waitersMutex.Unlock()

	switch {
	case sub != nil:
		sub.onConsume(d)
	case sw != nil && sw.stream:
		select {
		case sw.ch <- callResult{d: d, ready: ready}:
		case <-time.After(self.settings.CallTimeout):
			// the caller already gave up
		}
	case sw != nil:
		select {
		case sw.ch <- callResult{d: d, ready: ready}:
		default:
			// the caller already gave up
		}
	default:
		glog.V(1).Infof("[hub]%s drop document tid=%d\n", self.hubId, tid)
	}
}

// handleSystem services server-originated messages on the reserved TID 0.
func (self *ChannelHub) handleSystem(conn *FramedConn, d *wire.Document) {
	name, v, ok := d.First()
	if !ok {
		return
	}
	switch name {
	case evnHeartbeat:
		// echo the server's timestamp back
		reply := wire.NewDocument()
		reply.Append(evnHeartbeatReply, wire.Int64Value(v.Int))
		conn.Send(func(b *Batch) error {
			if err := writeMeta(b, 0, "", 0); err != nil {
				return err
			}
			return b.WriteData(true, reply)
		})
	case evnHeartbeatReply:
		self.awaitingHeartbeat.Store(false)
	}
}

func (self *ChannelHub) currentConn() *FramedConn {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.conn
}

// waitForConn parks until the hub has a live channel, mirroring the lazy
// connect of synchronous callers.
func (self *ChannelHub) waitForConn(timeout time.Duration) (*FramedConn, error) {
	deadline := time.Now().Add(timeout)
	for {
		notify := self.connMonitor.NotifyChannel()
		if conn := self.currentConn(); conn != nil && !conn.IsClosed() {
			return conn, nil
		}
		if self.closed.Load() {
			return nil, ErrClosed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		select {
		case <-self.ctx.Done():
			return nil, ErrClosed
		case <-notify:
		case <-time.After(remaining):
			return nil, ErrTimeout
		}
	}
}

func (self *ChannelHub) dropConn(conn *FramedConn) {
	conn.Close()

	self.stateMutex.Lock()
	if self.conn == conn {
		self.conn = nil
	}
	self.stateMutex.Unlock()

	// wake synchronous callers; remember subscriptions for reapply
	self.waitersMutex.Lock()
	syncWaiters := self.syncWaiters
	self.syncWaiters = map[int64]*syncWaiter{}
	subscriptions := make([]*AsyncSubscription, 0, len(self.subscriptions))
	for _, sub := range self.subscriptions {
		subscriptions = append(subscriptions, sub)
	}
	self.waitersMutex.Unlock()

	for _, sw := range syncWaiters {
		select {
		case sw.ch <- callResult{err: ErrClosed}:
		default:
		}
	}
	for _, sub := range subscriptions {
		if sub.onClose != nil {
			sub.onClose()
		}
	}
}

// Send acquires the current channel and writes one batch.
func (self *ChannelHub) Send(build func(b *Batch) error) error {
	conn, err := self.waitForConn(self.settings.CallTimeout)
	if err != nil {
		return err
	}
	return conn.Send(build)
}

func writeMeta(b *Batch, tid int64, csp string, cid int64) error {
	d := wire.NewDocument()
	if cid != 0 {
		d.Append(fieldCid, wire.Int64Value(cid))
	} else if csp != "" {
		d.Append(fieldCsp, wire.TextValue(csp))
	}
	d.Append(fieldTid, wire.Int64Value(tid))
	return b.WriteMeta(d)
}

// ProxyCall issues a synchronous request and parks until the reply
// document, the call timeout, or channel loss.
func (self *ChannelHub) ProxyCall(csp string, cid int64, data *wire.Document) (*wire.Document, error) {
	tid := self.NextTid()
	sw := &syncWaiter{
		ch: make(chan callResult, 1),
	}

	self.waitersMutex.Lock()
	self.syncWaiters[tid] = sw
	self.waitersMutex.Unlock()

	removeWaiter := func() {
		self.waitersMutex.Lock()
		delete(self.syncWaiters, tid)
		self.waitersMutex.Unlock()
	}

	err := self.Send(func(b *Batch) error {
		if err := writeMeta(b, tid, csp, cid); err != nil {
			return err
		}
		return b.WriteData(true, data)
	})
	if err != nil {
		removeWaiter()
		return nil, err
	}

	select {
	case result := <-sw.ch:
		return result.d, result.err
	case <-time.After(self.settings.CallTimeout):
		removeWaiter()
		return nil, ErrTimeout
	case <-self.ctx.Done():
		removeWaiter()
		return nil, ErrClosed
	}
}

// ProxyStream issues a request whose reply streams: each document up to
// and including the terminating ready one is handed to consume in order.
func (self *ChannelHub) ProxyStream(csp string, cid int64, data *wire.Document, consume func(d *wire.Document)) error {
	tid := self.NextTid()
	sw := &syncWaiter{
		ch:     make(chan callResult),
		stream: true,
	}

	self.waitersMutex.Lock()
	self.syncWaiters[tid] = sw
	self.waitersMutex.Unlock()

	removeWaiter := func() {
		self.waitersMutex.Lock()
		delete(self.syncWaiters, tid)
		self.waitersMutex.Unlock()
	}

	err := self.Send(func(b *Batch) error {
		if err := writeMeta(b, tid, csp, cid); err != nil {
			return err
		}
		return b.WriteData(true, data)
	})
	if err != nil {
		removeWaiter()
		return err
	}

	for {
		select {
		case result := <-sw.ch:
			if result.err != nil {
				return result.err
			}
			consume(result.d)
			if result.ready {
				return nil
			}
		case <-time.After(self.settings.CallTimeout):
			removeWaiter()
			return ErrTimeout
		case <-self.ctx.Done():
			removeWaiter()
			return ErrClosed
		}
	}
}

// SendForTid writes a data document on an already-known tid, for example
// an unsubscribe on a live subscription's tid.
func (self *ChannelHub) SendForTid(tid int64, csp string, cid int64, data *wire.Document) error {
	return self.Send(func(b *Batch) error {
		if err := writeMeta(b, tid, csp, cid); err != nil {
			return err
		}
		return b.WriteData(true, data)
	})
}

// ProxySend issues a fire-and-forget request (no reply is defined for the
// event). Ordering relative to later synchronous calls is preserved by
// the shared outbound lock.
func (self *ChannelHub) ProxySend(csp string, cid int64, data *wire.Document) error {
	tid := self.NextTid()
	return self.Send(func(b *Batch) error {
		if err := writeMeta(b, tid, csp, cid); err != nil {
			return err
		}
		return b.WriteData(true, data)
	})
}

// Subscribe registers a long-lived listener under a fresh TID and applies
// the registration. The subscription is reapplied automatically after a
// reconnect until Unsubscribe.
func (self *ChannelHub) Subscribe(
	csp string,
	onSubscribe func(d *wire.Document),
	onConsume func(d *wire.Document),
	onClose func(),
) (*AsyncSubscription, error) {
	sub := &AsyncSubscription{
		tid:         self.NextTid(),
		csp:         csp,
		onSubscribe: onSubscribe,
		onConsume:   onConsume,
		onClose:     onClose,
	}

	self.waitersMutex.Lock()
	self.subscriptions[sub.tid] = sub
	self.waitersMutex.Unlock()

	conn, err := self.waitForConn(self.settings.CallTimeout)
	if err != nil {
		self.Unsubscribe(sub.tid)
		return nil, err
	}
	if err := self.applySubscribe(conn, sub); err != nil {
		self.Unsubscribe(sub.tid)
		return nil, err
	}
	return sub, nil
}

func (self *ChannelHub) applySubscribe(conn *FramedConn, sub *AsyncSubscription) error {
	// connect's reapply and Subscribe can both reach a fresh channel;
	// the registration is written once per channel
	self.waitersMutex.Lock()
	if sub.appliedConn == conn {
		self.waitersMutex.Unlock()
		return nil
	}
	sub.appliedConn = conn
	self.waitersMutex.Unlock()

	d := wire.NewDocument()
	sub.onSubscribe(d)
	return conn.Send(func(b *Batch) error {
		if err := writeMeta(b, sub.tid, sub.csp, sub.cid); err != nil {
			return err
		}
		return b.WriteData(true, d)
	})
}

func (self *ChannelHub) Unsubscribe(tid int64) {
	self.waitersMutex.Lock()
	delete(self.subscriptions, tid)
	self.waitersMutex.Unlock()
}

func (self *ChannelHub) heartbeatAction() (bool, error) {
	if self.closed.Load() {
		return false, ErrClosed
	}
	conn := self.currentConn()
	if conn == nil || conn.IsClosed() {
		return false, nil
	}

	idle := time.Since(conn.LastActivity())
	if self.settings.TimeoutPeriod <= idle {
		glog.Infof("[hub]%s heartbeat timeout, reconnecting\n", self.hubId)
		self.awaitingHeartbeat.Store(false)
		conn.Close()
		return true, nil
	}
	if self.settings.PingPeriod <= idle && !self.awaitingHeartbeat.Swap(true) {
		// the send can block on the outbound lock; keep the loop hot
		go self.sendHeartbeat(conn)
		return true, nil
	}
	return false, nil
}

func (self *ChannelHub) sendHeartbeat(conn *FramedConn) {
	d := wire.NewDocument()
	d.Append(evnHeartbeat, wire.Int64Value(time.Now().UnixMilli()))
	err := conn.Send(func(b *Batch) error {
		if err := writeMeta(b, 0, "", 0); err != nil {
			return err
		}
		return b.WriteData(true, d)
	})
	if err != nil {
		glog.V(1).Infof("[hub]%s heartbeat send error = %s\n", self.hubId, err)
	}
}

func (self *ChannelHub) Close() {
	self.closed.Store(true)
	self.cancel()
	if conn := self.currentConn(); conn != nil {
		conn.Close()
	}
}
