package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

// engineHandler is the per-connection server dispatcher. The reader
// alternates meta and data documents: the meta names the target (csp or
// cid) and the transaction; the data document's first event selects the
// handler. Replies are sent by the reader; subscription pushes go through
// the publish queue, drained by one writer task per connection. Each send
// is one batch holding its meta/data pair, written under the channel's
// outbound lock, so pairs never interleave.
type engineHandler struct {
	server *Server
	tree   *AssetTree
	conn   *FramedConn
	codec  wire.Codec

	sessionId SessionId
	session   SessionDetails

	// state carried from the last meta document to the next data document
	tid      int64
	isSystem bool
	invalid  bool
	rc       *RequestContext

	cidMutex sync.Mutex
	cidToCsp map[int64]string
	cspToCid map[string]int64
	nextCid  atomic.Int64

	publisher *publishQueue

	// C4: tid -> cleanup for long-lived listeners on this connection
	listenersMutex sync.Mutex
	listeners      map[int64]func()

	// replication session state
	remoteBootstrap   atomic.Pointer[Bootstrap]
	replicationClosed atomic.Bool
}

func newEngineHandler(server *Server, conn *FramedConn) *engineHandler {
	return &engineHandler{
		server:    server,
		tree:      server.tree,
		conn:      conn,
		codec:     server.settings.ChannelSettings.Codec,
		sessionId: NewSessionId(),
		// traffic before the first meta document is system (handshake)
		isSystem:  true,
		cidToCsp:  map[int64]string{},
		cspToCid:  map[string]int64{},
		publisher: newPublishQueue(),
		listeners: map[int64]func(){},
	}
}

func (self *engineHandler) run() {
	glog.V(1).Infof("[dsp]%s session open\n", self.sessionId)
	defer self.closeSession()

	go self.writeLoop()

	for {
		payload, meta, ready, err := self.conn.ReadDocument()
		if err != nil {
			glog.V(1).Infof("[dsp]%s session read error = %s\n", self.sessionId, err)
			return
		}
		d, err := self.codec.Decode(payload)
		if err != nil {
			glog.Infof("[dsp]%s decode error = %s\n", self.sessionId, err)
			continue
		}
		if meta {
			self.handleMeta(d)
		} else {
			self.handleData(d, ready)
		}
	}
}

// writeLoop drains the publish queue into the channel. Subscription
// events enqueue wait-free; this task serialises the actual writes.
func (self *engineHandler) writeLoop() {
	for {
		notify := self.publisher.monitor.NotifyChannel()
		for _, task := range self.publisher.drain() {
			if err := self.conn.Send(task); err != nil {
				glog.V(1).Infof("[dsp]%s publish error = %s\n", self.sessionId, err)
				return
			}
		}
		select {
		case <-self.conn.Done():
			return
		case <-notify:
		}
	}
}

func (self *engineHandler) handleMeta(d *wire.Document) {
	self.invalid = false

	// an empty meta document announces a system message
	if d.IsEmpty() {
		self.isSystem = true
		self.tid = 0
		return
	}

	tid, _ := d.GetInt64(fieldTid)
	self.tid = tid

	if csp, ok := d.GetText(fieldCsp); ok {
		rc, err := ParseRequestContext(csp)
		if err != nil {
			glog.Infof("[dsp]%s %s\n", self.sessionId, err)
			self.invalid = true
			return
		}
		if rc.View == "" {
			// a meta document without a view targets the system handler
			self.isSystem = true
			return
		}
		self.bindCid(csp)
		self.rc = rc
		self.isSystem = false
		return
	}

	if cid, ok := d.GetInt64(fieldCid); ok {
		csp, ok := self.cspForCid(cid)
		if !ok {
			glog.Infof("[dsp]%s unknown cid %d\n", self.sessionId, cid)
			self.invalid = true
			return
		}
		rc, err := ParseRequestContext(csp)
		if err != nil {
			glog.Infof("[dsp]%s %s\n", self.sessionId, err)
			self.invalid = true
			return
		}
		self.rc = rc
		self.isSystem = false
		return
	}

	// neither csp nor cid: system traffic (heartbeats)
	self.isSystem = true
}

// bindCid assigns a connection-local alias the first time a csp appears.
func (self *engineHandler) bindCid(csp string) int64 {
	self.cidMutex.Lock()
	defer self.cidMutex.Unlock()

	if cid, ok := self.cspToCid[csp]; ok {
		return cid
	}
	cid := self.nextCid.Add(1)
	self.cspToCid[csp] = cid
	self.cidToCsp[cid] = csp
	return cid
}

func (self *engineHandler) cspForCid(cid int64) (string, bool) {
	self.cidMutex.Lock()
	defer self.cidMutex.Unlock()
	csp, ok := self.cidToCsp[cid]
	return csp, ok
}

func (self *engineHandler) handleData(d *wire.Document, ready bool) {
	if self.invalid {
		return
	}
	if self.isSystem {
		self.processSystem(self.tid, d)
		return
	}
	rc := self.rc
	if rc == nil {
		glog.Infof("[dsp]%s data document before any meta\n", self.sessionId)
		return
	}

	name, _, ok := d.First()
	if !ok {
		return
	}
	ev, ok := eventIdByName[name]
	if !ok {
		self.protocolViolation("unknown event name %q", name)
		return
	}

	var err error
	switch rc.View {
	case ViewMap:
		err = self.processMap(rc, self.tid, ev, d)
	case ViewKeySet, ViewEntrySet, ViewValues:
		err = self.processCollection(rc, self.tid, ev, d)
	case ViewSubscription:
		err = self.processSubscription(rc, self.tid, ev, d)
	case ViewTopic:
		err = self.processTopic(rc, self.tid, ev, d)
	case ViewTopology:
		err = self.processTopology(rc, self.tid, ev, d)
	case ViewReplication:
		err = self.processReplication(rc, self.tid, ev, d)
	default:
		self.protocolViolation("unsupported view %q", rc.View)
		return
	}
	if err != nil {
		glog.Infof("[dsp]%s %s event %s error = %s\n", self.sessionId, rc.View, name, err)
	}
}

// protocolViolation is logged and the request gets no reply; the
// connection is kept.
func (self *engineHandler) protocolViolation(format string, a ...any) {
	glog.Infof("[dsp]%s %s: %s\n", self.sessionId, ErrProtocol, fmt.Sprintf(format, a...))
}

// nullCheck enforces the argument policy: a null or missing argument is a
// protocol violation.
func (self *engineHandler) nullCheck(d *wire.Document, param string) (wire.Value, bool) {
	v, ok := d.Get(param)
	if !ok || v.IsNull() {
		self.protocolViolation("null argument %q", param)
		return wire.Value{}, false
	}
	return v, true
}

// reply writes a meta + single ready data document for tid.
func (self *engineHandler) reply(tid int64, build func(d *wire.Document)) error {
	return self.conn.Send(func(b *Batch) error {
		if err := writeMeta(b, tid, "", 0); err != nil {
			return err
		}
		d := wire.NewDocument()
		build(d)
		return b.WriteData(true, d)
	})
}

func (self *engineHandler) replyValue(tid int64, v wire.Value) error {
	return self.reply(tid, func(d *wire.Document) {
		d.Append(fieldReply, v)
	})
}

func (self *engineHandler) closeSession() {
	self.conn.Close()
	self.replicationClosed.Store(true)

	self.listenersMutex.Lock()
	listeners := self.listeners
	self.listeners = map[int64]func(){}
	self.listenersMutex.Unlock()
	for _, cleanup := range listeners {
		cleanup()
	}

	if remoteBootstrap := self.remoteBootstrap.Load(); remoteBootstrap != nil {
		self.tree.Root().AcquireTopologyView().Publish(&HostEvent{
			Identifier: remoteBootstrap.Identifier,
			Connected:  false,
			Address:    self.conn.RemoteAddr(),
		})
	}
	glog.V(1).Infof("[dsp]%s session closed\n", self.sessionId)
}

func (self *engineHandler) addListener(tid int64, cleanup func()) {
	self.listenersMutex.Lock()
	defer self.listenersMutex.Unlock()
	self.listeners[tid] = cleanup
}

func (self *engineHandler) removeListener(tid int64) (func(), bool) {
	self.listenersMutex.Lock()
	defer self.listenersMutex.Unlock()
	cleanup, ok := self.listeners[tid]
	delete(self.listeners, tid)
	return cleanup, ok
}

// publishQueue is the per-connection queue of pending subscription
// writes. Enqueues never block; the connection writer drains in order.
type publishQueue struct {
	mutex   sync.Mutex
	tasks   []func(b *Batch) error
	monitor *Monitor
}

func newPublishQueue() *publishQueue {
	return &publishQueue{
		monitor: NewMonitor(),
	}
}

func (self *publishQueue) add(task func(b *Batch) error) {
	self.mutex.Lock()
	self.tasks = append(self.tasks, task)
	self.mutex.Unlock()
	self.monitor.NotifyAll()
}

func (self *publishQueue) drain() []func(b *Batch) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	tasks := self.tasks
	self.tasks = nil
	return tasks
}
