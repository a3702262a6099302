package engine

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

type testServer struct {
	tree      *AssetTree
	eventLoop *EventLoop
	server    *Server
	addr      string
}

func startTestServer(t *testing.T, identifier byte) *testServer {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tree := NewAssetTreeWithDefaults(identifier)
	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: 5 * time.Millisecond})
	server := NewServerWithDefaults(ctx, tree, eventLoop)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	go server.Serve(listener)

	t.Cleanup(func() {
		server.Close()
		eventLoop.Close()
		tree.Close()
	})
	return &testServer{
		tree:      tree,
		eventLoop: eventLoop,
		server:    server,
		addr:      listener.Addr().String(),
	}
}

func startTestHub(t *testing.T, addr string) *ChannelHub {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: 5 * time.Millisecond})
	settings := DefaultChannelSettings()
	settings.CallTimeout = 5 * time.Second
	hub := NewChannelHub(ctx, addr, "tester", eventLoop, settings)
	t.Cleanup(func() {
		hub.Close()
		eventLoop.Close()
	})
	return hub
}

func TestSyncPutGet(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	m := NewRemoteMap(hub, "m")

	assert.Equal(t, m.Put([]byte("a"), []byte{0x01, 0x02}), nil)

	value, ok, err := m.Get([]byte("a"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, value, []byte{0x01, 0x02})

	_, ok, err = m.Get([]byte("absent"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
}

func TestMapOperations(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	m := NewRemoteMap(hub, "ops")

	old, ok, err := m.GetAndPut([]byte("k"), []byte("v1"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, old, nil)

	old, ok, err = m.GetAndPut([]byte("k"), []byte("v2"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, old, []byte("v1"))

	existing, ok, err := m.PutIfAbsent([]byte("k"), []byte("v3"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, existing, []byte("v2"))

	replaced, err := m.ReplaceForOld([]byte("k"), []byte("v2"), []byte("v4"))
	assert.Equal(t, err, nil)
	assert.Equal(t, replaced, true)

	replaced, err = m.ReplaceForOld([]byte("k"), []byte("v2"), []byte("v5"))
	assert.Equal(t, err, nil)
	assert.Equal(t, replaced, false)

	contains, err := m.ContainsKey([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, contains, true)

	contains, err = m.ContainsValue([]byte("v4"))
	assert.Equal(t, err, nil)
	assert.Equal(t, contains, true)

	size, err := m.Size()
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(1))

	removed, err := m.RemoveWithValue([]byte("k"), []byte("wrong"))
	assert.Equal(t, err, nil)
	assert.Equal(t, removed, false)

	old, ok, err = m.GetAndRemove([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, old, []byte("v4"))

	size, _ = m.Size()
	assert.Equal(t, size, int64(0))
}

func TestPutReturnsNullFlag(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	m := NewRemoteMapWithContext(hub, &RequestContext{
		Name:           "flagged",
		View:           ViewMap,
		PutReturnsNull: true,
		Bootstrap:      true,
	})

	_, _, err := m.GetAndPut([]byte("k"), []byte("v1"))
	assert.Equal(t, err, nil)

	// the old value is suppressed even though the key exists
	old, ok, err := m.GetAndPut([]byte("k"), []byte("v2"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, old, nil)
}

func TestSetProxy(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	m := NewRemoteMap(hub, "proxied")

	// scenario: keySet on an empty map returns a proxy whose size is 0
	keySet, err := m.KeySet()
	assert.Equal(t, err, nil)
	assert.NotEqual(t, keySet.Cid(), int64(0))

	rc, err := ParseRequestContext(keySet.CSP())
	assert.Equal(t, err, nil)
	assert.Equal(t, rc.View, ViewKeySet)

	size, err := keySet.Size()
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(0))

	// and tracks the map afterwards, addressed by cid
	assert.Equal(t, m.Put([]byte("a"), []byte("1")), nil)
	assert.Equal(t, m.Put([]byte("b"), []byte("2")), nil)
	size, err = keySet.Size()
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(2))

	contains, err := keySet.Contains([]byte("a"))
	assert.Equal(t, err, nil)
	assert.Equal(t, contains, true)

	keys := map[string]bool{}
	err = keySet.ForEach(func(v wire.Value) {
		keys[string(v.Bytes)] = true
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, keys, map[string]bool{"a": true, "b": true})
}

func TestStreamingSubscription(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	m := NewRemoteMap(hub, "watched")

	events := make(chan *MapEvent, 16)
	sub, err := m.Subscribe(func(e *MapEvent) {
		events <- e
	})
	assert.Equal(t, err, nil)

	// wait until the server installed the listener
	serverView, err := ts.tree.Acquire("/watched").AcquireMapView()
	assert.Equal(t, err, nil)
	deadline := time.Now().Add(2 * time.Second)
	for len(serverView.subscribers.Get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.NotEqual(t, len(serverView.subscribers.Get()), 0)

	// server-side mutations stream to the client on one tid
	_, err = serverView.Put([]byte("x"), []byte{1})
	assert.Equal(t, err, nil)
	_, err = serverView.Put([]byte("x"), []byte{2})
	assert.Equal(t, err, nil)

	read := func() *MapEvent {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("event missing")
			return nil
		}
	}
	first := read()
	assert.Equal(t, first.Type, MapEventInsert)
	assert.Equal(t, first.Key, []byte("x"))
	assert.Equal(t, first.Value, []byte{1})

	second := read()
	assert.Equal(t, second.Type, MapEventUpdate)
	assert.Equal(t, second.OldValue, []byte{1})
	assert.Equal(t, second.Value, []byte{2})

	// unsubscribe detaches the server-side listener
	assert.Equal(t, sub.Close(), nil)
	deadline = time.Now().Add(2 * time.Second)
	for len(serverView.subscribers.Get()) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, len(serverView.subscribers.Get()), 0)
}

func TestTopicPublishSubscribe(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	topic := NewRemoteTopic(hub, "events")

	type message struct {
		topic string
		text  string
	}
	messages := make(chan message, 16)
	_, err := topic.Subscribe(func(topicName string, v wire.Value) {
		messages <- message{topic: topicName, text: v.Text}
	}, nil)
	assert.Equal(t, err, nil)

	serverTopic := ts.tree.Acquire("/events").AcquireTopicView()
	deadline := time.Now().Add(2 * time.Second)
	for len(serverTopic.subscribers.Get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, topic.Publish("greetings", wire.TextValue("hello")), nil)

	select {
	case got := <-messages:
		assert.Equal(t, got.topic, "greetings")
		assert.Equal(t, got.text, "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("message missing")
	}
}

func TestUnknownEventKeepsConnection(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)

	// an unknown event name is a protocol violation: logged, no reply,
	// connection kept
	rc := &RequestContext{Name: "m", View: ViewMap, Bootstrap: true}
	bad := wire.NewDocument()
	bad.Append("fhqwhgads", wire.NullValue())
	_, err := hub.ProxyCall(rc.CSP(), 0, bad)
	assert.Equal(t, err, ErrTimeout)

	// the same channel still serves requests
	m := NewRemoteMap(hub, "m")
	assert.Equal(t, m.Put([]byte("k"), []byte("v")), nil)
	value, ok, err := m.Get([]byte("k"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, value, []byte("v"))
}

func TestHeartbeatAndReconnect(t *testing.T) {
	// scenario: a server that accepts and then never responds; the client
	// pings after PingPeriod and reconnects after TimeoutPeriod
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	defer listener.Close()

	var accepts atomic.Int32
	heartbeats := make(chan struct{}, 16)
	codec := wire.BinaryWire
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func(conn net.Conn) {
				defer conn.Close()
				fc := NewFramedConn(conn, DefaultChannelSettings())
				for {
					payload, meta, _, err := fc.ReadDocument()
					if err != nil {
						return
					}
					if meta {
						continue
					}
					d, err := codec.Decode(payload)
					if err != nil {
						continue
					}
					if name, _, ok := d.First(); ok && name == evnHeartbeat {
						select {
						case heartbeats <- struct{}{}:
						default:
						}
					}
				}
			}(conn)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: 5 * time.Millisecond})
	defer eventLoop.Close()

	settings := DefaultChannelSettings()
	settings.PingPeriod = 100 * time.Millisecond
	settings.TimeoutPeriod = 300 * time.Millisecond
	settings.ReconnectDelay = 50 * time.Millisecond
	hub := NewChannelHub(ctx, listener.Addr().String(), "tester", eventLoop, settings)
	defer hub.Close()

	// a heartbeat goes out once the line is silent past PingPeriod
	select {
	case <-heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat sent")
	}

	// with no reply, the client reconnects
	deadline := time.Now().Add(5 * time.Second)
	for accepts.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if accepts.Load() < 2 {
		t.Fatalf("expected a reconnect, accepts=%d", accepts.Load())
	}
}

func TestSubscriptionSurvivesReconnect(t *testing.T) {
	ts := startTestServer(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: 5 * time.Millisecond})
	defer eventLoop.Close()

	settings := DefaultChannelSettings()
	settings.ReconnectDelay = 50 * time.Millisecond
	settings.CallTimeout = 5 * time.Second
	hub := NewChannelHub(ctx, ts.addr, "tester", eventLoop, settings)
	defer hub.Close()

	m := NewRemoteMap(hub, "durable")
	events := make(chan *MapEvent, 16)
	_, err := m.Subscribe(func(e *MapEvent) {
		events <- e
	})
	assert.Equal(t, err, nil)

	serverView, err := ts.tree.Acquire("/durable").AcquireMapView()
	assert.Equal(t, err, nil)

	waitForSubscriber := func() {
		deadline := time.Now().Add(2 * time.Second)
		for len(serverView.subscribers.Get()) == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		assert.NotEqual(t, len(serverView.subscribers.Get()), 0)
	}
	waitForSubscriber()

	// kill the channel under the subscription
	hub.currentConn().Close()

	// the server tears down the old session's listener first
	deadline := time.Now().Add(2 * time.Second)
	for len(serverView.subscribers.Get()) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// after the automatic reapply, events flow again with no client call
	waitForSubscriber()
	_, err = serverView.Put([]byte("k"), []byte("v"))
	assert.Equal(t, err, nil)

	select {
	case e := <-events:
		assert.Equal(t, e.Type, MapEventInsert)
		assert.Equal(t, e.Key, []byte("k"))
	case <-time.After(5 * time.Second):
		t.Fatal("no event after reconnect")
	}
}

func TestCidAndCspInterchangeable(t *testing.T) {
	ts := startTestServer(t, 1)
	hub := startTestHub(t, ts.addr)
	m := NewRemoteMap(hub, "alias")

	assert.Equal(t, m.Put([]byte("k"), []byte("v")), nil)

	keySet, err := m.KeySet()
	assert.Equal(t, err, nil)

	// by csp
	byCsp := &RemoteCollection{hub: hub, csp: keySet.CSP()}
	size, err := byCsp.Size()
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(1))

	// by cid only
	byCid := &RemoteCollection{hub: hub, cid: keySet.Cid()}
	size, err = byCid.Size()
	assert.Equal(t, err, nil)
	assert.Equal(t, size, int64(1))
}

func TestServerSessionUserId(t *testing.T) {
	ts := startTestServer(t, 1)

	token, err := MintSessionToken("alice", []byte("secret"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ParseSessionUserId(token), "alice")
	assert.Equal(t, ParseSessionUserId("bob"), "bob")

	// the handshake travels on connect
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: 5 * time.Millisecond})
	defer eventLoop.Close()
	hub := NewChannelHub(ctx, ts.addr, token, eventLoop, DefaultChannelSettings())
	defer hub.Close()

	m := NewRemoteMap(hub, "m")
	assert.Equal(t, m.Put([]byte("k"), []byte("v")), nil)
	_, _, err = m.Get([]byte("k"))
	assert.Equal(t, err, nil)
}

