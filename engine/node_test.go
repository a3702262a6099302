package engine

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func freeAddr(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func startTestNode(t *testing.T, identifier byte, addr string, peers ...string) *Node {
	settings := DefaultNodeSettings(identifier, addr)
	settings.UserId = fmt.Sprintf("node-%d", identifier)
	settings.ReplicatedAssets = []string{"/m"}
	settings.Peers = peers
	settings.EventLoopSettings = &EventLoopSettings{IdlePause: 5 * time.Millisecond}

	node := NewNode(context.Background(), settings)
	node.Start()
	t.Cleanup(node.Close)
	return node
}

func nodeMapView(t *testing.T, node *Node) *MapView {
	mapView, err := node.Tree().Acquire("/m").AcquireMapView()
	assert.Equal(t, err, nil)
	return mapView
}

func waitFor(t *testing.T, timeout time.Duration, what string, check func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTwoNodeReplication(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	a := startTestNode(t, 1, addrA, addrB)
	b := startTestNode(t, 2, addrB, addrA)

	viewA := nodeMapView(t, a)
	viewB := nodeMapView(t, b)

	_, err := viewA.Put([]byte("from-a"), []byte("1"))
	assert.Equal(t, err, nil)
	_, err = viewB.Put([]byte("from-b"), []byte("2"))
	assert.Equal(t, err, nil)

	waitFor(t, 10*time.Second, "a sees from-b", func() bool {
		value, present, _ := viewA.Get([]byte("from-b"))
		return present && string(value) == "2"
	})
	waitFor(t, 10*time.Second, "b sees from-a", func() bool {
		value, present, _ := viewB.Get([]byte("from-a"))
		return present && string(value) == "1"
	})

	// a removal converges as a tombstone
	_, err = viewA.Remove([]byte("from-a"))
	assert.Equal(t, err, nil)
	waitFor(t, 10*time.Second, "b sees the removal", func() bool {
		_, present, _ := viewB.Get([]byte("from-a"))
		return !present
	})
}

func TestBootstrapResync(t *testing.T) {
	// scenario: node a advances through 1000 puts while node b is away;
	// when b arrives it bootstraps and ends with the same keys
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	a := startTestNode(t, 1, addrA)
	viewA := nodeMapView(t, a)

	count := 1000
	for i := 0; i < count; i += 1 {
		_, err := viewA.Put([]byte(fmt.Sprintf("k%04d", i)), []byte(fmt.Sprintf("v%d", i)))
		assert.Equal(t, err, nil)
	}

	b := startTestNode(t, 2, addrB, addrA)
	viewB := nodeMapView(t, b)

	waitFor(t, 30*time.Second, "b catches up", func() bool {
		size, _ := viewB.Size()
		return size == int64(count)
	})

	// spot-check content equality
	for _, i := range []int{0, 1, 499, 998, 999} {
		key := []byte(fmt.Sprintf("k%04d", i))
		value, present, _ := viewB.Get(key)
		assert.Equal(t, present, true)
		assert.Equal(t, string(value), fmt.Sprintf("v%d", i))
	}
}

func TestLateWritesKeepFlowing(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	a := startTestNode(t, 1, addrA, addrB)
	b := startTestNode(t, 2, addrB, addrA)

	viewA := nodeMapView(t, a)
	viewB := nodeMapView(t, b)

	// wait for the sessions to reach streaming
	_, err := viewA.Put([]byte("probe"), []byte("x"))
	assert.Equal(t, err, nil)
	waitFor(t, 10*time.Second, "b sees the probe", func() bool {
		_, present, _ := viewB.Get([]byte("probe"))
		return present
	})

	// post-subscribe mutations ship without any further handshake
	for i := 0; i < 20; i += 1 {
		_, err := viewA.Put([]byte(fmt.Sprintf("late%d", i)), []byte("v"))
		assert.Equal(t, err, nil)
	}
	waitFor(t, 10*time.Second, "late writes arrive", func() bool {
		for i := 0; i < 20; i += 1 {
			if _, present, _ := viewB.Get([]byte(fmt.Sprintf("late%d", i))); !present {
				return false
			}
		}
		return true
	})
}
