package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMonitorNotify(t *testing.T) {
	monitor := NewMonitor()

	// a notification between the channel grab and the wait is not lost
	notify := monitor.NotifyChannel()
	monitor.NotifyAll()
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("notify lost")
	}

	// a fresh channel is armed again
	notify = monitor.NotifyChannel()
	select {
	case <-notify:
		t.Fatal("spurious notify")
	default:
	}
}

func TestCallbackList(t *testing.T) {
	list := &CallbackList[func()]{}

	calls := 0
	firstId := list.Add(func() {
		calls += 1
	})
	secondId := list.Add(func() {
		calls += 10
	})

	for _, callback := range list.Get() {
		callback()
	}
	assert.Equal(t, calls, 11)

	list.Remove(firstId)
	for _, callback := range list.Get() {
		callback()
	}
	assert.Equal(t, calls, 21)

	list.Remove(secondId)
	assert.Equal(t, len(list.Get()), 0)

	// removing twice is harmless
	list.Remove(secondId)
}

func TestEventLoopPriorities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: time.Millisecond})
	defer eventLoop.Close()

	order := make(chan string, 2)
	eventLoop.AddHandler(PriorityMonitor, func() (bool, error) {
		order <- "monitor"
		return false, ErrClosed
	})
	eventLoop.AddHandler(PriorityMedium, func() (bool, error) {
		order <- "medium"
		return false, ErrClosed
	})

	read := func() string {
		select {
		case s := <-order:
			return s
		case <-time.After(time.Second):
			t.Fatal("handlers did not run")
			return ""
		}
	}
	// monitor outranks medium within a pass
	assert.Equal(t, read(), "monitor")
	assert.Equal(t, read(), "medium")
}

func TestEventLoopDropsHandlerOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: time.Millisecond})
	defer eventLoop.Close()

	var runs atomic.Int32
	eventLoop.AddHandler(PriorityHigh, func() (bool, error) {
		runs.Add(1)
		return false, ErrClosed
	})

	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, runs.Load(), int32(1))
}

func TestEventLoopUnpause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a long idle pause: only Unpause makes the handler run promptly
	eventLoop := NewEventLoop(ctx, &EventLoopSettings{IdlePause: 10 * time.Second})
	defer eventLoop.Close()

	ran := make(chan struct{}, 16)
	eventLoop.AddHandler(PriorityMedium, func() (bool, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return false, nil
	})

	// the first pass happens on AddHandler's own notify
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("first pass missing")
	}

	eventLoop.Unpause()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("unpause did not wake the loop")
	}
}
