package engine

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// The event loop runs short non-blocking handlers round-robin, higher
// priorities first. A handler reports whether it did work; when a full
// pass is idle the loop parks until Unpause or the idle timer. A handler
// that returns an error is dropped.

type HandlerPriority int

const (
	PriorityMonitor HandlerPriority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	priorityCount
)

type HandlerFunc func() (didWork bool, err error)

type EventLoopSettings struct {
	IdlePause time.Duration
}

func DefaultEventLoopSettings() *EventLoopSettings {
	return &EventLoopSettings{
		IdlePause: 20 * time.Millisecond,
	}
}

type EventLoop struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *EventLoopSettings

	mutex    sync.Mutex
	handlers [priorityCount][]*loopHandler

	monitor *Monitor
}

type loopHandler struct {
	action HandlerFunc
}

func NewEventLoopWithDefaults(ctx context.Context) *EventLoop {
	return NewEventLoop(ctx, DefaultEventLoopSettings())
}

func NewEventLoop(ctx context.Context, settings *EventLoopSettings) *EventLoop {
	cancelCtx, cancel := context.WithCancel(ctx)
	eventLoop := &EventLoop{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		monitor:  NewMonitor(),
	}
	go eventLoop.run()
	return eventLoop
}

func (self *EventLoop) AddHandler(priority HandlerPriority, action HandlerFunc) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.handlers[priority] = append(self.handlers[priority], &loopHandler{
		action: action,
	})
	self.monitor.NotifyAll()
}

// Unpause wakes the loop immediately. Modification notifiers call this so
// a local write pumps replication without waiting out the idle pause.
func (self *EventLoop) Unpause() {
	self.monitor.NotifyAll()
}

func (self *EventLoop) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		notify := self.monitor.NotifyChannel()
		didWork := false
		for priority := HandlerPriority(0); priority < priorityCount; priority += 1 {
			self.mutex.Lock()
			handlers := make([]*loopHandler, len(self.handlers[priority]))
			copy(handlers, self.handlers[priority])
			self.mutex.Unlock()

			for _, handler := range handlers {
				handlerDidWork, err := handler.action()
				if err != nil {
					glog.V(1).Infof("[loop]drop handler = %s\n", err)
					self.removeHandler(priority, handler)
					continue
				}
				if handlerDidWork {
					didWork = true
				}
			}
		}

		if !didWork {
			select {
			case <-self.ctx.Done():
				return
			case <-notify:
			case <-time.After(self.settings.IdlePause):
			}
		}
	}
}

func (self *EventLoop) removeHandler(priority HandlerPriority, handler *loopHandler) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	handlers := self.handlers[priority]
	for i, h := range handlers {
		if h == handler {
			self.handlers[priority] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

func (self *EventLoop) Close() {
	self.cancel()
}
