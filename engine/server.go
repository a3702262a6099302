package engine

import (
	"context"
	"net"
	"sync"

	"github.com/golang/glog"
)

type ServerSettings struct {
	ChannelSettings *ChannelSettings
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		ChannelSettings: DefaultChannelSettings(),
	}
}

// Server accepts framed channels and runs one dispatcher per connection
// against the asset tree. The event loop is shared: the replication pumps
// of every session run on it.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	tree      *AssetTree
	eventLoop *EventLoop
	settings  *ServerSettings

	mutex     sync.Mutex
	listeners []net.Listener
}

func NewServerWithDefaults(ctx context.Context, tree *AssetTree, eventLoop *EventLoop) *Server {
	return NewServer(ctx, tree, eventLoop, DefaultServerSettings())
}

func NewServer(ctx context.Context, tree *AssetTree, eventLoop *EventLoop, settings *ServerSettings) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:       cancelCtx,
		cancel:    cancel,
		tree:      tree,
		eventLoop: eventLoop,
		settings:  settings,
	}
}

func (self *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return self.Serve(listener)
}

func (self *Server) Serve(listener net.Listener) error {
	self.mutex.Lock()
	self.listeners = append(self.listeners, listener)
	self.mutex.Unlock()

	go func() {
		<-self.ctx.Done()
		listener.Close()
	}()

	glog.V(1).Infof("[srv]listening on %s\n", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-self.ctx.Done():
				return nil
			default:
			}
			return err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}
		go self.serveConn(conn)
	}
}

func (self *Server) serveConn(conn net.Conn) {
	framedConn := NewFramedConn(conn, self.settings.ChannelSettings)
	handler := newEngineHandler(self, framedConn)
	handler.run()
}

func (self *Server) Close() {
	self.cancel()
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, listener := range self.listeners {
		listener.Close()
	}
}
