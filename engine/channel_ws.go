package engine

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// WebSocket carrier for the framed channel. The document stream, headers
// included, rides binary ws messages so the same codecs and framing rules
// apply; this is for peers that can only reach the server through http
// infrastructure.

func dialWs(address string, settings *ChannelSettings) (net.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.ConnectTimeout,
	}
	ws, _, err := dialer.Dial(address, nil)
	if err != nil {
		return nil, err
	}
	return newWsConn(ws), nil
}

// wsConn adapts a websocket connection to net.Conn. Each Write is one
// binary message; Read drains messages in order.
type wsConn struct {
	ws *websocket.Conn

	readMutex sync.Mutex
	pending   []byte
}

func newWsConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws: ws,
	}
}

func (self *wsConn) Read(b []byte) (int, error) {
	self.readMutex.Lock()
	defer self.readMutex.Unlock()

	for len(self.pending) == 0 {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		self.pending = message
	}
	n := copy(b, self.pending)
	self.pending = self.pending[n:]
	return n, nil
}

func (self *wsConn) Write(b []byte) (int, error) {
	if err := self.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (self *wsConn) Close() error {
	return self.ws.Close()
}

func (self *wsConn) LocalAddr() net.Addr {
	return self.ws.LocalAddr()
}

func (self *wsConn) RemoteAddr() net.Addr {
	return self.ws.RemoteAddr()
}

func (self *wsConn) SetDeadline(t time.Time) error {
	if err := self.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return self.ws.SetWriteDeadline(t)
}

func (self *wsConn) SetReadDeadline(t time.Time) error {
	return self.ws.SetReadDeadline(t)
}

func (self *wsConn) SetWriteDeadline(t time.Time) error {
	return self.ws.SetWriteDeadline(t)
}

// ListenAndServeWs exposes the server over the WebSocket carrier. Each
// upgraded connection is served exactly like a TCP one.
func (self *Server) ListenAndServeWs(addr string) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  self.settings.ChannelSettings.BufferSize,
		WriteBufferSize: self.settings.ChannelSettings.BufferSize,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			glog.Infof("[srv]ws upgrade error = %s\n", err)
			return
		}
		self.serveConn(newWsConn(ws))
	})
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return self.ctx
		},
	}
	go func() {
		<-self.ctx.Done()
		httpServer.Close()
	}()
	return httpServer.ListenAndServe()
}
