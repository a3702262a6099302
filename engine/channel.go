package engine

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

type ChannelSettings struct {
	// BufferSize bounds the shared outbound buffer. Writers coalesce into
	// it under contention; see Send.
	BufferSize int

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// PingPeriod is the silence after which the client emits a heartbeat;
	// TimeoutPeriod the silence after which it drops the connection.
	PingPeriod    time.Duration
	TimeoutPeriod time.Duration

	// CallTimeout bounds synchronous proxy calls.
	CallTimeout time.Duration

	ReconnectDelay time.Duration

	// Codec is fixed at connect time for the lifetime of the channel.
	Codec wire.Codec
}

func DefaultChannelSettings() *ChannelSettings {
	return &ChannelSettings{
		BufferSize:     64 << 10,
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingPeriod:     3000 * time.Millisecond,
		TimeoutPeriod:  5000 * time.Millisecond,
		CallTimeout:    10 * time.Second,
		ReconnectDelay: 1 * time.Second,
		Codec:          wire.BinaryWire,
	}
}

// FramedConn is the framed document channel over one stream connection.
// All writers share one outbound buffer guarded by an exclusive lock. A
// writer that finds other writers queued may leave its documents in the
// buffer for the next holder to flush, as long as the buffer can still
// absorb the largest chunk seen so far; the holder whose write would
// overflow drains it. Reads happen on a single reader task.
type FramedConn struct {
	conn     net.Conn
	settings *ChannelSettings

	writeMutex   sync.Mutex
	writeWaiters atomic.Int32
	outBuffer    []byte
	encodeBuf    []byte
	largestChunk int

	readHeader [wire.HeaderSize]byte
	readBuf    []byte

	lastActivity atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewFramedConn(conn net.Conn, settings *ChannelSettings) *FramedConn {
	framedConn := &FramedConn{
		conn:     conn,
		settings: settings,
		done:     make(chan struct{}),
	}
	framedConn.lastActivity.Store(time.Now().UnixMilli())
	return framedConn
}

// Batch is a scoped hold of the outbound buffer. Meta and data documents
// written into one batch stay adjacent on the wire.
type Batch struct {
	conn *FramedConn
}

func (self *Batch) WriteMeta(d *wire.Document) error {
	return self.conn.appendDocument(d, true, true)
}

func (self *Batch) WriteData(ready bool, d *wire.Document) error {
	return self.conn.appendDocument(d, false, ready)
}

// Send runs build while holding the outbound lock, then flushes or defers
// per the coalescing rule. The lock is released on every exit.
func (self *FramedConn) Send(build func(b *Batch) error) error {
	if self.closed.Load() {
		return ErrClosed
	}

	self.writeWaiters.Add(1)
	self.writeMutex.Lock()
	self.writeWaiters.Add(-1)
	defer self.writeMutex.Unlock()

	start := len(self.outBuffer)
	if err := build(&Batch{conn: self}); err != nil {
		self.outBuffer = self.outBuffer[:start]
		return err
	}
	if chunk := len(self.outBuffer) - start; self.largestChunk < chunk {
		self.largestChunk = chunk
	}

	// if other writers are queued and the buffer is not near full, let
	// them append before the flush
	if 0 < self.writeWaiters.Load() &&
		len(self.outBuffer)+self.largestChunk <= self.settings.BufferSize {
		return nil
	}

	return self.flushLocked()
}

// Flush drains any coalesced documents left by earlier writers.
func (self *FramedConn) Flush() error {
	if self.closed.Load() {
		return ErrClosed
	}
	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	return self.flushLocked()
}

func (self *FramedConn) appendDocument(d *wire.Document, meta bool, ready bool) error {
	payload, err := self.settings.Codec.Encode(self.encodeBuf[:0], d)
	if err != nil {
		return err
	}
	self.encodeBuf = payload[:0]

	var header [wire.HeaderSize]byte
	if err := wire.EncodeHeader(header[:], len(payload), meta, ready); err != nil {
		return err
	}
	self.outBuffer = append(self.outBuffer, header[:]...)
	self.outBuffer = append(self.outBuffer, payload...)
	return nil
}

func (self *FramedConn) flushLocked() error {
	if len(self.outBuffer) == 0 {
		return nil
	}
	self.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	_, err := self.conn.Write(self.outBuffer)
	self.outBuffer = self.outBuffer[:0]
	if err != nil {
		glog.V(1).Infof("[ch]write error = %s\n", err)
		self.Close()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// ReadDocument blocks for the next document. The returned payload is
// valid until the next call; codecs copy out what they keep.
func (self *FramedConn) ReadDocument() (payload []byte, meta bool, ready bool, err error) {
	if _, err = io.ReadFull(self.conn, self.readHeader[:]); err != nil {
		return nil, false, false, self.readError(err)
	}
	length, meta, ready := wire.DecodeHeader(self.readHeader[:])
	if cap(self.readBuf) < length {
		self.readBuf = make([]byte, length)
	}
	payload = self.readBuf[:length]
	if _, err = io.ReadFull(self.conn, payload); err != nil {
		return nil, false, false, self.readError(err)
	}
	self.lastActivity.Store(time.Now().UnixMilli())
	return payload, meta, ready, nil
}

func (self *FramedConn) readError(err error) error {
	self.Close()
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

func (self *FramedConn) RemoteAddr() string {
	if addr := self.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (self *FramedConn) LastActivity() time.Time {
	return time.UnixMilli(self.lastActivity.Load())
}

// Close is idempotent and releases the socket. Blocked readers and
// writers wake with ErrClosed.
func (self *FramedConn) Close() {
	self.closeOnce.Do(func() {
		self.closed.Store(true)
		self.conn.Close()
		close(self.done)
	})
}

func (self *FramedConn) IsClosed() bool {
	return self.closed.Load()
}

func (self *FramedConn) Done() <-chan struct{} {
	return self.done
}

// DialChannel connects a framed channel. `ws://` and `wss://` addresses
// use the WebSocket carrier; anything else is raw TCP host:port.
func DialChannel(address string, settings *ChannelSettings) (*FramedConn, error) {
	var conn net.Conn
	var err error
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		conn, err = dialWs(address, settings)
	} else {
		conn, err = net.DialTimeout("tcp", address, settings.ConnectTimeout)
		if err == nil {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				tcpConn.SetNoDelay(true)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return NewFramedConn(conn, settings), nil
}
