package engine

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Node wires one engine process: the asset tree, the server, the shared
// event loop and a replication session per configured peer and asset.
// Peers are static configuration; there is no discovery.
type NodeSettings struct {
	Identifier byte

	// Addr is the TCP listen address; WsAddr optionally exposes the same
	// server over the WebSocket carrier.
	Addr   string
	WsAddr string

	// UserId identifies outbound peer sessions in the userid handshake.
	UserId string

	// ReplicatedAssets names the map assets replicated to every peer.
	ReplicatedAssets []string

	// Peers lists remote node addresses.
	Peers []string

	AssetTreeSettings *AssetTreeSettings
	ServerSettings    *ServerSettings
	EventLoopSettings *EventLoopSettings
}

func DefaultNodeSettings(identifier byte, addr string) *NodeSettings {
	return &NodeSettings{
		Identifier:        identifier,
		Addr:              addr,
		UserId:            "node",
		ReplicatedAssets:  []string{},
		Peers:             []string{},
		AssetTreeSettings: DefaultAssetTreeSettings(),
		ServerSettings:    DefaultServerSettings(),
		EventLoopSettings: DefaultEventLoopSettings(),
	}
}

type Node struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *NodeSettings

	tree      *AssetTree
	eventLoop *EventLoop
	server    *Server

	mutex sync.Mutex
	hubs  []*ChannelHub
	repl  []*ReplicationHub
}

func NewNode(ctx context.Context, settings *NodeSettings) *Node {
	cancelCtx, cancel := context.WithCancel(ctx)
	tree := NewAssetTree(settings.Identifier, settings.AssetTreeSettings)
	eventLoop := NewEventLoop(cancelCtx, settings.EventLoopSettings)
	return &Node{
		ctx:       cancelCtx,
		cancel:    cancel,
		settings:  settings,
		tree:      tree,
		eventLoop: eventLoop,
		server:    NewServer(cancelCtx, tree, eventLoop, settings.ServerSettings),
	}
}

func (self *Node) Tree() *AssetTree {
	return self.tree
}

func (self *Node) EventLoop() *EventLoop {
	return self.eventLoop
}

// Start begins serving and connects replication sessions to every peer.
func (self *Node) Start() {
	go func() {
		if err := self.server.ListenAndServe(self.settings.Addr); err != nil {
			glog.Errorf("[srv]serve %s error = %s\n", self.settings.Addr, err)
		}
	}()
	if self.settings.WsAddr != "" {
		go func() {
			if err := self.server.ListenAndServeWs(self.settings.WsAddr); err != nil {
				glog.Errorf("[srv]serve ws %s error = %s\n", self.settings.WsAddr, err)
			}
		}()
	}

	for _, peer := range self.settings.Peers {
		hub := NewChannelHub(self.ctx, peer, self.settings.UserId, self.eventLoop,
			self.settings.ServerSettings.ChannelSettings)
		self.mutex.Lock()
		self.hubs = append(self.hubs, hub)
		self.mutex.Unlock()
		for _, assetName := range self.settings.ReplicatedAssets {
			go self.replicate(hub, assetName)
		}
	}
}

// replicate retries a peer session until it reaches streaming or the node
// closes.
func (self *Node) replicate(hub *ChannelHub, assetName string) {
	mapView, err := self.tree.Acquire(assetName).AcquireMapView()
	if err != nil {
		glog.Errorf("[re]open %s error = %s\n", assetName, err)
		return
	}

	rc, err := ParseRequestContext(assetName + "?view=replication")
	if err != nil {
		glog.Errorf("[re]%s error = %s\n", assetName, err)
		return
	}

	for {
		replicationHub := NewReplicationHub(rc.Name, hub, self.eventLoop, mapView.Replication())
		err := replicationHub.Bootstrap()
		if err == nil {
			self.mutex.Lock()
			self.repl = append(self.repl, replicationHub)
			self.mutex.Unlock()
			return
		}
		glog.Infof("[re]%s bootstrap error = %s\n", assetName, err)
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ServerSettings.ChannelSettings.ReconnectDelay):
		}
	}
}

func (self *Node) Close() {
	self.mutex.Lock()
	repl := self.repl
	hubs := self.hubs
	self.mutex.Unlock()

	for _, replicationHub := range repl {
		replicationHub.Close()
	}
	for _, hub := range hubs {
		hub.Close()
	}
	self.server.Close()
	self.eventLoop.Close()
	self.cancel()
	self.tree.Close()
}
