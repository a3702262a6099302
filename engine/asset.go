package engine

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// A small path-addressed tree of assets. Each asset lazily materialises
// the views the wire asks for (map, topic publisher, topology); the
// dispatcher routes csps here. Replication is wired per map view so every
// local mutation lands in the replication state store.

type AssetTreeSettings struct {
	// StoreFactory opens the backing store for a named keyspace. Map
	// views open two keyspaces, one for values and one for replication
	// records, so both share durability.
	StoreFactory func(name string) (Store, error)
}

func DefaultAssetTreeSettings() *AssetTreeSettings {
	return &AssetTreeSettings{
		StoreFactory: func(name string) (Store, error) {
			return NewMemoryStore(), nil
		},
	}
}

// BadgerAssetTreeSettings persists every keyspace under one badger dir.
func BadgerAssetTreeSettings(root *BadgerStore) *AssetTreeSettings {
	return &AssetTreeSettings{
		StoreFactory: func(name string) (Store, error) {
			return root.Sub(name), nil
		},
	}
}

type AssetTree struct {
	identifier byte
	settings   *AssetTreeSettings

	root *Asset
}

func NewAssetTreeWithDefaults(identifier byte) *AssetTree {
	return NewAssetTree(identifier, DefaultAssetTreeSettings())
}

func NewAssetTree(identifier byte, settings *AssetTreeSettings) *AssetTree {
	tree := &AssetTree{
		identifier: identifier,
		settings:   settings,
	}
	tree.root = newAsset(tree, nil, "")
	return tree
}

func (self *AssetTree) Identifier() byte {
	return self.identifier
}

func (self *AssetTree) Root() *Asset {
	return self.root
}

// Acquire walks to the asset at fullName ("/a/b"), creating missing
// segments.
func (self *AssetTree) Acquire(fullName string) *Asset {
	asset := self.root
	for _, segment := range strings.Split(fullName, "/") {
		if segment == "" {
			continue
		}
		asset = asset.acquireChild(segment)
	}
	return asset
}

func (self *AssetTree) Close() {
	self.root.close()
}

type Asset struct {
	tree     *AssetTree
	parent   *Asset
	name     string
	fullName string

	mutex    sync.Mutex
	children map[string]*Asset

	mapView  *MapView
	topic    *TopicView
	topology *TopologyView
}

func newAsset(tree *AssetTree, parent *Asset, name string) *Asset {
	fullName := ""
	if parent != nil {
		fullName = parent.fullName + "/" + name
	}
	return &Asset{
		tree:     tree,
		parent:   parent,
		name:     name,
		fullName: fullName,
		children: map[string]*Asset{},
	}
}

func (self *Asset) Name() string {
	return self.name
}

func (self *Asset) FullName() string {
	return self.fullName
}

func (self *Asset) acquireChild(name string) *Asset {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	child, ok := self.children[name]
	if !ok {
		child = newAsset(self.tree, self, name)
		self.children[name] = child
	}
	return child
}

// ChildNames lists direct children, sorted.
func (self *Asset) ChildNames() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	names := maps.Keys(self.children)
	slices.Sort(names)
	return names
}

func (self *Asset) AcquireMapView() (*MapView, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.mapView != nil {
		return self.mapView, nil
	}
	values, err := self.tree.settings.StoreFactory(self.fullName)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", self.fullName, err)
	}
	records, err := self.tree.settings.StoreFactory(self.fullName + "#replication")
	if err != nil {
		values.Close()
		return nil, fmt.Errorf("open replication store %s: %w", self.fullName, err)
	}
	self.mapView = newMapView(self.fullName, self.tree.identifier, values, records)
	return self.mapView, nil
}

func (self *Asset) AcquireTopicView() *TopicView {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.topic == nil {
		self.topic = newTopicView(self.fullName)
	}
	return self.topic
}

func (self *Asset) AcquireTopologyView() *TopologyView {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.topology == nil {
		self.topology = newTopologyView()
	}
	return self.topology
}

func (self *Asset) close() {
	self.mutex.Lock()
	children := maps.Values(self.children)
	mapView := self.mapView
	self.mutex.Unlock()

	for _, child := range children {
		child.close()
	}
	if mapView != nil {
		mapView.close()
	}
}
