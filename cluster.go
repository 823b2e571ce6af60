package dbrouter

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrEmptyCluster clusters without nodes are never kept in a registry.
var ErrEmptyCluster = errors.New("dbrouter: cluster has no nodes")

// Cluster a named group of nodes sharing one route group.
//
// mu guards the node set together with both balancers: membership changes
// take the write lock, routing holds the read lock for the whole chain so
// it never sees a node in one and not the other.
type Cluster struct {
	name      string
	isDefault bool
	group     *RouteGroup

	mu      sync.RWMutex
	nodes   map[string]*NodeAttribute
	readLB  LoadBalancer
	writeLB LoadBalancer
}

type ClusterOption func(*Cluster)

// AsDefault marks the cluster as the registry default.
func AsDefault() ClusterOption {
	return func(c *Cluster) {
		c.isDefault = true
	}
}

// WithRouteGroup replaces the standard cluster chain.
func WithRouteGroup(g *RouteGroup) ClusterOption {
	return func(c *Cluster) {
		c.group = g
	}
}

// NewCluster nil balancers default to weighted random.
func NewCluster(name string, readLB, writeLB LoadBalancer, opts ...ClusterOption) *Cluster {
	if readLB == nil {
		readLB = NewWeightedRandomBalancer()
	}
	if writeLB == nil {
		writeLB = NewWeightedRandomBalancer()
	}
	c := &Cluster{
		name:    name,
		nodes:   map[string]*NodeAttribute{},
		readLB:  readLB,
		writeLB: writeLB,
	}
	for _, o := range opts {
		o(c)
	}
	if c.group == nil {
		c.group = NewClusterRouteGroup(name)
	}
	return c
}

func (c *Cluster) Name() string {
	return c.name
}

func (c *Cluster) IsDefault() bool {
	return c.isDefault
}

func (c *Cluster) RouteGroup() *RouteGroup {
	return c.group
}

func (c *Cluster) ReadBalancer() LoadBalancer {
	return c.readLB
}

func (c *Cluster) WriteBalancer() LoadBalancer {
	return c.writeLB
}

// AddNode joins node to the read and/or write pool according to its type.
func (c *Cluster) AddNode(node *NodeAttribute) error {
	return c.AddNodeAs(node, node.Type().CanRead(), node.Type().CanWrite())
}

// AddNodeAs joins node with explicit roles, as cluster descriptors list them.
func (c *Cluster) AddNodeAs(node *NodeAttribute, read, write bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(node, read, write)
}

func (c *Cluster) addLocked(node *NodeAttribute, read, write bool) error {
	if _, ok := c.nodes[node.Name()]; ok {
		return errors.Wrapf(ErrDuplicateNode, "%s in %s", node.Name(), c.name)
	}
	c.nodes[node.Name()] = node
	if read {
		c.readLB.AddOption(node)
	}
	if write {
		c.writeLB.AddOption(node)
	}
	return nil
}

// RemoveNode drops the node from the set and both pools, reporting whether
// the cluster is now empty.
func (c *Cluster) RemoveNode(name string) (empty bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(name)
}

func (c *Cluster) removeLocked(name string) (bool, error) {
	node, ok := c.nodes[name]
	if !ok {
		return len(c.nodes) == 0, errors.Wrapf(ErrNodeNotFound, "%s in %s", name, c.name)
	}
	delete(c.nodes, name)
	c.readLB.RemoveOption(node)
	c.writeLB.RemoveOption(node)
	return len(c.nodes) == 0, nil
}

func (c *Cluster) Node(name string) (*NodeAttribute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[name]
	return n, ok
}

// lookupLocked callers hold c.mu
func (c *Cluster) lookupLocked(name string) *NodeAttribute {
	return c.nodes[name]
}

// Nodes snapshot sorted by name
func (c *Cluster) Nodes() []*NodeAttribute {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*NodeAttribute, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (c *Cluster) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// route runs the cluster's chain under the read lock.
func (c *Cluster) route(rc *RouteContext, listeners []RouteListener) (*RouteInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rc.cluster = c
	defer func() { rc.cluster = nil }()
	return NewCompositeRouteGroup(listeners, c.group).Route(rc)
}

// ClusterManager registry of clusters by name.
//
// Lock order is manager, then cluster.
type ClusterManager struct {
	mu          sync.RWMutex
	clusters    map[string]*Cluster
	defaultName string
}

func NewClusterManager() *ClusterManager {
	return &ClusterManager{clusters: map[string]*Cluster{}}
}

func (m *ClusterManager) Add(c *Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clusters[c.Name()]; ok {
		return managementError("add cluster", c.Name(), ErrDuplicateCluster)
	}
	if c.Len() == 0 {
		return managementError("add cluster", c.Name(), ErrEmptyCluster)
	}
	if c.IsDefault() && m.defaultName != "" {
		return managementError("add cluster", c.Name(), errors.Wrapf(ErrDuplicateDefault, "default is %s", m.defaultName))
	}
	m.clusters[c.Name()] = c
	if c.IsDefault() {
		m.defaultName = c.Name()
	}
	return nil
}

func (m *ClusterManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clusters[name]; !ok {
		return managementError("remove cluster", name, ErrClusterNotFound)
	}
	m.deleteLocked(name)
	return nil
}

func (m *ClusterManager) deleteLocked(name string) {
	delete(m.clusters, name)
	if m.defaultName == name {
		m.defaultName = ""
	}
}

func (m *ClusterManager) Get(name string) (*Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[name]
	if !ok {
		return nil, errors.Wrap(ErrClusterNotFound, name)
	}
	return c, nil
}

func (m *ClusterManager) Default() (*Cluster, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.defaultName == "" {
		return nil, false
	}
	c, ok := m.clusters[m.defaultName]
	return c, ok
}

func (m *ClusterManager) DefaultName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

// Names sorted
func (m *ClusterManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *ClusterManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clusters)
}

// AddNode joins node to a registered cluster, role by node type.
func (m *ClusterManager) AddNode(clusterName string, node *NodeAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[clusterName]
	if !ok {
		return managementError("add node to cluster", clusterName, ErrClusterNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.addLocked(node, node.Type().CanRead(), node.Type().CanWrite()); err != nil {
		return managementError("add node to cluster", clusterName, err)
	}
	return nil
}

// RemoveNodeFrom removes a node from one cluster, deleting the cluster if
// it was the last node.
func (m *ClusterManager) RemoveNodeFrom(clusterName, nodeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[clusterName]
	if !ok {
		return managementError("remove node from cluster", clusterName, ErrClusterNotFound)
	}
	c.mu.Lock()
	empty, err := c.removeLocked(nodeName)
	c.mu.Unlock()
	if err != nil {
		return managementError("remove node from cluster", clusterName, err)
	}
	if empty {
		m.deleteLocked(clusterName)
	}
	return nil
}

// RemoveNode removes a node from every cluster holding it and returns the
// names of the clusters it left. Clusters left empty are deleted.
func (m *ClusterManager) RemoveNode(nodeName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var touched []string
	for name, c := range m.clusters {
		c.mu.Lock()
		empty, err := c.removeLocked(nodeName)
		c.mu.Unlock()
		if err != nil {
			continue
		}
		touched = append(touched, name)
		if empty {
			m.deleteLocked(name)
		}
	}
	sort.Strings(touched)
	return touched
}

// ClustersOf names of the clusters holding the node, sorted.
func (m *ClusterManager) ClustersOf(nodeName string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, c := range m.clusters {
		if _, ok := c.Node(nodeName); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
