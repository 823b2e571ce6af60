package dbrouter

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm/logger"
)

// Router turns statements into nodes over a cluster registry and a
// datasource registry. Both registries are owned by the caller and may be
// mutated through the Router while it routes.
type Router struct {
	clusters  *ClusterManager
	sources   *DataSourceManager
	group     *RouteGroup
	listeners []RouteListener

	parser     SqlParser
	failPolicy FailPolicy
	log        logger.Interface
	trace      bool

	defaultDatabase string
}

// Option is a configuration option for a Router instance
type Option func(*Router)

// WithSqlParser replaces the sqlparser based classifier.
func WithSqlParser(p SqlParser) Option {
	return func(r *Router) {
		r.parser = p
	}
}

func WithFailPolicy(policy FailPolicy) Option {
	return func(r *Router) {
		r.failPolicy = policy
	}
}

func WithLogger(l logger.Interface) Option {
	return func(r *Router) {
		r.log = l
	}
}

// WithTrace logs every routing decision at info level.
func WithTrace(trace bool) Option {
	return func(r *Router) {
		r.trace = trace
	}
}

func WithListener(l RouteListener) Option {
	return func(r *Router) {
		r.listeners = append(r.listeners, l)
	}
}

// WithDataSourceGroup replaces the chain used when no cluster applies.
func WithDataSourceGroup(g *RouteGroup) Option {
	return func(r *Router) {
		r.group = g
	}
}

// WithDefaultDatabase is stamped on statements that carry no database.
func WithDefaultDatabase(name string) Option {
	return func(r *Router) {
		r.defaultDatabase = name
	}
}

func NewRouter(clusters *ClusterManager, sources *DataSourceManager, opts ...Option) *Router {
	if clusters == nil {
		clusters = NewClusterManager()
	}
	if sources == nil {
		sources = NewDataSourceManager()
	}
	r := &Router{clusters: clusters, sources: sources}
	for _, o := range opts {
		o(r)
	}

	// defaults
	if r.log == nil {
		r.log = logger.Default
	}
	if r.group == nil {
		r.group = NewDataSourceRouteGroup()
	}
	r.parser = NewFailSafeParser(r.parser, r.failPolicy, r.log)
	return r
}

func (r *Router) Clusters() *ClusterManager {
	return r.clusters
}

func (r *Router) DataSources() *DataSourceManager {
	return r.sources
}

// Route picks the node for key. The transaction and force-routing override
// are read from ctx. A nil error always comes with a non-nil HitNode.
func (r *Router) Route(ctx context.Context, key RoutingKey) (*RouteInfo, error) {
	rc := NewRouteContext(ctx, key, r.parser, r.sources)
	attr, err := rc.classify()
	if err != nil {
		return nil, r.fail(rc, &RoutingError{Sql: key.Sql, Cluster: key.Cluster, Err: err})
	}
	if attr != nil && attr.DefaultDatabase == "" {
		attr.DefaultDatabase = r.defaultDatabase
	}

	cluster, err := r.selectCluster(rc)
	if err != nil {
		return nil, r.fail(rc, &RoutingError{Sql: key.Sql, Cluster: key.Cluster, Err: err})
	}

	var info *RouteInfo
	if cluster != nil {
		info, err = cluster.route(rc, r.listeners)
	} else {
		info, err = NewCompositeRouteGroup(r.listeners, r.group).Route(rc)
	}
	if err != nil {
		return nil, r.fail(rc, err)
	}
	if r.trace {
		r.log.Info(rc.Context(), "route %s [sql: %s]", info, key.Sql)
	}
	return info, nil
}

// selectCluster key, then hint, then force override, then the default cluster.
func (r *Router) selectCluster(rc *RouteContext) (*Cluster, error) {
	name := rc.Key().Cluster
	if name == "" && rc.SqlAttribute() != nil {
		name = rc.SqlAttribute().Hint.ClusterName()
	}
	if name == "" {
		if fr := ForceRoutingFrom(rc.Context()); fr != nil {
			name = fr.Cluster
		}
	}
	if name != "" {
		return r.clusters.Get(name)
	}
	if c, ok := r.clusters.Default(); ok {
		return c, nil
	}
	return nil, nil
}

func (r *Router) fail(rc *RouteContext, err error) error {
	if r.trace {
		r.log.Error(rc.Context(), "%v", err)
	}
	return err
}

// AddCluster registers c; it must hold at least one node.
func (r *Router) AddCluster(c *Cluster) error {
	return r.clusters.Add(c)
}

func (r *Router) RemoveCluster(name string) error {
	return r.clusters.Remove(name)
}

// AddNodeToCluster joins a registered datasource's node to a cluster.
func (r *Router) AddNodeToCluster(clusterName, nodeName string) error {
	node, err := r.sources.Node(nodeName)
	if err != nil {
		return managementError("add node to cluster", nodeName, err)
	}
	return r.clusters.AddNode(clusterName, node)
}

func (r *Router) RemoveNodeFromCluster(clusterName, nodeName string) error {
	return r.clusters.RemoveNodeFrom(clusterName, nodeName)
}

// RemoveNode takes the node out of every cluster; its datasource stays.
func (r *Router) RemoveNode(nodeName string) ([]string, error) {
	if _, err := r.sources.Node(nodeName); err != nil {
		return nil, managementError("remove node", nodeName, err)
	}
	return r.clusters.RemoveNode(nodeName), nil
}

func (r *Router) SetNodeState(nodeName string, state NodeState) error {
	node, err := r.sources.Node(nodeName)
	if err != nil {
		return managementError("set node state", nodeName, err)
	}
	node.SetState(state)
	return nil
}

func (r *Router) SetNodeWeight(nodeName string, weight float64) error {
	node, err := r.sources.Node(nodeName)
	if err != nil {
		return managementError("set node weight", nodeName, err)
	}
	if err := node.SetWeight(weight); err != nil {
		return managementError("set node weight", nodeName, err)
	}
	return nil
}

func (r *Router) AddDataSource(ds *DataSource) error {
	return r.sources.Add(ds)
}

// RemoveDataSource removes the node from every cluster, then unregisters the
// datasource. A node a cluster can still choose always has its datasource.
func (r *Router) RemoveDataSource(name string) (*DataSource, error) {
	if _, err := r.sources.Get(name); err != nil {
		return nil, managementError("remove datasource", name, err)
	}
	r.clusters.RemoveNode(name)
	return r.sources.Remove(name)
}

// DataSourceOf resolves the datasource, and so the pool, of a routed node.
func (r *Router) DataSourceOf(info *RouteInfo) (*DataSource, error) {
	if info == nil || info.HitNode == nil {
		return nil, errors.WithStack(ErrRoutingFailure)
	}
	return r.sources.Get(info.HitNode.Name())
}
