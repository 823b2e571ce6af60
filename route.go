package dbrouter

import (
	"context"
	"fmt"
	"time"
)

// RoutingKey input of one routing call
type RoutingKey struct {
	Sql string
	// Cluster target cluster name, empty for the default
	Cluster string
}

// RouteInfo outcome of one routing call. A nil HitNode means routing failed.
type RouteInfo struct {
	Key          RoutingKey
	Cluster      string
	SqlAttribute *SqlAttribute
	HitRule      RouteRule
	HitPriority  int
	HitNode      *NodeAttribute

	StartTime time.Time
	EndTime   time.Time

	TransactionActive bool
	TransactionID     string
	TransactionName   string
}

func (ri *RouteInfo) Elapsed() time.Duration {
	if ri.EndTime.IsZero() {
		return 0
	}
	return ri.EndTime.Sub(ri.StartTime)
}

// NodeName name of the chosen node, "" on a miss
func (ri *RouteInfo) NodeName() string {
	if ri == nil || ri.HitNode == nil {
		return ""
	}
	return ri.HitNode.Name()
}

func (ri *RouteInfo) String() string {
	target := ri.Cluster
	if target == "" {
		target = "-"
	}
	rule := "-"
	if ri.HitRule != nil {
		rule = fmt.Sprintf("%v@%d", ri.HitRule, ri.HitPriority)
	}
	node := ri.NodeName()
	if node == "" {
		node = "<none>"
	}
	s := fmt.Sprintf("%s/%s rule=%s", target, node, rule)
	if ri.TransactionActive {
		s += fmt.Sprintf(" tx=%s", ri.TransactionID)
	}
	return s
}

// RouteContext carries everything a rule may consult for one statement.
type RouteContext struct {
	ctx    context.Context
	key    RoutingKey
	parser SqlParser
	tx     Transaction

	attr     *SqlAttribute
	parsed   bool
	parseErr error

	// cluster is set, with its lock held, while a cluster group runs
	cluster *Cluster
	sources *DataSourceManager
}

// NewRouteContext builds a context for evaluating groups directly. The
// transaction is taken from ctx.
func NewRouteContext(ctx context.Context, key RoutingKey, parser SqlParser, sources *DataSourceManager) *RouteContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if parser == nil {
		parser = DefaultSqlParser{}
	}
	return &RouteContext{
		ctx:     ctx,
		key:     key,
		parser:  parser,
		tx:      TransactionFrom(ctx),
		sources: sources,
	}
}

func (rc *RouteContext) Context() context.Context {
	return rc.ctx
}

func (rc *RouteContext) Key() RoutingKey {
	return rc.key
}

func (rc *RouteContext) Transaction() Transaction {
	return rc.tx
}

// Cluster the cluster being routed, nil in the datasource topology
func (rc *RouteContext) Cluster() *Cluster {
	return rc.cluster
}

func (rc *RouteContext) DataSources() *DataSourceManager {
	return rc.sources
}

// SqlAttribute nil when the key has no SQL or it has not been classified yet.
func (rc *RouteContext) SqlAttribute() *SqlAttribute {
	return rc.attr
}

// classify runs the parser once per context.
func (rc *RouteContext) classify() (*SqlAttribute, error) {
	if rc.parsed {
		return rc.attr, rc.parseErr
	}
	rc.parsed = true
	if rc.key.Sql == "" {
		return nil, nil
	}
	rc.attr, rc.parseErr = rc.parser.Parse(rc.key.Sql)
	return rc.attr, rc.parseErr
}

// Node resolves a node by name, inside the routed cluster when there is
// one, otherwise among the registered datasources. Unknown names give nil.
func (rc *RouteContext) Node(name string) *NodeAttribute {
	if name == "" {
		return nil
	}
	if rc.cluster != nil {
		return rc.cluster.lookupLocked(name)
	}
	if rc.sources == nil {
		return nil
	}
	ds, err := rc.sources.Get(name)
	if err != nil {
		return nil
	}
	return ds.Node
}
