package dbrouter

// RouteRule proposes a node for a statement; nil means no opinion.
// The group decides whether the proposal is usable.
type RouteRule interface {
	Route(rc *RouteContext) *NodeAttribute
}

// RouteRuleFunc adapts a plain function to RouteRule.
type RouteRuleFunc func(rc *RouteContext) *NodeAttribute

func (f RouteRuleFunc) Route(rc *RouteContext) *NodeAttribute {
	return f(rc)
}

func (f RouteRuleFunc) String() string {
	return "func"
}

// Installed priorities, lower runs first.
const (
	PriorityForce          = 100
	PriorityTransaction    = 200
	PriorityHint           = 300
	PrioritySingleSource   = 400
	PriorityDefaultSource  = 500
	PriorityReadWriteSplit = 500
	PriorityNullAttribute  = 600
	PriorityRouteWritable  = 700
)

// ForceRule follows the force-routing override of the call scope.
type ForceRule struct{}

func (ForceRule) Route(rc *RouteContext) *NodeAttribute {
	fr := ForceRoutingFrom(rc.Context())
	if fr == nil {
		return nil
	}
	if fr.Cluster != "" && (rc.cluster == nil || rc.cluster.Name() != fr.Cluster) {
		return nil
	}
	var found *NodeAttribute
	for _, name := range fr.Nodes {
		n := rc.Node(name)
		if n == nil {
			continue
		}
		if n.Available() {
			return n
		}
		if found == nil {
			found = n
		}
	}
	return found
}

func (ForceRule) String() string { return "force" }

// HintRule routes to the node named by the nodeName hint key.
type HintRule struct{}

func (HintRule) Route(rc *RouteContext) *NodeAttribute {
	attr := rc.SqlAttribute()
	if attr == nil {
		return nil
	}
	return rc.Node(attr.Hint.NodeName())
}

func (HintRule) String() string { return "hint" }

// TransactionRule keeps an active transaction on the node it started on.
type TransactionRule struct{}

func (TransactionRule) Route(rc *RouteContext) *NodeAttribute {
	tx := rc.Transaction()
	if tx == nil || !tx.IsActive() {
		return nil
	}
	return tx.CurrentNode()
}

func (TransactionRule) String() string { return "transaction" }

// ReadWriteSplitRule writes to the write balancer, everything else to the read one.
type ReadWriteSplitRule struct{}

func (ReadWriteSplitRule) Route(rc *RouteContext) *NodeAttribute {
	attr := rc.SqlAttribute()
	if attr == nil || rc.cluster == nil {
		return nil
	}
	if attr.IsWrite() {
		return rc.cluster.writeLB.Choose()
	}
	return rc.cluster.readLB.Choose()
}

func (ReadWriteSplitRule) String() string { return "read_write_split" }

// NullAttributeRule sends unclassified statements to a writer.
type NullAttributeRule struct{}

func (NullAttributeRule) Route(rc *RouteContext) *NodeAttribute {
	if rc.SqlAttribute() != nil || rc.cluster == nil {
		return nil
	}
	return rc.cluster.writeLB.Choose()
}

func (NullAttributeRule) String() string { return "null_attribute" }

// RouteWritableRule last resort: any available writer.
type RouteWritableRule struct{}

func (RouteWritableRule) Route(rc *RouteContext) *NodeAttribute {
	if rc.cluster == nil {
		return nil
	}
	return rc.cluster.writeLB.Choose()
}

func (RouteWritableRule) String() string { return "route_writable" }

// SingleDataSourceRule short-circuits when exactly one datasource is registered.
type SingleDataSourceRule struct{}

func (SingleDataSourceRule) Route(rc *RouteContext) *NodeAttribute {
	if rc.sources == nil {
		return nil
	}
	if ds, ok := rc.sources.Single(); ok {
		return ds.Node
	}
	return nil
}

func (SingleDataSourceRule) String() string { return "single_datasource" }

// DefaultDataSourceRule resolves the datasource marked default.
type DefaultDataSourceRule struct{}

func (DefaultDataSourceRule) Route(rc *RouteContext) *NodeAttribute {
	if rc.sources == nil {
		return nil
	}
	if ds, ok := rc.sources.Default(); ok {
		return ds.Node
	}
	return nil
}

func (DefaultDataSourceRule) String() string { return "default_datasource" }

// NewClusterRouteGroup the chain installed for every cluster.
func NewClusterRouteGroup(name string) *RouteGroup {
	g := NewRouteGroup(name)
	g.mustInstall(PriorityForce, ForceRule{})
	g.mustInstall(PriorityTransaction, TransactionRule{})
	g.mustInstall(PriorityHint, HintRule{})
	g.mustInstall(PriorityReadWriteSplit, ReadWriteSplitRule{})
	g.mustInstall(PriorityNullAttribute, NullAttributeRule{})
	g.mustInstall(PriorityRouteWritable, RouteWritableRule{})
	return g
}

// NewDataSourceRouteGroup the chain used when no cluster applies.
func NewDataSourceRouteGroup() *RouteGroup {
	g := NewRouteGroup("datasource")
	g.mustInstall(PriorityForce, ForceRule{})
	g.mustInstall(PriorityTransaction, TransactionRule{})
	g.mustInstall(PriorityHint, HintRule{})
	g.mustInstall(PrioritySingleSource, SingleDataSourceRule{})
	g.mustInstall(PriorityDefaultSource, DefaultDataSourceRule{})
	return g
}
