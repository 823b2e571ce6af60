package dbrouter

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RouteListener observes every routing call. AfterRouting runs on success,
// on failure and when a rule panics.
type RouteListener interface {
	BeforeRouting(ctx context.Context, info *RouteInfo)
	AfterRouting(ctx context.Context, info *RouteInfo, err error)
}

// CompositeRouteGroup evaluates groups in order, first hit wins.
type CompositeRouteGroup struct {
	groups    []*RouteGroup
	listeners []RouteListener
}

func NewCompositeRouteGroup(listeners []RouteListener, groups ...*RouteGroup) *CompositeRouteGroup {
	return &CompositeRouteGroup{groups: groups, listeners: listeners}
}

func (c *CompositeRouteGroup) Groups() []*RouteGroup {
	return append([]*RouteGroup(nil), c.groups...)
}

// Route returns the RouteInfo of the first group that hit, or a *RoutingError.
func (c *CompositeRouteGroup) Route(rc *RouteContext) (_ *RouteInfo, err error) {
	ctx := rc.Context()
	info := &RouteInfo{Key: rc.Key(), StartTime: time.Now()}
	if rc.cluster != nil {
		info.Cluster = rc.cluster.Name()
	}
	for _, l := range c.listeners {
		l.BeforeRouting(ctx, info)
	}
	defer func() {
		r := recover()
		if r != nil {
			err = errors.Errorf("dbrouter: rule panicked: %v", r)
		}
		info.EndTime = time.Now()
		for _, l := range c.listeners {
			l.AfterRouting(ctx, info, err)
		}
		if r != nil {
			panic(r)
		}
	}()

	for _, g := range c.groups {
		result, gerr := g.Route(rc)
		info.SqlAttribute = result.SqlAttribute
		if gerr != nil {
			return nil, &RoutingError{Sql: rc.Key().Sql, Cluster: info.Cluster, Err: gerr}
		}
		if result.HitNode == nil {
			continue
		}
		info.HitRule = result.HitRule.Rule
		info.HitPriority = result.HitRule.Priority
		info.HitNode = result.HitNode
		c.bindTransaction(rc, info)
		return info, nil
	}
	return nil, &RoutingError{Sql: rc.Key().Sql, Cluster: info.Cluster, Err: ErrRoutingFailure}
}

// bindTransaction pins the first node of an active transaction and records the statement.
func (c *CompositeRouteGroup) bindTransaction(rc *RouteContext, info *RouteInfo) {
	tx := rc.Transaction()
	if tx == nil || !tx.IsActive() {
		return
	}
	info.TransactionActive = true
	info.TransactionID = tx.ID()
	info.TransactionName = tx.Name()
	if tx.CurrentNode() == nil {
		tx.RegisterNode(info.HitNode, info.SqlAttribute)
		return
	}
	tx.AddSql(info.SqlAttribute)
}
