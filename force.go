package dbrouter

import (
	"context"
)

// ForceRouting pins routing to named nodes, optionally inside one cluster.
type ForceRouting struct {
	Cluster string
	Nodes   []string
	// Propagation lets calls in nested scopes inherit the override.
	Propagation bool
}

type forceKey struct{}

// forceScope is the force state of one logical call scope.
type forceScope struct {
	own       *ForceRouting
	cleared   bool
	inherited *ForceRouting
}

func (s *forceScope) effective() *ForceRouting {
	if s == nil || s.cleared {
		return nil
	}
	if s.own != nil {
		return s.own
	}
	return s.inherited
}

func scopeFrom(ctx context.Context) *forceScope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(forceKey{}).(*forceScope)
	return s
}

// WithForceRouting sets the override for the current scope.
func WithForceRouting(ctx context.Context, cluster string, nodes []string, propagation bool) context.Context {
	fr := &ForceRouting{
		Cluster:     cluster,
		Nodes:       append([]string(nil), nodes...),
		Propagation: propagation,
	}
	var inherited *ForceRouting
	if s := scopeFrom(ctx); s != nil {
		inherited = s.inherited
	}
	return context.WithValue(ctx, forceKey{}, &forceScope{own: fr, inherited: inherited})
}

// ClearForceRouting drops any override, own or inherited, for the current scope.
func ClearForceRouting(ctx context.Context) context.Context {
	if scopeFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, forceKey{}, &forceScope{cleared: true})
}

// ForceRoutingFrom returns the override in effect for the current scope, or nil.
func ForceRoutingFrom(ctx context.Context) *ForceRouting {
	return scopeFrom(ctx).effective()
}

// EnterScope marks the start of a nested call. The child sees its parent's
// override only when that override was set with propagation; otherwise it
// must establish its own.
func EnterScope(ctx context.Context) context.Context {
	s := scopeFrom(ctx)
	if s == nil {
		return ctx
	}
	parent := s.effective()
	if parent == nil || !parent.Propagation {
		return context.WithValue(ctx, forceKey{}, &forceScope{})
	}
	return context.WithValue(ctx, forceKey{}, &forceScope{inherited: parent})
}
