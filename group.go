package dbrouter

import (
	"cmp"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// RuleEntry a rule and the priority it was installed at
type RuleEntry struct {
	Priority int
	Rule     RouteRule
}

// RouteResult outcome of one group; HitNode is nil on a miss.
type RouteResult struct {
	SqlAttribute *SqlAttribute
	HitRule      *RuleEntry
	HitNode      *NodeAttribute
}

// RouteGroup priority-ordered rule chain. The first rule that proposes an
// available node wins; an unavailable proposal moves on to the next rule.
//
// Rules are kept as an immutable sorted snapshot so routing iterates
// without locking while Install/Uninstall replace it.
type RouteGroup struct {
	name  string
	mu    sync.Mutex
	rules atomic.Pointer[[]RuleEntry]
}

func NewRouteGroup(name string) *RouteGroup {
	g := &RouteGroup{name: name}
	g.rules.Store(&[]RuleEntry{})
	return g
}

func (g *RouteGroup) Name() string {
	return g.name
}

// Install adds rule at priority. Priorities are unique within a group.
func (g *RouteGroup) Install(priority int, rule RouteRule) error {
	if rule == nil {
		return errors.New("dbrouter: nil rule")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	current := *g.rules.Load()
	if slices.ContainsFunc(current, func(e RuleEntry) bool { return e.Priority == priority }) {
		return errors.Wrapf(ErrDuplicatePriority, "group %s priority %d", g.name, priority)
	}
	next := make([]RuleEntry, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, RuleEntry{Priority: priority, Rule: rule})
	slices.SortStableFunc(next, func(a, b RuleEntry) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	g.rules.Store(&next)
	return nil
}

func (g *RouteGroup) mustInstall(priority int, rule RouteRule) {
	if err := g.Install(priority, rule); err != nil {
		panic(err)
	}
}

// Uninstall removes the rule at priority, reporting whether one was there.
func (g *RouteGroup) Uninstall(priority int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := *g.rules.Load()
	i := slices.IndexFunc(current, func(e RuleEntry) bool { return e.Priority == priority })
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(current), i, i+1)
	g.rules.Store(&next)
	return true
}

// Rules snapshot in evaluation order
func (g *RouteGroup) Rules() []RuleEntry {
	return slices.Clone(*g.rules.Load())
}

// Route classifies the statement if needed and walks the chain.
func (g *RouteGroup) Route(rc *RouteContext) (RouteResult, error) {
	attr, err := rc.classify()
	if err != nil {
		return RouteResult{}, err
	}
	result := RouteResult{SqlAttribute: attr}
	for _, entry := range *g.rules.Load() {
		node := entry.Rule.Route(rc)
		if node == nil || !node.Available() {
			continue
		}
		hit := entry
		result.HitRule = &hit
		result.HitNode = node
		return result, nil
	}
	return result, nil
}
