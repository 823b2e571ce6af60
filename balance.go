package dbrouter

import (
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const (
	WeightedRandom   = "weighted_random"
	SmoothRoundRobin = "round_robin"
)

// LoadBalancer Data Source Selection Policy
//
// Implementations are safe for concurrent use: options are added and
// removed by management operations while routing goroutines call Choose.
type LoadBalancer interface {
	AddOption(node *NodeAttribute)
	RemoveOption(node *NodeAttribute)
	Options() []*NodeAttribute
	// Choose returns nil when no option is available.
	Choose() *NodeAttribute
}

var newBalancerFuncMap = map[string]func() LoadBalancer{
	WeightedRandom:       func() LoadBalancer { return NewWeightedRandomBalancer() },
	"random":             func() LoadBalancer { return NewWeightedRandomBalancer() },
	SmoothRoundRobin:     func() LoadBalancer { return NewSmoothRoundRobinBalancer() },
	"smooth_round_robin": func() LoadBalancer { return NewSmoothRoundRobinBalancer() },
}

// NewLoadBalancer builds a balancer by algorithm name, empty means weighted random.
func NewLoadBalancer(algorithm string) (LoadBalancer, error) {
	name := strings.ToLower(strings.TrimSpace(algorithm))
	if name == "" {
		name = WeightedRandom
	}
	fn, ok := newBalancerFuncMap[name]
	if !ok {
		return nil, errors.Errorf("unknown load balance algorithm %q", algorithm)
	}
	return fn(), nil
}

// nodePool is the option set shared by both algorithms, unique by node name.
type nodePool struct {
	mu    sync.RWMutex
	nodes []*NodeAttribute
}

func (p *nodePool) AddOption(node *NodeAttribute) {
	if node == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, n := range p.nodes {
		if n.Name() == node.Name() {
			p.nodes[i] = node
			return
		}
	}
	p.nodes = append(p.nodes, node)
}

func (p *nodePool) RemoveOption(node *NodeAttribute) {
	if node == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := make([]*NodeAttribute, 0, len(p.nodes))
	for _, n := range p.nodes {
		if n.Name() != node.Name() {
			kept = append(kept, n)
		}
	}
	p.nodes = kept
}

func (p *nodePool) Options() []*NodeAttribute {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*NodeAttribute(nil), p.nodes...)
}

func (p *nodePool) available() []*NodeAttribute {
	p.mu.RLock()
	defer p.mu.RUnlock()
	candidates := make([]*NodeAttribute, 0, len(p.nodes))
	for _, n := range p.nodes {
		if n.Available() {
			candidates = append(candidates, n)
		}
	}
	return candidates
}

// WeightedRandomBalancer 加权随机
type WeightedRandomBalancer struct {
	nodePool
	rnd func() float64
}

func NewWeightedRandomBalancer() *WeightedRandomBalancer {
	return &WeightedRandomBalancer{rnd: rand.Float64}
}

func (b *WeightedRandomBalancer) Choose() *NodeAttribute {
	candidates := b.available()
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	total := 0.0
	for _, n := range candidates {
		total += n.Weight()
	}
	if total <= 0 {
		// every candidate weighs 0
		return nil
	}

	r := b.rnd() * total
	acc := 0.0
	for _, n := range candidates {
		w := n.Weight()
		acc += w
		if w > 0 && acc >= r {
			return n
		}
	}
	// float rounding may leave r a hair above the final sum
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].Weight() > 0 {
			return candidates[i]
		}
	}
	return nil
}

// SmoothRoundRobinBalancer interleaved weighted round robin in the nginx/LVS style.
//
// maxWeight and gcdWeight are folded across calls rather than recomputed
// from the current candidates, so a heavy node that leaves the pool keeps
// its weight in maxWeight and the cursor spins through extra empty rounds.
type SmoothRoundRobinBalancer struct {
	nodePool

	cursorMu      sync.Mutex
	currentIndex  int
	currentWeight int64
	maxWeight     int64
	gcdWeight     int64
}

func NewSmoothRoundRobinBalancer() *SmoothRoundRobinBalancer {
	return &SmoothRoundRobinBalancer{currentIndex: -1}
}

func (b *SmoothRoundRobinBalancer) Choose() *NodeAttribute {
	candidates := b.available()
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	b.cursorMu.Lock()
	defer b.cursorMu.Unlock()

	var heaviest int64
	weights := make([]int64, len(candidates))
	for i, n := range candidates {
		w := intWeight(n)
		weights[i] = w
		if w > b.maxWeight {
			b.maxWeight = w
		}
		b.gcdWeight = gcd(b.gcdWeight, w)
		if w > heaviest {
			heaviest = w
		}
	}
	if heaviest == 0 {
		// the cursor would never find a node
		return nil
	}

	size := len(candidates)
	for {
		b.currentIndex = (b.currentIndex + 1) % size
		if b.currentIndex == 0 {
			b.currentWeight -= b.gcdWeight
			if b.currentWeight <= 0 {
				b.currentWeight = b.maxWeight
				if b.currentWeight == 0 {
					return nil
				}
			}
		}
		if weights[b.currentIndex] >= b.currentWeight {
			return candidates[b.currentIndex]
		}
	}
}

// weightScale fixed point used by round robin, weights keep three decimals
const weightScale = 1000

func intWeight(n *NodeAttribute) int64 {
	w := n.Weight()
	if w <= 0 {
		return 0
	}
	if iw := int64(math.Round(w * weightScale)); iw > 0 {
		return iw
	}
	return 1
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
