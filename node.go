package dbrouter

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// NodeType 节点读写类型
type NodeType int

const (
	NodeTypeRead NodeType = iota
	NodeTypeWrite
	NodeTypeReadWrite
	// NodeTypeIndependent a standalone node serving both reads and writes
	NodeTypeIndependent
)

func (t NodeType) CanRead() bool {
	return t != NodeTypeWrite
}

func (t NodeType) CanWrite() bool {
	return t != NodeTypeRead
}

func (t NodeType) String() string {
	switch t {
	case NodeTypeRead:
		return "READ"
	case NodeTypeWrite:
		return "WRITE"
	case NodeTypeReadWrite:
		return "READ_WRITE"
	case NodeTypeIndependent:
		return "INDEPENDENT"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// ParseNodeType accepts READ, WRITE, READ_WRITE and INDEPENDENT in any case.
func ParseNodeType(s string) (NodeType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ":
		return NodeTypeRead, nil
	case "WRITE":
		return NodeTypeWrite, nil
	case "READ_WRITE", "READWRITE":
		return NodeTypeReadWrite, nil
	case "INDEPENDENT", "":
		return NodeTypeIndependent, nil
	}
	return 0, errors.Errorf("unknown node type %q", s)
}

// NodeState 节点健康状态
type NodeState int32

const (
	NodeStateUnknown NodeState = iota
	NodeStateUp
	NodeStateDown
	NodeStateOutOfService
)

// Available reports whether a node in this state may receive statements.
func (s NodeState) Available() bool {
	return s == NodeStateUp || s == NodeStateUnknown
}

func (s NodeState) String() string {
	switch s {
	case NodeStateUnknown:
		return "UNKNOWN"
	case NodeStateUp:
		return "UP"
	case NodeStateDown:
		return "DOWN"
	case NodeStateOutOfService:
		return "OUT_OF_SERVICE"
	}
	return fmt.Sprintf("NodeState(%d)", int32(s))
}

func ParseNodeState(s string) (NodeState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNKNOWN":
		return NodeStateUnknown, nil
	case "UP":
		return NodeStateUp, nil
	case "DOWN":
		return NodeStateDown, nil
	case "OUT_OF_SERVICE":
		return NodeStateOutOfService, nil
	}
	return 0, errors.Errorf("unknown node state %q", s)
}

// NodeAttribute describes one physical database endpoint.
//
// Weight and state are read on every routing call and written by the
// heartbeat and management operations, so both live in atomics.
type NodeAttribute struct {
	name     string
	nodeType NodeType
	weight   atomic.Uint64
	state    atomic.Int32

	// DatabaseProduct e.g. "mysql", "postgres"
	DatabaseProduct string
	// Endpoint connection descriptor, informational only
	Endpoint string
}

func NewNodeAttribute(name string, nodeType NodeType, weight float64) *NodeAttribute {
	n := &NodeAttribute{name: name, nodeType: nodeType}
	if weight < 0 {
		weight = 0
	}
	n.weight.Store(math.Float64bits(weight))
	n.state.Store(int32(NodeStateUnknown))
	return n
}

func (n *NodeAttribute) Name() string {
	return n.name
}

func (n *NodeAttribute) Type() NodeType {
	return n.nodeType
}

func (n *NodeAttribute) Weight() float64 {
	return math.Float64frombits(n.weight.Load())
}

func (n *NodeAttribute) SetWeight(weight float64) error {
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return errors.Wrapf(ErrInvalidWeight, "weight %v", weight)
	}
	n.weight.Store(math.Float64bits(weight))
	return nil
}

func (n *NodeAttribute) State() NodeState {
	return NodeState(n.state.Load())
}

func (n *NodeAttribute) SetState(state NodeState) {
	n.state.Store(int32(state))
}

// Available state == UP || state == UNKNOWN
func (n *NodeAttribute) Available() bool {
	return n != nil && n.State().Available()
}

func (n *NodeAttribute) String() string {
	return fmt.Sprintf("%s(%s,%s,w=%g)", n.name, n.nodeType, n.State(), n.Weight())
}
