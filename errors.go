package dbrouter

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrRoutingFailure no group produced an available node; the statement must not run
	ErrRoutingFailure = errors.New("dbrouter: no available node for statement")

	ErrClusterNotFound    = errors.New("dbrouter: cluster not found")
	ErrNodeNotFound       = errors.New("dbrouter: node not found")
	ErrDataSourceNotFound = errors.New("dbrouter: datasource not found")

	ErrDuplicateCluster    = errors.New("dbrouter: cluster already registered")
	ErrDuplicateNode       = errors.New("dbrouter: node already in cluster")
	ErrDuplicateDataSource = errors.New("dbrouter: datasource already registered")
	ErrDuplicateDefault    = errors.New("dbrouter: a default is already registered")
	ErrDuplicatePriority   = errors.New("dbrouter: rule priority already installed")

	ErrInvalidWeight = errors.New("dbrouter: weight must be a finite number >= 0")

	ErrHintParse         = errors.New("dbrouter: malformed routing hint")
	ErrSqlClassification = errors.New("dbrouter: sql classification failed")
)

// RoutingError is returned by Router.Route when no node could be chosen.
type RoutingError struct {
	Sql     string
	Cluster string
	Err     error
}

func (e *RoutingError) Error() string {
	target := e.Cluster
	if target == "" {
		target = "<datasources>"
	}
	if e.Err != nil && !errors.Is(e.Err, ErrRoutingFailure) {
		return fmt.Sprintf("dbrouter: routing %q on %s: %v", e.Sql, target, e.Err)
	}
	return fmt.Sprintf("dbrouter: no available node for %q on %s", e.Sql, target)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// Is lets every RoutingError match ErrRoutingFailure.
func (e *RoutingError) Is(target error) bool {
	return target == ErrRoutingFailure
}

// ManagementError reports a rejected administrative operation. State is left unchanged.
type ManagementError struct {
	Op   string
	Name string
	Err  error
}

func (e *ManagementError) Error() string {
	return fmt.Sprintf("dbrouter: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ManagementError) Unwrap() error {
	return e.Err
}

func managementError(op, name string, err error) error {
	return &ManagementError{Op: op, Name: name, Err: err}
}

// HintParseError points at the offending key=value pair of a routing comment.
type HintParseError struct {
	Sql  string
	Pair string
	Msg  string
}

func (e *HintParseError) Error() string {
	if e.Pair == "" {
		return fmt.Sprintf("dbrouter: routing hint: %s", e.Msg)
	}
	return fmt.Sprintf("dbrouter: routing hint pair %q: %s", e.Pair, e.Msg)
}

func (e *HintParseError) Is(target error) bool {
	return target == ErrHintParse
}
