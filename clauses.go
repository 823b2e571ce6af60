package dbrouter

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const useClusterName = "gorm:db_router:use_cluster"

// UseCluster routes the statement inside the named cluster
//
//	db.Clauses(dbrouter.UseCluster("orders")).Find(&orders)
func UseCluster(name string) clause.Expression {
	return useCluster{Name: name}
}

type useCluster struct {
	Name string
}

// ModifyStatement records the cluster for the routing callback
func (u useCluster) ModifyStatement(stmt *gorm.Statement) {
	stmt.Clauses[useClusterName] = clause.Clause{Expression: u}
}

// Build implements clause.Expression interface
func (u useCluster) Build(clause.Builder) {
}

func clusterOf(stmt *gorm.Statement) string {
	if u, ok := stmt.Clauses[useClusterName].Expression.(useCluster); ok {
		return u.Name
	}
	return ""
}

// ForceNodes sends the statement to the first available of nodes. With
// propagation the override also holds in scopes entered from the statement
// context.
func ForceNodes(propagation bool, nodes ...string) clause.Expression {
	return forceNodes{Nodes: nodes, Propagation: propagation}
}

type forceNodes struct {
	Nodes       []string
	Propagation bool
}

func (f forceNodes) ModifyStatement(stmt *gorm.Statement) {
	stmt.Context = WithForceRouting(stmt.Context, clusterOf(stmt), f.Nodes, f.Propagation)
}

func (f forceNodes) Build(clause.Builder) {
}
