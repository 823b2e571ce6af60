package dbrouter

import (
	"gorm.io/gorm"
	"gorm/dbrouter/expand"
)

func (dr *DBRouter) registerCallbacks(db *gorm.DB) {
	dr.Callback().Create().Before("*").Register(pluginName, dr.switchPool)
	dr.Callback().Query().Before("*").Register(pluginName, dr.switchPool)
	dr.Callback().Update().Before("*").Register(pluginName, dr.switchPool)
	dr.Callback().Delete().Before("*").Register(pluginName, dr.switchPool)
	dr.Callback().Row().Before("*").Register(pluginName, dr.switchPool)
	dr.Callback().Raw().Before("*").Register(pluginName, dr.switchPool)
}

// switchPool routes the statement and swaps in the pool of the chosen node.
// Statements of a transaction begun through gorm stay where they are.
func (dr *DBRouter) switchPool(db *gorm.DB) {
	stmt := db.Statement
	if db.Error != nil || isTransaction(stmt.ConnPool) {
		return
	}

	rawSql := expand.PreBuildSql(db)
	if rawSql == "" {
		return
	}
	key := RoutingKey{
		Sql:     db.Dialector.Explain(rawSql, stmt.Vars...),
		Cluster: clusterOf(stmt),
	}
	info, err := dr.router.Route(stmt.Context, key)
	if err != nil {
		db.AddError(err)
		return
	}
	ds, err := dr.router.DataSourceOf(info)
	if err != nil {
		db.AddError(err)
		return
	}

	// the hint comment is ours, the server must not see it
	if info.SqlAttribute != nil && len(info.SqlAttribute.Hint) > 0 {
		if _, nativeSql, err := ParseHint(rawSql); err == nil {
			stmt.SQL.Reset()
			stmt.SQL.WriteString(nativeSql)
		}
	}

	pool := ds.Pool
	if info.TransactionActive && !stmt.DryRun {
		if pool, err = dr.txPool(stmt.Context, info, ds); err != nil {
			db.AddError(err)
			return
		}
	}
	stmt.ConnPool = pool
	stmt.Settings.Store(routeInfoName, info)
	markStmtRoute(stmt, info)
}

func isTransaction(connPool gorm.ConnPool) bool {
	_, ok := connPool.(gorm.TxCommitter)
	return ok
}
