package dbrouter

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	pluginName    = "gorm:db_router"
	routeInfoName = "gorm:db_router:route_info"
)

// DBRouter gorm plugin routing every statement through a Router and
// switching the statement's ConnPool to the pool of the chosen node.
type DBRouter struct {
	*gorm.DB
	router *Router
	trace  bool

	// physical transactions of routed transactions, by transaction id
	txMu sync.Mutex
	txs  map[string]*sql.Tx
}

// Register creates the plugin; pass it to db.Use.
func Register(router *Router) *DBRouter {
	return &DBRouter{router: router, trace: router.trace, txs: map[string]*sql.Tx{}}
}

func (dr *DBRouter) Name() string {
	return pluginName
}

func (dr *DBRouter) Initialize(db *gorm.DB) error {
	if dr.router == nil {
		return errors.New("dbrouter: plugin without router")
	}
	dr.DB = db
	dr.registerCallbacks(db)
	if dr.trace {
		dr.Logger = NewRouteTraceLogger(dr.Logger)
	}
	return nil
}

func (dr *DBRouter) Router() *Router {
	return dr.router
}

// RouteInfoFrom the routing decision of the last statement run on db, nil
// when the statement was not routed.
func RouteInfoFrom(db *gorm.DB) *RouteInfo {
	if db == nil || db.Statement == nil {
		return nil
	}
	v, ok := db.Statement.Settings.Load(routeInfoName)
	if !ok {
		return nil
	}
	info, _ := v.(*RouteInfo)
	return info
}

// RoutedTransaction runs fc with every statement pinned to the node the first
// statement routes to. The first statement also opens a database
// transaction on that node, committed when fc returns nil.
func (dr *DBRouter) RoutedTransaction(ctx context.Context, name string, readOnly bool, fc func(tx *gorm.DB) error) (err error) {
	tx := NewTransaction(name, readOnly)
	ctx = WithTransaction(ctx, tx)

	panicked := true
	defer func() {
		if panicked || err != nil {
			tx.Rollback()
			if sqlTx := dr.takeTx(tx.ID()); sqlTx != nil {
				_ = sqlTx.Rollback()
			}
		}
	}()

	err = fc(dr.DB.WithContext(ctx))
	panicked = false
	if err != nil {
		return err
	}

	tx.Commit()
	if sqlTx := dr.takeTx(tx.ID()); sqlTx != nil {
		if err = sqlTx.Commit(); err != nil {
			return errors.Wrapf(err, "commit transaction %s", tx.ID())
		}
	}
	return nil
}

// txPool the database transaction of a routed transaction, begun on ds at
// its first statement.
func (dr *DBRouter) txPool(ctx context.Context, info *RouteInfo, ds *DataSource) (gorm.ConnPool, error) {
	dr.txMu.Lock()
	defer dr.txMu.Unlock()
	if sqlTx, ok := dr.txs[info.TransactionID]; ok {
		return sqlTx, nil
	}
	beginner, ok := unwrapPool(ds.Pool).(gorm.TxBeginner)
	if !ok {
		return ds.Pool, nil
	}
	readOnly := false
	if tx := TransactionFrom(ctx); tx != nil {
		readOnly = tx.IsReadOnly()
	}
	sqlTx, err := beginner.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "begin transaction on %s", ds.Name)
	}
	dr.txs[info.TransactionID] = sqlTx
	return sqlTx, nil
}

func (dr *DBRouter) takeTx(id string) *sql.Tx {
	dr.txMu.Lock()
	defer dr.txMu.Unlock()
	sqlTx := dr.txs[id]
	delete(dr.txs, id)
	return sqlTx
}
