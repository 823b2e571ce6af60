package dbrouter

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type routeInfoKey struct{}

type routeTraceLogger struct {
	logger.Interface
}

// Trace prefixes the statement with the cluster and node it was routed to.
func (l routeTraceLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	var splitFn = func() (sql string, rowsAffected int64) {
		sql, rowsAffected = fc()
		if info, ok := ctx.Value(routeInfoKey{}).(*RouteInfo); ok && info != nil {
			cluster := info.Cluster
			if cluster == "" {
				cluster = "-"
			}
			sql = fmt.Sprintf("[%s/%s] %s", cluster, info.NodeName(), sql)
		}

		// statements of gorm transactions are not routed and stay unmarked
		return
	}
	l.Interface.Trace(ctx, begin, splitFn, err)
}

func (l routeTraceLogger) LogMode(level logger.LogLevel) logger.Interface {
	return routeTraceLogger{Interface: l.Interface.LogMode(level)}
}

func NewRouteTraceLogger(l logger.Interface) logger.Interface {
	if _, ok := l.(routeTraceLogger); ok {
		return l
	}
	return routeTraceLogger{
		Interface: l,
	}
}

func markStmtRoute(stmt *gorm.Statement, info *RouteInfo) {
	if _, ok := stmt.Logger.(routeTraceLogger); ok {
		stmt.Context = context.WithValue(stmt.Context, routeInfoKey{}, info)
	}
}
