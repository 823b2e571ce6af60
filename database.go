package dbrouter

import (
	"time"

	"gorm.io/gorm"
)

// PoolSettings connection pool limits of one datasource, zero keeps the
// driver default.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Apply sets the limits on pools that support them.
func (s PoolSettings) Apply(connPool gorm.ConnPool) {
	connPool = unwrapPool(connPool)
	if s.MaxOpenConns != 0 {
		if conn, ok := connPool.(interface{ SetMaxOpenConns(int) }); ok {
			conn.SetMaxOpenConns(s.MaxOpenConns)
		}
	}
	if s.MaxIdleConns != 0 {
		if conn, ok := connPool.(interface{ SetMaxIdleConns(int) }); ok {
			conn.SetMaxIdleConns(s.MaxIdleConns)
		}
	}
	if s.ConnMaxLifetime != 0 {
		if conn, ok := connPool.(interface{ SetConnMaxLifetime(time.Duration) }); ok {
			conn.SetConnMaxLifetime(s.ConnMaxLifetime)
		}
	}
	if s.ConnMaxIdleTime != 0 {
		if conn, ok := connPool.(interface{ SetConnMaxIdleTime(time.Duration) }); ok {
			conn.SetConnMaxIdleTime(s.ConnMaxIdleTime)
		}
	}
}

// PoolOf the connection pool of an opened gorm db, without the prepared
// statement wrapper.
func PoolOf(db *gorm.DB) gorm.ConnPool {
	return unwrapPool(db.Config.ConnPool)
}

func unwrapPool(connPool gorm.ConnPool) gorm.ConnPool {
	if preparedStmtDB, ok := connPool.(*gorm.PreparedStmtDB); ok {
		return preparedStmtDB.ConnPool
	}
	return connPool
}
