package dbrouter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// txStats what a mock node saw
type txStats struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
	readOnly  bool
	stmts     []string
}

func (s *txStats) snapshot() (begins, commits, rollbacks int, stmts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks, append([]string(nil), s.stmts...)
}

// mockConnector a null database/sql driver counting transactions
type mockConnector struct {
	stats *txStats
}

func openMockPool(stats *txStats) *sql.DB {
	return sql.OpenDB(&mockConnector{stats: stats})
}

func (c *mockConnector) Connect(context.Context) (driver.Conn, error) {
	return &mockConn{stats: c.stats}, nil
}

func (c *mockConnector) Driver() driver.Driver {
	return mockDriver{}
}

type mockDriver struct{}

func (mockDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("mock: open through the connector")
}

type mockConn struct {
	stats *txStats
}

func (c *mockConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("mock: prepare not supported")
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	c.stats.begins++
	c.stats.readOnly = opts.ReadOnly
	return &mockTx{stats: c.stats}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.record(query)
	return driver.RowsAffected(1), nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.record(query)
	return &mockRows{}, nil
}

func (c *mockConn) record(query string) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	c.stats.stmts = append(c.stats.stmts, query)
}

type mockTx struct {
	stats *txStats
}

func (t *mockTx) Commit() error {
	t.stats.mu.Lock()
	defer t.stats.mu.Unlock()
	t.stats.commits++
	return nil
}

func (t *mockTx) Rollback() error {
	t.stats.mu.Lock()
	defer t.stats.mu.Unlock()
	t.stats.rollbacks++
	return nil
}

// mockRows an empty result set
type mockRows struct{}

func (*mockRows) Columns() []string              { return []string{"id", "name"} }
func (*mockRows) Close() error                   { return nil }
func (*mockRows) Next(dest []driver.Value) error { return io.EOF }
