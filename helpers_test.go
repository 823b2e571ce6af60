package dbrouter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm/logger"
)

// recordLogger keeps formatted messages per level.
type recordLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
	errs  []string
}

func (l *recordLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l *recordLogger) Info(_ context.Context, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(msg, args...))
}

func (l *recordLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(msg, args...))
}

func (l *recordLogger) Error(_ context.Context, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, fmt.Sprintf(msg, args...))
}

func (l *recordLogger) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, sql)
}

func (l *recordLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func (l *recordLogger) traces() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.infos...)
}

// fakePool a gorm.ConnPool that only remembers which pool it is.
type fakePool struct {
	name    string
	queryFn func(query string) error
}

func (p *fakePool) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, fmt.Errorf("%s: prepare not supported", p.name)
}

func (p *fakePool) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, fmt.Errorf("%s: exec not supported", p.name)
}

func (p *fakePool) QueryContext(_ context.Context, query string, _ ...interface{}) (*sql.Rows, error) {
	if p.queryFn != nil {
		if err := p.queryFn(query); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: query not supported", p.name)
}

func (p *fakePool) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

// topology builds the datasource registry and a router over
//
//	write_1 (WRITE), read_1 (READ), read_2 (READ)
//
// grouped in the default cluster "main".
func topology(opts ...Option) (*Router, map[string]*DataSource) {
	sources := NewDataSourceManager()
	byName := map[string]*DataSource{}
	for _, n := range []struct {
		name     string
		nodeType NodeType
	}{
		{"write_1", NodeTypeWrite},
		{"read_1", NodeTypeRead},
		{"read_2", NodeTypeRead},
	} {
		ds := &DataSource{
			Pool: &fakePool{name: n.name},
			Node: NewNodeAttribute(n.name, n.nodeType, 1),
		}
		if err := sources.Add(ds); err != nil {
			panic(err)
		}
		byName[n.name] = ds
	}

	main := NewCluster("main", nil, nil, AsDefault())
	for _, ds := range byName {
		if err := main.AddNode(ds.Node); err != nil {
			panic(err)
		}
	}
	clusters := NewClusterManager()
	if err := clusters.Add(main); err != nil {
		panic(err)
	}
	return NewRouter(clusters, sources, opts...), byName
}
