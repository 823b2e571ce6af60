package dbrouter

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// DataSource a node together with the pool that executes its statements.
type DataSource struct {
	Name    string
	Pool    gorm.ConnPool
	Node    *NodeAttribute
	Default bool

	HeartbeatSql      string
	HeartbeatInterval time.Duration
}

// DataSourceManager registry of datasources by name, at most one default.
type DataSourceManager struct {
	mu          sync.RWMutex
	sources     map[string]*DataSource
	defaultName string
}

func NewDataSourceManager() *DataSourceManager {
	return &DataSourceManager{sources: map[string]*DataSource{}}
}

func (m *DataSourceManager) Add(ds *DataSource) error {
	if ds == nil || ds.Node == nil {
		return errors.New("dbrouter: datasource without node")
	}
	if ds.Name == "" {
		ds.Name = ds.Node.Name()
	}
	if ds.Name != ds.Node.Name() {
		return managementError("add datasource", ds.Name, errors.Errorf("node is named %q", ds.Node.Name()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[ds.Name]; ok {
		return managementError("add datasource", ds.Name, ErrDuplicateDataSource)
	}
	if ds.Default && m.defaultName != "" {
		return managementError("add datasource", ds.Name, errors.Wrapf(ErrDuplicateDefault, "default is %s", m.defaultName))
	}
	m.sources[ds.Name] = ds
	if ds.Default {
		m.defaultName = ds.Name
	}
	return nil
}

func (m *DataSourceManager) Remove(name string) (*DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sources[name]
	if !ok {
		return nil, managementError("remove datasource", name, ErrDataSourceNotFound)
	}
	delete(m.sources, name)
	if m.defaultName == name {
		m.defaultName = ""
	}
	return ds, nil
}

func (m *DataSourceManager) Get(name string) (*DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.sources[name]
	if !ok {
		return nil, errors.Wrap(ErrDataSourceNotFound, name)
	}
	return ds, nil
}

// Node the attribute of a registered datasource
func (m *DataSourceManager) Node(name string) (*NodeAttribute, error) {
	ds, err := m.Get(name)
	if err != nil {
		return nil, errors.Wrap(ErrNodeNotFound, name)
	}
	return ds.Node, nil
}

func (m *DataSourceManager) Default() (*DataSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.sources[m.defaultName]
	return ds, ok
}

// Single the only datasource, when exactly one is registered
func (m *DataSourceManager) Single() (*DataSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sources) != 1 {
		return nil, false
	}
	for _, ds := range m.sources {
		return ds, true
	}
	return nil, false
}

func (m *DataSourceManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

// All snapshot sorted by name
func (m *DataSourceManager) All() []*DataSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DataSource, 0, len(m.sources))
	for _, ds := range m.sources {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
