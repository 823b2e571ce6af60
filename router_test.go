package dbrouter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterReadWriteSplit(t *testing.T) {
	router, _ := topology()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		info, err := router.Route(ctx, RoutingKey{Sql: "update users set name = 'x' where id = 1"})
		require.NoError(t, err)
		assert.Equal(t, "write_1", info.NodeName())
		assert.Equal(t, "main", info.Cluster)
		assert.Equal(t, PriorityReadWriteSplit, info.HitPriority)
	}

	reads := map[string]int{}
	for i := 0; i < 200; i++ {
		info, err := router.Route(ctx, RoutingKey{Sql: "select * from users"})
		require.NoError(t, err)
		reads[info.NodeName()]++
	}
	assert.Zero(t, reads["write_1"])
	assert.NotZero(t, reads["read_1"])
	assert.NotZero(t, reads["read_2"])
}

func TestRouterReadFallsBackToWriter(t *testing.T) {
	router, sources := topology()
	sources["read_1"].Node.SetState(NodeStateDown)
	sources["read_2"].Node.SetState(NodeStateOutOfService)

	info, err := router.Route(context.Background(), RoutingKey{Sql: "select * from users"})
	require.NoError(t, err)
	assert.Equal(t, "write_1", info.NodeName())
	assert.Equal(t, PriorityRouteWritable, info.HitPriority)
}

func TestRouterNoAvailableNode(t *testing.T) {
	router, sources := topology()
	for _, ds := range sources {
		ds.Node.SetState(NodeStateDown)
	}
	_, err := router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoutingFailure))
}

func TestRouterNullAttribute(t *testing.T) {
	router, _ := topology()
	info, err := router.Route(context.Background(), RoutingKey{})
	require.NoError(t, err)
	assert.Equal(t, "write_1", info.NodeName())
	assert.Nil(t, info.SqlAttribute)
	assert.Equal(t, PriorityNullAttribute, info.HitPriority)
}

func TestRouterTransactionStickiness(t *testing.T) {
	router, _ := topology()
	tx := NewTransaction("checkout", false)
	ctx := WithTransaction(context.Background(), tx)

	info, err := router.Route(ctx, RoutingKey{Sql: "insert into orders(id) values (1)"})
	require.NoError(t, err)
	assert.Equal(t, "write_1", info.NodeName())
	assert.True(t, info.TransactionActive)
	assert.Equal(t, tx.ID(), info.TransactionID)
	assert.Equal(t, "checkout", info.TransactionName)

	for i := 0; i < 20; i++ {
		info, err = router.Route(ctx, RoutingKey{Sql: "select * from orders"})
		require.NoError(t, err)
		assert.Equal(t, "write_1", info.NodeName(), "reads stay on the transaction's node")
		assert.Equal(t, PriorityTransaction, info.HitPriority)
	}
	assert.Len(t, tx.Statements(), 21)

	tx.Commit()
	info, err = router.Route(ctx, RoutingKey{Sql: "select * from orders"})
	require.NoError(t, err)
	assert.NotEqual(t, "write_1", info.NodeName(), "an ended transaction no longer pins")
	assert.False(t, info.TransactionActive)
}

func TestRouterTransactionStartedByRead(t *testing.T) {
	router, _ := topology()
	tx := NewTransaction("report", true)
	ctx := WithTransaction(context.Background(), tx)

	first, err := router.Route(ctx, RoutingKey{Sql: "select * from orders"})
	require.NoError(t, err)
	require.NotNil(t, tx.CurrentNode())
	assert.Equal(t, first.NodeName(), tx.CurrentNode().Name())

	for i := 0; i < 10; i++ {
		info, err := router.Route(ctx, RoutingKey{Sql: "select * from users"})
		require.NoError(t, err)
		assert.Equal(t, first.NodeName(), info.NodeName())
	}
}

func TestRouterForceRouting(t *testing.T) {
	router, _ := topology()
	ctx := context.Background()

	t.Run("read forced to writer", func(t *testing.T) {
		forced := WithForceRouting(ctx, "", []string{"write_1"}, false)
		info, err := router.Route(forced, RoutingKey{Sql: "select * from users"})
		require.NoError(t, err)
		assert.Equal(t, "write_1", info.NodeName())
		assert.Equal(t, PriorityForce, info.HitPriority)
	})

	t.Run("propagation true reaches nested calls", func(t *testing.T) {
		forced := WithForceRouting(ctx, "", []string{"write_1"}, true)
		info, err := router.Route(EnterScope(forced), RoutingKey{Sql: "select * from users"})
		require.NoError(t, err)
		assert.Equal(t, "write_1", info.NodeName())
	})

	t.Run("propagation false stops at the scope", func(t *testing.T) {
		forced := WithForceRouting(ctx, "", []string{"write_1"}, false)
		for i := 0; i < 20; i++ {
			info, err := router.Route(EnterScope(forced), RoutingKey{Sql: "select * from users"})
			require.NoError(t, err)
			assert.NotEqual(t, "write_1", info.NodeName())
		}
	})

	t.Run("first available node wins", func(t *testing.T) {
		router, sources := topology()
		sources["read_1"].Node.SetState(NodeStateDown)
		forced := WithForceRouting(ctx, "", []string{"read_1", "read_2"}, false)
		info, err := router.Route(forced, RoutingKey{Sql: "update users set a = 1"})
		require.NoError(t, err)
		assert.Equal(t, "read_2", info.NodeName())
	})

	t.Run("other cluster is ignored", func(t *testing.T) {
		forced := WithForceRouting(ctx, "archive", []string{"write_1"}, false)
		_, err := router.Route(forced, RoutingKey{Sql: "select * from users", Cluster: "main"})
		require.NoError(t, err)
	})

	t.Run("force beats transaction", func(t *testing.T) {
		tx := NewTransaction("t", false)
		txCtx := WithTransaction(ctx, tx)
		_, err := router.Route(txCtx, RoutingKey{Sql: "select * from users"})
		require.NoError(t, err)
		bound := tx.CurrentNode().Name()
		other := "write_1"
		if bound == other {
			other = "read_1"
		}
		info, err := router.Route(WithForceRouting(txCtx, "", []string{other}, false), RoutingKey{Sql: "select * from users"})
		require.NoError(t, err)
		assert.Equal(t, other, info.NodeName())
		assert.Equal(t, bound, tx.CurrentNode().Name())
	})
}

func TestRouterHint(t *testing.T) {
	router, sources := topology()
	ctx := context.Background()

	info, err := router.Route(ctx, RoutingKey{Sql: "/*!nodeName=read_2;*/ update users set a = 1"})
	require.NoError(t, err)
	assert.Equal(t, "read_2", info.NodeName())
	assert.Equal(t, PriorityHint, info.HitPriority)
	assert.Equal(t, "update users set a = 1", info.SqlAttribute.NativeSql)

	sources["read_2"].Node.SetState(NodeStateDown)
	info, err = router.Route(ctx, RoutingKey{Sql: "/*!nodeName=read_2;*/ update users set a = 1"})
	require.NoError(t, err)
	assert.Equal(t, "write_1", info.NodeName(), "a hint to a down node falls through")

	info, err = router.Route(ctx, RoutingKey{Sql: "/*!nodeName=nowhere;*/ select 1"})
	require.NoError(t, err)
	assert.NotEqual(t, PriorityHint, info.HitPriority)

	_, err = router.Route(ctx, RoutingKey{Sql: "/*!nodeName;*/ select 1"})
	assert.True(t, errors.Is(err, ErrHintParse))
	assert.True(t, errors.Is(err, ErrRoutingFailure))
}

func TestRouterClusterSelection(t *testing.T) {
	router, sources := topology()
	archive := NewCluster("archive", nil, nil)
	require.NoError(t, archive.AddNode(sources["read_2"].Node))
	require.NoError(t, router.AddCluster(archive))
	ctx := context.Background()

	info, err := router.Route(ctx, RoutingKey{Sql: "select 1", Cluster: "archive"})
	require.NoError(t, err)
	assert.Equal(t, "archive", info.Cluster)
	assert.Equal(t, "read_2", info.NodeName())

	info, err = router.Route(ctx, RoutingKey{Sql: "/*!clusterName=archive;*/ select 1"})
	require.NoError(t, err)
	assert.Equal(t, "archive", info.Cluster)
	assert.Equal(t, "read_2", info.NodeName())

	_, err = router.Route(ctx, RoutingKey{Sql: "update t set a = 1", Cluster: "archive"})
	assert.True(t, errors.Is(err, ErrRoutingFailure), "archive has no writer")

	info, err = router.Route(WithForceRouting(ctx, "archive", nil, false), RoutingKey{Sql: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "archive", info.Cluster)

	_, err = router.Route(ctx, RoutingKey{Sql: "select 1", Cluster: "nope"})
	assert.True(t, errors.Is(err, ErrClusterNotFound))
	assert.True(t, errors.Is(err, ErrRoutingFailure))
}

func TestRouterWithoutClusters(t *testing.T) {
	sources := NewDataSourceManager()
	only := &DataSource{Pool: &fakePool{name: "only"}, Node: NewNodeAttribute("only", NodeTypeIndependent, 1)}
	require.NoError(t, sources.Add(only))
	router := NewRouter(nil, sources)

	info, err := router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "only", info.NodeName())
	assert.Equal(t, PrioritySingleSource, info.HitPriority)
	assert.Empty(t, info.Cluster)

	other := &DataSource{Pool: &fakePool{name: "other"}, Node: NewNodeAttribute("other", NodeTypeIndependent, 1), Default: true}
	require.NoError(t, router.AddDataSource(other))
	info, err = router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "other", info.NodeName())
	assert.Equal(t, PriorityDefaultSource, info.HitPriority)

	ds, err := router.DataSourceOf(info)
	require.NoError(t, err)
	assert.Same(t, other, ds)

	_, err = router.RemoveDataSource("other")
	require.NoError(t, err)
	require.NoError(t, router.AddDataSource(&DataSource{Pool: &fakePool{}, Node: NewNodeAttribute("third", NodeTypeIndependent, 1)}))
	_, err = router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	assert.True(t, errors.Is(err, ErrRoutingFailure), "two datasources and no default")
}

func TestRouterDefaultDatabase(t *testing.T) {
	router, _ := topology(WithDefaultDatabase("shop"))
	info, err := router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, "shop", info.SqlAttribute.DefaultDatabase)
}

func TestRouterTrace(t *testing.T) {
	log := &recordLogger{}
	router, _ := topology(WithLogger(log), WithTrace(true))
	_, err := router.Route(context.Background(), RoutingKey{Sql: "update t set a = 1"})
	require.NoError(t, err)
	require.Len(t, log.traces(), 1)
	assert.Contains(t, log.traces()[0], "main/write_1")
}

func TestRouterListener(t *testing.T) {
	l := &recordListener{}
	router, _ := topology(WithListener(l))
	_, err := router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, 1, l.before)
	assert.Len(t, l.after, 1)
}

func TestRouterManagement(t *testing.T) {
	router, sources := topology()

	t.Run("duplicate cluster", func(t *testing.T) {
		c := NewCluster("main", nil, nil)
		require.NoError(t, c.AddNode(sources["read_1"].Node))
		err := router.AddCluster(c)
		assert.True(t, errors.Is(err, ErrDuplicateCluster))
		var me *ManagementError
		assert.True(t, errors.As(err, &me))
	})

	t.Run("second default", func(t *testing.T) {
		c := NewCluster("other", nil, nil, AsDefault())
		require.NoError(t, c.AddNode(sources["read_1"].Node))
		assert.True(t, errors.Is(router.AddCluster(c), ErrDuplicateDefault))
	})

	t.Run("empty cluster", func(t *testing.T) {
		assert.True(t, errors.Is(router.AddCluster(NewCluster("empty", nil, nil)), ErrEmptyCluster))
	})

	t.Run("unknown names", func(t *testing.T) {
		assert.True(t, errors.Is(router.RemoveCluster("nope"), ErrClusterNotFound))
		assert.True(t, errors.Is(router.AddNodeToCluster("main", "nope"), ErrNodeNotFound))
		assert.True(t, errors.Is(router.AddNodeToCluster("nope", "read_1"), ErrClusterNotFound))
		assert.True(t, errors.Is(router.RemoveNodeFromCluster("main", "nope"), ErrNodeNotFound))
		assert.True(t, errors.Is(router.SetNodeState("nope", NodeStateUp), ErrNodeNotFound))
		_, err := router.RemoveNode("nope")
		assert.True(t, errors.Is(err, ErrNodeNotFound))
	})

	t.Run("duplicate node", func(t *testing.T) {
		assert.True(t, errors.Is(router.AddNodeToCluster("main", "read_1"), ErrDuplicateNode))
	})

	t.Run("weight", func(t *testing.T) {
		require.NoError(t, router.SetNodeWeight("read_1", 5))
		assert.Equal(t, 5.0, sources["read_1"].Node.Weight())
		assert.True(t, errors.Is(router.SetNodeWeight("read_1", -1), ErrInvalidWeight))
		assert.Equal(t, 5.0, sources["read_1"].Node.Weight())
	})

	t.Run("state", func(t *testing.T) {
		require.NoError(t, router.SetNodeState("read_1", NodeStateOutOfService))
		assert.Equal(t, NodeStateOutOfService, sources["read_1"].Node.State())
		require.NoError(t, router.SetNodeState("read_1", NodeStateUp))
	})
}

func TestRouterClusterEmptying(t *testing.T) {
	router, sources := topology()
	side := NewCluster("side", nil, nil)
	require.NoError(t, side.AddNode(sources["read_1"].Node))
	require.NoError(t, router.AddCluster(side))
	assert.Equal(t, []string{"main", "side"}, router.Clusters().ClustersOf("read_1"))

	left, err := router.RemoveNode("read_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "side"}, left)
	assert.Equal(t, []string{"main"}, router.Clusters().Names(), "side lost its last node")
	assert.Empty(t, router.Clusters().ClustersOf("read_1"))

	_, err = router.Route(context.Background(), RoutingKey{Sql: "select 1", Cluster: "side"})
	assert.True(t, errors.Is(err, ErrClusterNotFound))

	require.NoError(t, router.RemoveNodeFromCluster("main", "read_2"))
	require.NoError(t, router.RemoveNodeFromCluster("main", "write_1"))
	assert.Zero(t, router.Clusters().Len())
	assert.Empty(t, router.Clusters().DefaultName())

	assert.Equal(t, 3, router.DataSources().Len(), "datasources outlive their clusters")

	_, err = router.Route(context.Background(), RoutingKey{Sql: "select 1"})
	assert.True(t, errors.Is(err, ErrRoutingFailure), "no cluster, no default datasource")
}

func TestRouterConcurrentMutation(t *testing.T) {
	router, sources := topology()
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("extra_%d", i)
		require.NoError(t, router.AddDataSource(&DataSource{Pool: &fakePool{name: name}, Node: NewNodeAttribute(name, NodeTypeRead, 1)}))
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				sql := "select * from users"
				if (g+i)%3 == 0 {
					sql = "update users set a = 1"
				}
				info, err := router.Route(ctx, RoutingKey{Sql: sql})
				if assert.NoError(t, err) {
					assert.NotNil(t, info.HitNode)
					if info.SqlAttribute.IsWrite() {
						assert.Equal(t, "write_1", info.NodeName())
					}
				}
			}
		}(g)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			name := fmt.Sprintf("extra_%d", i%4)
			assert.NoError(t, router.AddNodeToCluster("main", name))
			assert.NoError(t, router.SetNodeWeight(name, float64(i%5)))
			assert.NoError(t, router.SetNodeState("read_2", NodeState(i%2)+NodeStateUp))
			assert.NoError(t, router.RemoveNodeFromCluster("main", name))
		}
	}()
	wg.Wait()

	c, err := router.Clusters().Get("main")
	require.NoError(t, err)
	assert.Len(t, c.Nodes(), 3)
	assert.Contains(t, []NodeState{NodeStateUp, NodeStateDown}, sources["read_2"].Node.State())
}

// registeredCheck records chosen nodes whose datasource is already gone while
// the cluster still holds its read lock.
type registeredCheck struct {
	sources *DataSourceManager
	mu      sync.Mutex
	missing []string
}

func (c *registeredCheck) BeforeRouting(context.Context, *RouteInfo) {}

func (c *registeredCheck) AfterRouting(_ context.Context, info *RouteInfo, err error) {
	if err != nil || info == nil || info.HitNode == nil {
		return
	}
	if _, err := c.sources.Get(info.NodeName()); err != nil {
		c.mu.Lock()
		c.missing = append(c.missing, info.NodeName())
		c.mu.Unlock()
	}
}

func TestRouterRemoveDataSourceLeavesClustersFirst(t *testing.T) {
	check := &registeredCheck{}
	router, sources := topology(WithListener(check))
	check.sources = router.DataSources()
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = router.Route(ctx, RoutingKey{Sql: "select * from users"})
			}
		}()
	}

	read1 := sources["read_1"]
	for i := 0; i < 200; i++ {
		_, err := router.RemoveDataSource("read_1")
		require.NoError(t, err)
		require.NoError(t, router.AddDataSource(read1))
		require.NoError(t, router.AddNodeToCluster("main", "read_1"))
	}
	close(stop)
	wg.Wait()
	assert.Empty(t, check.missing)

	_, err := router.RemoveDataSource("read_1")
	require.NoError(t, err)
	assert.Empty(t, router.Clusters().ClustersOf("read_1"))
	_, err = router.RemoveDataSource("read_1")
	assert.True(t, errors.Is(err, ErrDataSourceNotFound))
}
