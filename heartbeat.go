package dbrouter

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm/logger"
)

const (
	defaultHeartbeatSql      = "SELECT 1"
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 2 * time.Second
	defaultMaxFailures       = 3
)

// CheckFunc probes one datasource, nil meaning healthy.
type CheckFunc func(ctx context.Context, ds *DataSource) error

// HealthChecker periodically probes every registered datasource and keeps
// the state of its node current: UP after a successful probe, DOWN after
// MaxFailures consecutive failures. Nodes taken OUT_OF_SERVICE are left alone.
type HealthChecker struct {
	sources     *DataSourceManager
	check       CheckFunc
	log         logger.Interface
	tick        time.Duration
	timeout     time.Duration
	maxFailures int

	mu       sync.Mutex
	failures map[string]int
	lastRun  map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type HealthOption func(*HealthChecker)

func WithCheckFunc(fn CheckFunc) HealthOption {
	return func(h *HealthChecker) {
		h.check = fn
	}
}

// WithTick how often the checker wakes up; each datasource is still probed
// at most once per its HeartbeatInterval.
func WithTick(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.tick = d
	}
}

func WithCheckTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.timeout = d
	}
}

func WithMaxFailures(n int) HealthOption {
	return func(h *HealthChecker) {
		h.maxFailures = n
	}
}

func WithHealthLogger(l logger.Interface) HealthOption {
	return func(h *HealthChecker) {
		h.log = l
	}
}

func NewHealthChecker(sources *DataSourceManager, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		sources:     sources,
		check:       PingCheck,
		log:         logger.Default,
		tick:        time.Second,
		timeout:     defaultHeartbeatTimeout,
		maxFailures: defaultMaxFailures,
		failures:    map[string]int{},
		lastRun:     map[string]time.Time{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.maxFailures < 1 {
		h.maxFailures = 1
	}
	return h
}

// Start runs the checker in the background until ctx is done or Stop is called.
func (h *HealthChecker) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.tick)
		defer ticker.Stop()

		h.CheckAll(ctx, time.Now())
		for {
			select {
			case now := <-ticker.C:
				h.CheckAll(ctx, now)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *HealthChecker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// CheckAll probes every datasource whose interval has elapsed at now.
func (h *HealthChecker) CheckAll(ctx context.Context, now time.Time) {
	for _, ds := range h.sources.All() {
		if !h.due(ds, now) {
			continue
		}
		h.CheckOne(ctx, ds)
	}
}

func (h *HealthChecker) due(ds *DataSource, now time.Time) bool {
	interval := ds.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastRun[ds.Name]
	if ok && now.Sub(last) < interval {
		return false
	}
	h.lastRun[ds.Name] = now
	return true
}

// CheckOne probes ds once and updates its node, returning the probe error.
func (h *HealthChecker) CheckOne(ctx context.Context, ds *DataSource) error {
	node := ds.Node
	if node.State() == NodeStateOutOfService {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.check(cctx, ds)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		h.failures[ds.Name] = 0
		if node.State() != NodeStateUp {
			h.log.Info(ctx, "datasource %s is up", ds.Name)
		}
		node.SetState(NodeStateUp)
		return nil
	}

	h.failures[ds.Name]++
	if h.failures[ds.Name] >= h.maxFailures && node.State() != NodeStateDown {
		h.log.Warn(ctx, "datasource %s is down after %d failed checks: %v", ds.Name, h.failures[ds.Name], err)
		node.SetState(NodeStateDown)
	}
	return err
}

// Failures consecutive failed probes of a datasource
func (h *HealthChecker) Failures(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[name]
}

// PingCheck runs the datasource's heartbeat statement, or pings the pool
// when none is configured and the pool can ping.
func PingCheck(ctx context.Context, ds *DataSource) error {
	if ds.Pool == nil {
		return errors.Errorf("datasource %s has no pool", ds.Name)
	}
	pool := unwrapPool(ds.Pool)
	if ds.HeartbeatSql == "" {
		if pinger, ok := pool.(interface{ PingContext(context.Context) error }); ok {
			return errors.Wrapf(pinger.PingContext(ctx), "ping %s", ds.Name)
		}
	}
	query := ds.HeartbeatSql
	if query == "" {
		query = defaultHeartbeatSql
	}
	rows, err := pool.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrapf(err, "heartbeat %s", ds.Name)
	}
	return errors.Wrapf(rows.Close(), "heartbeat %s", ds.Name)
}
