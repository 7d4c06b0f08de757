// Package pool provides a bounded, thread-safe pool of SQLite connections
// with WAL mode, fair checkout, idle rollback-on-return, and a
// path-keyed registry so "./db" and its absolute form share one pool
// (spec §4.A).
//
// Go's database/sql already pools connections internally, but it does not
// expose a distinguishable timeout error or a bounded "created" counter —
// the two properties spec §4.A and §8's boundary tests require. So each
// PooledConn here wraps a single-connection *sql.DB (SetMaxOpenConns(1)),
// and the Pool hands them out from a buffered free-list channel plus an
// atomic created counter, the way ConnectionPool/PooledConnection do in
// the Python original (tests/test_db_pool.py).
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arcwright/recall/internal/types"
)

var (
	tracer = otel.Tracer("github.com/arcwright/recall/pool")

	poolMetrics struct {
		checkouts     metric.Int64Counter
		checkoutWait  metric.Float64Histogram
		timeouts      metric.Int64Counter
	}
)

func init() {
	m := otel.Meter("github.com/arcwright/recall/pool")
	poolMetrics.checkouts, _ = m.Int64Counter("recall.pool.checkouts",
		metric.WithDescription("connection checkouts served"),
		metric.WithUnit("{checkout}"))
	poolMetrics.checkoutWait, _ = m.Float64Histogram("recall.pool.checkout_wait_ms",
		metric.WithDescription("time spent waiting for a free connection"),
		metric.WithUnit("ms"))
	poolMetrics.timeouts, _ = m.Int64Counter("recall.pool.timeouts",
		metric.WithDescription("checkouts that exceeded their timeout"),
		metric.WithUnit("{timeout}"))
}

// Conn wraps a checked out connection. DB returns the real *sql.DB, and
// Close returns the handle to the pool instead of destroying it —
// the Go analogue of PooledConnection.close() in the original.
type Conn struct {
	raw    *sql.DB
	pool   *Pool
	mu     sync.Mutex
	closed bool
}

// DB exposes the underlying *sql.DB for callers that need raw query
// access (e.g. component B/C/H/I/K storage layers).
func (c *Conn) DB() *sql.DB { return c.raw }

// Close returns the connection to its pool. Any open transaction is
// rolled back best-effort first; rollback failures on a broken
// connection are swallowed (spec §4.A). Double-close is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_, _ = c.raw.ExecContext(context.Background(), "ROLLBACK")
	c.pool.release(c)
	return nil
}

// Pool is a bounded, reusable set of connections to one SQLite database.
type Pool struct {
	path    string
	size    int
	timeout time.Duration

	mu      sync.Mutex
	created int
	free    chan *Conn
}

// New opens a pool against path with the given size and checkout timeout.
// No connection is created until the first Checkout (spec §4.A: "lazy
// creation").
func New(path string, size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pool{
		path:    path,
		size:    size,
		timeout: timeout,
		free:    make(chan *Conn, size),
	}
}

// Size returns the configured pool size.
func (p *Pool) Size() int { return p.size }

// Created returns the number of connections opened so far. Invariant:
// Created() <= Size().
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Outstanding returns the number of connections currently checked out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created - len(p.free)
}

// Checkout returns a pooled connection, creating a new one if the pool
// has not reached its size cap, or blocking up to timeout for one to
// free up. On timeout it returns a *types.PoolTimeoutError wrapping
// types.ErrPoolTimeout.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pool.checkout",
		trace.WithAttributes(attribute.String("db.path", p.path)))
	defer span.End()

	// Fast path: an idle connection is immediately available.
	select {
	case c := <-p.free:
		poolMetrics.checkouts.Add(ctx, 1)
		poolMetrics.checkoutWait.Record(ctx, float64(time.Since(start).Milliseconds()))
		c.closed = false
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.created < p.size {
		p.created++
		p.mu.Unlock()
		conn, err := p.open(ctx)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		poolMetrics.checkouts.Add(ctx, 1)
		poolMetrics.checkoutWait.Record(ctx, float64(time.Since(start).Milliseconds()))
		return conn, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case c := <-p.free:
		c.closed = false
		poolMetrics.checkouts.Add(ctx, 1)
		poolMetrics.checkoutWait.Record(ctx, float64(time.Since(start).Milliseconds()))
		return c, nil
	case <-timer.C:
		poolMetrics.timeouts.Add(ctx, 1)
		return nil, &types.PoolTimeoutError{
			Path:        p.path,
			Outstanding: p.Outstanding(),
			Timeout:     p.timeout.String(),
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// open creates one new WAL-mode connection with the pragmas required by
// spec §4.A: foreign_keys=ON, synchronous=NORMAL, cache_size=-10000
// (10 MiB page cache), and a shared-cache-free single connection so
// check_same_thread semantics never apply (Go's *sql.DB is always safe
// for concurrent use from any goroutine).
func (p *Pool) open(ctx context.Context) (*Conn, error) {
	dsn := connString(p.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError("open connection", types.ErrIO, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-10000",
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, types.WrapError("configure connection", types.ErrIO, err)
		}
	}

	return &Conn{raw: db, pool: p}, nil
}

// release returns c to the free list. The free channel is sized to the
// pool's capacity so this never blocks.
func (p *Pool) release(c *Conn) {
	select {
	case p.free <- c:
	default:
		// Free list is full (shouldn't happen: created <= size); drop the
		// extra connection rather than leak a goroutine on a full send.
		_ = c.raw.Close()
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
	}
}

// CloseAll drains and closes every connection, resetting the created
// counter. The pool remains usable afterward (spec §4.A).
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
drain:
	for {
		select {
		case c := <-p.free:
			if err := c.raw.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			break drain
		}
	}
	p.created = 0
	return firstErr
}

func connString(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=foreign_keys(ON)", path)
}

// Registry deduplicates pools by resolved absolute path, so "./db" and
// the absolute form share a pool (spec §4.A). It is held by the root
// Runtime rather than a package-level global, per the spec §9 guidance
// to replace global mutable singletons with explicit context objects.
type Registry struct {
	mu      sync.Mutex
	pools   map[string]*Pool
	size    int
	timeout time.Duration
}

// NewRegistry creates a registry that opens pools of the given default
// size/timeout on first use of a path.
func NewRegistry(size int, timeout time.Duration) *Registry {
	return &Registry{
		pools:   make(map[string]*Pool),
		size:    size,
		timeout: timeout,
	}
}

// Get returns the pool for path, creating one on first use.
func (r *Registry) Get(path string) (*Pool, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, types.WrapError("resolve pool path", types.ErrIO, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[resolved]; ok {
		return p, nil
	}
	p := New(resolved, r.size, r.timeout)
	r.pools[resolved] = p
	return p, nil
}

// CloseAll closes every pool in the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, p := range r.pools {
		if err := p.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
