// Package recall is a personal long-term memory engine: content-addressed
// markdown records on disk, a relational index for everything that
// benefits from indexed lookup, hybrid BM25/semantic retrieval, and the
// importance/decay/reinforcement lifecycle that keeps old memories from
// drowning out new ones.
//
// Package recall exposes only what a caller needs to embed the engine:
// construct a Runtime with Open, and reach every subsystem through its
// fields. Internals live under internal/ and are not part of the public
// API, matching the teacher's minimal beads.go facade.
package recall

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arcwright/recall/internal/breaker"
	"github.com/arcwright/recall/internal/clusters"
	"github.com/arcwright/recall/internal/config"
	"github.com/arcwright/recall/internal/embedding"
	"github.com/arcwright/recall/internal/frustration"
	"github.com/arcwright/recall/internal/graph"
	"github.com/arcwright/recall/internal/importance"
	"github.com/arcwright/recall/internal/llm"
	"github.com/arcwright/recall/internal/maintenance"
	"github.com/arcwright/recall/internal/persona"
	"github.com/arcwright/recall/internal/pool"
	"github.com/arcwright/recall/internal/regret"
	"github.com/arcwright/recall/internal/scoring"
	"github.com/arcwright/recall/internal/selftest"
	"github.com/arcwright/recall/internal/sharing"
	"github.com/arcwright/recall/internal/sqlitedb"
	"github.com/arcwright/recall/internal/store"
	"github.com/arcwright/recall/internal/triggers"
	"github.com/arcwright/recall/internal/types"
)

// Re-exported types for callers that want the data model without
// reaching into internal/types.
type (
	MemoryRecord = types.MemoryRecord
	Filter       = types.Filter
	Config       = types.Config
	Scope        = types.Scope
	Status       = types.Status
)

// Scope and Status constants.
const (
	ScopeProject   = types.ScopeProject
	ScopeUniversal = types.ScopeUniversal
	StatusActive   = types.StatusActive
	StatusArchived = types.StatusArchived
)

// Options configures Open.
type Options struct {
	// DataDir holds both the markdown record tree (DataDir/memories) and
	// the relational database (DataDir/recall.db).
	DataDir string
	// ConfigPath optionally points at a YAML file layered over
	// types.DefaultConfig(); see internal/config.
	ConfigPath string
	// LexiconPath optionally points at a TOML file overriding the
	// importance engine's signal-weight and trigger-word tables; see
	// internal/importance.ApplyLexicon.
	LexiconPath string
	// PersonaMapPath optionally points at a TOML file overriding the
	// default persona->project routing table; see
	// internal/persona.LoadPersonaMap.
	PersonaMapPath string
	// Embedder is optional; hybrid search degrades to BM25-only without
	// one (types.ErrEmbedderUnavailable).
	Embedder llm.Embedder
	// LLM is optional; nothing in the core retrieval/lifecycle path
	// requires it.
	LLM llm.Adapter
}

// Runtime wires every subsystem together against one DataDir. None of
// its dependencies are package-level singletons — Pools and Breakers
// are instantiable registries held here, per spec §9's guidance to
// replace global mutable state with an explicit owned context.
type Runtime struct {
	cfg types.Config

	Pools    *pool.Registry
	Breakers *breaker.Registry

	Store       *store.Store
	DB          *sql.DB
	conn        *pool.Conn
	Cache       *embedding.Cache
	Index       *embedding.Index
	Graph       *graph.Graph
	Triggers    *triggers.Manager
	Personas    *persona.Router
	Sharing     *sharing.Sharer
	SelfTest    *selftest.Runner
	Maintenance *maintenance.Runner
	Regret      *regret.Tracker
	Frustration *frustration.Tracker

	embedder llm.Embedder
	llm      llm.Adapter
}

// Open constructs a Runtime rooted at opts.DataDir, creating it if
// needed, loading configuration, opening the relational database
// through a pooled connection, and running schema migrations.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("recall: load config: %w", err)
	}

	if err := importance.ApplyLexicon(opts.LexiconPath); err != nil {
		return nil, fmt.Errorf("recall: load lexicon: %w", err)
	}
	personaMap, err := persona.LoadPersonaMap(opts.PersonaMapPath)
	if err != nil {
		return nil, fmt.Errorf("recall: load persona map: %w", err)
	}

	pools := pool.NewRegistry(cfg.PoolSize, cfg.PoolTimeout())
	breakers := breaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerRecovery())

	dbPath := filepath.Join(opts.DataDir, "recall.db")
	p, err := pools.Get(dbPath)
	if err != nil {
		return nil, fmt.Errorf("recall: resolve db pool: %w", err)
	}
	conn, err := p.Checkout(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall: checkout db connection: %w", err)
	}
	db := conn.DB()

	if err := sqlitedb.Init(ctx, db); err != nil {
		return nil, fmt.Errorf("recall: init schema: %w", err)
	}

	memStore := store.New(filepath.Join(opts.DataDir, "memories"))
	cache := embedding.NewCache(db, cfg.CacheMaxEntries)
	index, err := embedding.NewIndex(filepath.Join(opts.DataDir, "index"), "memories", cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("recall: open vector index: %w", err)
	}
	g := graph.New(db)
	trig := triggers.New(db)
	personas := persona.NewRouter(personaMap)
	shares := sharing.New(db)
	st := selftest.New(filepath.Join(opts.DataDir, "memories"), db, breakers)
	regretTracker := regret.New(db)
	frustrationTracker := frustration.New(db)

	var embedFn func(context.Context, string) ([]float32, error)
	if opts.Embedder != nil {
		embedFn = opts.Embedder.Embed
	}
	maint := maintenance.New(memStore, cache, st, cfg, embedFn)

	return &Runtime{
		cfg:         cfg,
		Pools:       pools,
		Breakers:    breakers,
		Store:       memStore,
		DB:          db,
		conn:        conn,
		Cache:       cache,
		Index:       index,
		Graph:       g,
		Triggers:    trig,
		Personas:    personas,
		Sharing:     shares,
		SelfTest:    st,
		Maintenance: maint,
		Regret:      regretTracker,
		Frustration: frustrationTracker,
		embedder:    opts.Embedder,
		llm:         opts.LLM,
	}, nil
}

// Close returns the relational connection to its pool and closes every
// pool this Runtime opened. It does not touch the filesystem store,
// which holds no open handles between calls.
func (rt *Runtime) Close() error {
	if rt.conn != nil {
		_ = rt.conn.Close()
	}
	return rt.Pools.CloseAll()
}

// Remember scores and persists a new memory record, computing its
// initial importance from content signals (spec §4.E) and its
// embedding if an embedder is configured.
func (rt *Runtime) Remember(ctx context.Context, r *types.MemoryRecord) error {
	r.Normalize()
	if r.Importance == 0 {
		r.Importance = importance.BaseScore(r.Content)
	}
	if err := rt.Store.Put(ctx, r); err != nil {
		return err
	}
	if rt.embedder != nil {
		vec, err := rt.embedder.Embed(ctx, r.Content)
		if err == nil {
			_ = rt.Cache.Put(ctx, r.ContentHash, vec)
			_ = rt.Index.Store(ctx, r.ContentHash, vec, map[string]string{"project_id": r.ProjectID})
		}
	}
	return nil
}

// Create assembles and persists a brand-new record — the spec §4.B
// create() op: a fresh id, stamped timestamps, a derived content hash,
// and (unless importanceOverride is given) a base importance score —
// then embeds it if an embedder is configured. Use Remember instead
// when the caller already owns a fully-formed record (e.g. a restore
// or import path that must preserve an existing id).
func (rt *Runtime) Create(ctx context.Context, content, projectID string, scope types.Scope, tags []string, importanceOverride *float64, sessionID *string) (*types.MemoryRecord, error) {
	r, err := rt.Store.Create(ctx, content, projectID, scope, tags, importanceOverride, sessionID)
	if err != nil {
		return nil, err
	}
	if rt.embedder != nil {
		vec, err := rt.embedder.Embed(ctx, r.Content)
		if err == nil {
			_ = rt.Cache.Put(ctx, r.ContentHash, vec)
			_ = rt.Index.Store(ctx, r.ContentHash, vec, map[string]string{"project_id": r.ProjectID})
		}
	}
	return r, nil
}

// Recall runs hybrid BM25/semantic search for query within projectID,
// degrading to BM25-only if no embedder is configured or it reports
// types.ErrEmbedderUnavailable. threshold and useSemantic are spec
// §4.D's eponymous inputs (defaults 0.0 and true — pass 0 and true for
// the default behavior).
func (rt *Runtime) Recall(ctx context.Context, projectID, query string, topK int, threshold float64, useSemantic bool) ([]scoring.FusedHit, error) {
	listing, err := rt.Store.List(ctx, projectID, types.Filter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	docs := make([]scoring.Document, len(listing.Records))
	for i, r := range listing.Records {
		docs[i] = scoring.Document{ID: r.ContentHash, Text: r.Content, Record: r}
	}

	var embedFn func(string) ([]float32, error)
	if rt.embedder != nil {
		embedFn = llm.AsHybridEmbedFunc(rt.embedder)
	} else {
		embedFn = func(string) ([]float32, error) { return nil, types.ErrEmbedderUnavailable }
	}

	weights := scoring.Weights{Semantic: rt.cfg.SemanticWeight, BM25: rt.cfg.BM25Weight}
	return scoring.Hybrid(ctx, query, embedFn, rt.Index, docs, weights, topK, threshold, useSemantic)
}

// RunMaintenance executes the daily decay/archive/stats/health pass.
func (rt *Runtime) RunMaintenance(ctx context.Context, dryRun bool) (maintenance.Result, error) {
	return rt.Maintenance.Run(ctx, dryRun)
}

// RunSelfTest executes the six-probe health battery.
func (rt *Runtime) RunSelfTest() selftest.Report {
	return rt.SelfTest.RunAll()
}

// MorningBriefing groups projectID's active records into knowledge
// clusters and flags any that may need re-clustering, per spec §9's
// morning-briefing supplement. maxClusters, topNMemories, and
// splitThreshold of 0 fall back to clusters.Generate's defaults.
func (rt *Runtime) MorningBriefing(ctx context.Context, projectID string, maxClusters, topNMemories, splitThreshold int) (clusters.Briefing, error) {
	listing, err := rt.Store.List(ctx, projectID, types.Filter{ProjectID: projectID})
	if err != nil {
		return clusters.Briefing{}, err
	}
	return clusters.Generate(ctx, listing.Records, maxClusters, topNMemories, splitThreshold), nil
}

// defaultMaintenanceInterval is how often a caller running Open in a
// long-lived process should invoke RunMaintenance; not enforced here,
// since scheduling is the embedding application's responsibility.
const defaultMaintenanceInterval = 24 * time.Hour
