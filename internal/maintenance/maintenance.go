// Package maintenance implements the daily decay/archive/stats/health
// run and the embedding backfill, grounded on
// src/daily_memory_maintenance.py and src/embedding_maintenance.py.
// Independent steps run concurrently via golang.org/x/sync/errgroup,
// generalized from the teacher's errgroup pre-fetch pattern
// (internal/executor in the oriys/nova pack repo) from "fetch N
// unrelated resources" to "run N unrelated maintenance steps".
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/arcwright/recall/internal/embedding"
	"github.com/arcwright/recall/internal/importance"
	"github.com/arcwright/recall/internal/selftest"
	"github.com/arcwright/recall/internal/store"
	"github.com/arcwright/recall/internal/types"
)

var tracer = otel.Tracer("github.com/arcwright/recall/maintenance")

// Stats mirrors collect_stats() in the Python original: a dashboard
// summary over every record visible to the store.
type Stats struct {
	TotalMemories       int
	HighImportanceCount int
	AvgImportance       float64
	ProjectBreakdown    map[string]int
	TagDistribution     map[string]int
}

// Result is the outcome of one Run, mirroring MaintenanceResult.
type Result struct {
	Timestamp     time.Time
	DurationMS    float64
	DecayCount    int
	ArchivedCount int
	Stats         Stats
	Health        selftest.Report
	DryRun        bool
}

// EmbeddingResult is the outcome of one embedding backfill pass.
type EmbeddingResult struct {
	Computed   int
	Skipped    int
	Errors     int
	Total      int
	DurationMS float64
}

// Runner wires the filesystem store, embedding cache, and self-test
// battery together for scheduled maintenance. Construct one per
// process/Runtime; it holds no state of its own between runs.
type Runner struct {
	Store               *store.Store
	Cache               *embedding.Cache
	SelfTest            *selftest.Runner
	LowImportanceThresh float64
	StaleDays           int
	Embed               func(ctx context.Context, text string) ([]float32, error)
}

// New returns a Runner configured from cfg's decay/archive thresholds.
func New(s *store.Store, cache *embedding.Cache, st *selftest.Runner, cfg types.Config, embed func(context.Context, string) ([]float32, error)) *Runner {
	return &Runner{
		Store:               s,
		Cache:               cache,
		SelfTest:            st,
		LowImportanceThresh: cfg.LowImportanceThresh,
		StaleDays:           cfg.StaleDays,
		Embed:               embed,
	}
}

// Run executes the full daily maintenance pipeline across every
// project the store knows about: decay, archival, stats, and health,
// with stats/health computed concurrently with each other since
// neither depends on the other's result. If dryRun is true, decay and
// archival are skipped (DecayCount and ArchivedCount stay zero); stats
// and health are still computed.
func (r *Runner) Run(ctx context.Context, dryRun bool) (Result, error) {
	ctx, span := tracer.Start(ctx, "maintenance.run")
	defer span.End()
	t0 := time.Now()

	projects, err := r.Store.Projects()
	if err != nil {
		return Result{}, fmt.Errorf("maintenance: list projects: %w", err)
	}

	decayCount, archivedCount := 0, 0
	if !dryRun {
		for _, p := range projects {
			dc, ac, err := r.decayAndArchiveProject(ctx, p)
			if err != nil {
				return Result{}, err
			}
			decayCount += dc
			archivedCount += ac
		}
	}

	var stats Stats
	var health selftest.Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.collectStats(gctx, projects)
		if err != nil {
			return err
		}
		stats = s
		return nil
	})
	g.Go(func() error {
		if r.SelfTest != nil {
			health = r.SelfTest.RunAll()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		Timestamp:     time.Now(),
		DurationMS:    float64(time.Since(t0).Microseconds()) / 1000.0,
		DecayCount:    decayCount,
		ArchivedCount: archivedCount,
		Stats:         stats,
		Health:        health,
		DryRun:        dryRun,
	}, nil
}

// decayAndArchiveProject applies decay to every active record in
// project, then archives any record that has fallen (or already sits)
// below the low-importance threshold. Matches apply_decay_to_all and
// archive_low_importance, folded into one project-scoped pass so each
// record is read once (a record that decays and is then archived is
// written twice).
func (r *Runner) decayAndArchiveProject(ctx context.Context, project string) (decayed, archived int, err error) {
	listing, err := r.Store.List(ctx, project, types.Filter{ProjectID: project})
	if err != nil {
		return 0, 0, fmt.Errorf("maintenance: list %s: %w", project, err)
	}

	now := time.Now()
	for _, rec := range listing.Records {
		daysSince := int(now.Sub(rec.UpdatedAt).Hours() / 24)
		if daysSince > 0 {
			newImportance := importance.Decay(rec.Importance, daysSince)
			if newImportance != rec.Importance {
				rec.Importance = newImportance
				rec.UpdatedAt = now
				if err := r.Store.Put(ctx, rec); err != nil {
					return decayed, archived, fmt.Errorf("maintenance: decay %s: %w", rec.ID, err)
				}
				decayed++
			}
		}

		if rec.Importance < r.LowImportanceThresh && rec.Status == types.StatusActive {
			rec.Archive()
			if err := r.Store.Put(ctx, rec); err != nil {
				return decayed, archived, fmt.Errorf("maintenance: archive %s: %w", rec.ID, err)
			}
			archived++
		}
	}
	return decayed, archived, nil
}

func (r *Runner) collectStats(ctx context.Context, projects []string) (Stats, error) {
	stats := Stats{ProjectBreakdown: map[string]int{}, TagDistribution: map[string]int{}}
	var importanceSum float64

	for _, p := range projects {
		listing, err := r.Store.List(ctx, p, types.Filter{ProjectID: p})
		if err != nil {
			return Stats{}, fmt.Errorf("maintenance: stats for %s: %w", p, err)
		}
		for _, rec := range listing.Records {
			stats.TotalMemories++
			stats.ProjectBreakdown[p]++
			importanceSum += rec.Importance
			if rec.Importance >= 0.8 {
				stats.HighImportanceCount++
			}
			for _, tag := range rec.Tags {
				stats.TagDistribution[tag]++
			}
		}
	}

	if stats.TotalMemories > 0 {
		stats.AvgImportance = roundTo(importanceSum/float64(stats.TotalMemories), 3)
	}
	return stats, nil
}

// BackfillEmbeddings computes embeddings for every active record that
// does not have one cached yet, matching EmbeddingMaintenanceRunner.run.
// A record whose embedding or cache write fails is counted in Errors and
// the pass goes on; the returned error is non-nil only when listing a
// project fails.
func (r *Runner) BackfillEmbeddings(ctx context.Context, projects []string) (EmbeddingResult, error) {
	ctx, span := tracer.Start(ctx, "maintenance.backfill_embeddings")
	defer span.End()
	t0 := time.Now()

	var res EmbeddingResult
	for _, p := range projects {
		listing, err := r.Store.List(ctx, p, types.Filter{ProjectID: p})
		if err != nil {
			return EmbeddingResult{}, fmt.Errorf("maintenance: list %s: %w", p, err)
		}
		for _, rec := range listing.Records {
			res.Total++
			if rec.Content == "" {
				res.Skipped++
				continue
			}
			if _, found, err := r.Cache.Get(ctx, rec.ContentHash); err == nil && found {
				res.Skipped++
				continue
			}
			if r.Embed == nil {
				res.Skipped++
				continue
			}
			vec, err := r.Embed(ctx, rec.Content)
			if err != nil {
				res.Errors++
				continue
			}
			if err := r.Cache.Put(ctx, rec.ContentHash, vec); err != nil {
				res.Errors++
				continue
			}
			res.Computed++
		}
	}
	res.DurationMS = float64(time.Since(t0).Microseconds()) / 1000.0
	return res, nil
}

// CheckFreshness reports whether any project holds a record newer than
// the newest cached embedding, meaning a backfill pass would find work
// to do. Matches check_freshness's "no embeddings but memories exist"
// stale case and its "no memories" vacuously-fresh case.
func (r *Runner) CheckFreshness(ctx context.Context, projects []string) (bool, error) {
	var newestRecord time.Time
	found := false
	for _, p := range projects {
		listing, err := r.Store.List(ctx, p, types.Filter{ProjectID: p})
		if err != nil {
			return false, fmt.Errorf("maintenance: freshness list %s: %w", p, err)
		}
		for _, rec := range listing.Records {
			found = true
			if rec.CreatedAt.After(newestRecord) {
				newestRecord = rec.CreatedAt
			}
		}
	}
	if !found {
		return false, nil
	}

	newestEmbedding, ok := r.Cache.NewestAccessedAt(ctx)
	if !ok {
		return true, nil
	}
	// accessed_at is stored to the second, so compare at that precision.
	return newestRecord.Truncate(time.Second).After(newestEmbedding), nil
}

// Watch runs an fsnotify watcher over the record store's root directory
// and every project subdirectory within it, calling onChange whenever a
// record is written, created, or removed outside this process (e.g. a
// user hand-editing a markdown file). It blocks until ctx is canceled or
// the watcher fails. Generalized from the teacher's single-file watch
// loop (cmd/bd/show_display.go) to a whole directory tree, since there is
// no single rendered file here, only many record files.
func (r *Runner) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("maintenance: new watcher: %w", err)
	}
	defer watcher.Close()

	root := r.Store.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("maintenance: create %s: %w", root, err)
	}
	if err := addWatchRecursive(watcher, root); err != nil {
		return fmt.Errorf("maintenance: watch %s: %w", root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				onChange()
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("maintenance: watcher error: %w", watchErr)
		}
	}
}

func addWatchRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}
