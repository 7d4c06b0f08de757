// Package sharing implements cross-project memory sharing (spec §4.H),
// grounded on src/cross_project_sharing_db.py: a memory from one project
// can be surfaced to another as a "shared insight", gated by a per-target
// opt-out flag and deduplicated by (memory_id, target_project).
package sharing

import (
	"context"
	"database/sql"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/arcwright/recall/internal/types"
	"github.com/google/uuid"
)

var (
	tracer = otel.Tracer("github.com/arcwright/recall/sharing")
	meter  = otel.Meter("github.com/arcwright/recall/sharing")

	sharesCreated  metric.Int64Counter
	sharesRejected metric.Int64Counter
)

func init() {
	sharesCreated, _ = meter.Int64Counter("recall.sharing.shared",
		metric.WithDescription("memories successfully shared across projects"))
	sharesRejected, _ = meter.Int64Counter("recall.sharing.rejected",
		metric.WithDescription("share attempts rejected as duplicate or disabled"))
}

// Reason explains the outcome of a Share call.
type Reason string

const (
	ReasonSuccess  Reason = "success"
	ReasonDuplicate Reason = "duplicate"
	ReasonDisabled Reason = "sharing_disabled"
)

// Result is the outcome of a Share attempt.
type Result struct {
	Shared bool
	ID     string
	Reason Reason
}

// Insight is a memory shared into a target project.
type Insight struct {
	ID             string
	SourceProject  string
	TargetProject  string
	MemoryID       string
	MemoryContent  string
	RelevanceScore float64
	CreatedAt      time.Time
	Status         string
}

// Stats summarizes sharing activity across all projects.
type Stats struct {
	TotalShared   int
	BySource      map[string]int
	ByTarget      map[string]int
	AvgRelevance  float64
}

// Sharer wraps the shared_insights and project_sharing_config tables.
type Sharer struct {
	db *sql.DB
}

// New returns a Sharer backed by db, which must already have had
// sqlitedb.Init run against it.
func New(db *sql.DB) *Sharer {
	return &Sharer{db: db}
}

// Share records memory as shared from sourceProject into targetProject,
// unless targetProject has disabled incoming shares or the pair has
// already been shared (the UNIQUE(memory_id, target_project) constraint
// is checked explicitly up front so the caller gets a typed reason
// rather than a raw constraint-violation error).
func (s *Sharer) Share(ctx context.Context, sourceProject, targetProject, memoryID, memoryContent string, relevanceScore float64) (Result, error) {
	ctx, span := tracer.Start(ctx, "sharing.Share")
	defer span.End()

	enabled, err := s.IsSharingEnabled(ctx, targetProject)
	if err != nil {
		return Result{}, err
	}
	if !enabled {
		sharesRejected.Add(ctx, 1)
		return Result{Shared: false, Reason: ReasonDisabled}, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM shared_insights WHERE memory_id = ? AND target_project = ?`,
		memoryID, targetProject).Scan(&existing)
	switch {
	case err == nil:
		sharesRejected.Add(ctx, 1)
		return Result{Shared: false, Reason: ReasonDuplicate}, nil
	case err != sql.ErrNoRows:
		return Result{}, types.WrapError("sharing.Share", types.ErrIO, err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shared_insights (id, source_project, target_project, memory_id, memory_content, relevance_score, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'active')`,
		id, sourceProject, targetProject, memoryID, memoryContent, relevanceScore, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return Result{}, types.WrapError("sharing.Share", types.ErrIO, err)
	}

	sharesCreated.Add(ctx, 1)
	return Result{Shared: true, ID: id, Reason: ReasonSuccess}, nil
}

// GetShared returns active insights shared into projectID, newest first.
// Returns nil without error if projectID has sharing disabled.
func (s *Sharer) GetShared(ctx context.Context, projectID string) ([]Insight, error) {
	ctx, span := tracer.Start(ctx, "sharing.GetShared")
	defer span.End()

	enabled, err := s.IsSharingEnabled(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_project, target_project, memory_id, memory_content, relevance_score, created_at, status
		 FROM shared_insights WHERE target_project = ? AND status = 'active' ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, types.WrapError("sharing.GetShared", types.ErrIO, err)
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		var createdAt string
		if err := rows.Scan(&in.ID, &in.SourceProject, &in.TargetProject, &in.MemoryID,
			&in.MemoryContent, &in.RelevanceScore, &createdAt, &in.Status); err != nil {
			return nil, types.WrapError("sharing.GetShared", types.ErrIO, err)
		}
		in.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, in)
	}
	return out, rows.Err()
}

// SetSharingEnabled sets whether projectID accepts incoming shares.
func (s *Sharer) SetSharingEnabled(ctx context.Context, projectID string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_sharing_config (project_id, share_enabled, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET share_enabled = excluded.share_enabled, updated_at = excluded.updated_at`,
		projectID, v, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return types.WrapError("sharing.SetSharingEnabled", types.ErrIO, err)
	}
	return nil
}

// IsSharingEnabled reports whether projectID accepts incoming shares.
// A project with no config row defaults to enabled.
func (s *Sharer) IsSharingEnabled(ctx context.Context, projectID string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT share_enabled FROM project_sharing_config WHERE project_id = ?`, projectID).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return true, nil
	case err != nil:
		return false, types.WrapError("sharing.IsSharingEnabled", types.ErrIO, err)
	}
	return v != 0, nil
}

// GetStats aggregates sharing activity across every project.
func (s *Sharer) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{BySource: map[string]int{}, ByTarget: map[string]int{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_project, target_project, relevance_score FROM shared_insights WHERE status = 'active'`)
	if err != nil {
		return Stats{}, types.WrapError("sharing.GetStats", types.ErrIO, err)
	}
	defer rows.Close()

	var relevanceSum float64
	for rows.Next() {
		var source, target string
		var relevance float64
		if err := rows.Scan(&source, &target, &relevance); err != nil {
			return Stats{}, types.WrapError("sharing.GetStats", types.ErrIO, err)
		}
		stats.TotalShared++
		stats.BySource[source]++
		stats.ByTarget[target]++
		relevanceSum += relevance
	}
	if err := rows.Err(); err != nil {
		return Stats{}, types.WrapError("sharing.GetStats", types.ErrIO, err)
	}

	if stats.TotalShared > 0 {
		stats.AvgRelevance = roundTo(relevanceSum/float64(stats.TotalShared), 4)
	}
	return stats, nil
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
