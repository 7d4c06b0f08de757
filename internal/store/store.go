// Package store persists memory records as one Markdown file per record
// under a per-project directory (spec §6): YAML frontmatter carries the
// structured fields, the Markdown body carries the content. Grounded on
// the teacher's yaml.v3 usage for config.yaml (internal/config/local_config.go),
// generalized from a single config file to many per-record files.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	"github.com/arcwright/recall/internal/importance"
	"github.com/arcwright/recall/internal/types"
	"github.com/google/uuid"
)

var tracer = otel.Tracer("github.com/arcwright/recall/store")

const archivedDirName = "archived"

// frontmatter is the YAML header written atop every record file. It
// mirrors types.MemoryRecord minus Content, which becomes the Markdown
// body below the "---" fence.
type frontmatter struct {
	ID              string    `yaml:"id"`
	ProjectID       string    `yaml:"project_id"`
	Scope           string    `yaml:"scope"`
	Status          string    `yaml:"status"`
	ContentHash     string    `yaml:"content_hash"`
	Tags            []string  `yaml:"tags,omitempty"`
	KnowledgeDomain string    `yaml:"knowledge_domain,omitempty"`
	Importance      float64   `yaml:"importance"`
	Confidence      float64   `yaml:"confidence"`
	SessionID       string    `yaml:"session_id,omitempty"`
	CreatedAt       time.Time `yaml:"created_at"`
	UpdatedAt       time.Time `yaml:"updated_at"`
}

// Store is a filesystem-backed record store rooted at one directory per
// project: root/{project_id}/{id}.md, with archived records moved to
// root/{project_id}/archived/{id}.md.
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory is created lazily on
// first write, matching the teacher's lazy-create-on-use style rather
// than failing New for a not-yet-existing root.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the filesystem directory this Store persists beneath, for
// callers (internal/maintenance's filesystem watch) that need to watch it
// for changes made outside this process.
func (s *Store) Root() string { return s.root }

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

func (s *Store) recordPath(projectID, id string, archived bool) string {
	dir := s.projectDir(projectID)
	if archived {
		dir = filepath.Join(dir, archivedDirName)
	}
	return filepath.Join(dir, id+".md")
}

// lockRecord opens (creating if needed) a per-record lock file under
// the project directory and acquires an exclusive advisory lock on it,
// returning a release function. The lock file itself is never cleaned
// up; like the teacher's daemon lock, its presence is harmless and its
// content unused, only its fd matters.
func (s *Store) lockRecord(projectID, id string) (func(), error) {
	lockPath := filepath.Join(s.projectDir(projectID), "."+id+".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		_ = flockUnlock(f)
		_ = f.Close()
	}, nil
}

// Put writes r to disk, creating parent directories as needed. The
// write is atomic: content lands in a temp file in the same directory
// then is renamed over the final path, so a crash mid-write never
// leaves a torn record.
func (s *Store) Put(ctx context.Context, r *types.MemoryRecord) error {
	_, span := tracer.Start(ctx, "store.put")
	defer span.End()

	r.Normalize()
	if err := r.Validate(); err != nil {
		return types.WrapError("put record", types.ErrInput, err)
	}

	archived := r.Status == types.StatusArchived
	path := s.recordPath(r.ProjectID, r.ID, archived)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapError("put record", types.ErrIO, err)
	}

	unlock, err := s.lockRecord(r.ProjectID, r.ID)
	if err != nil {
		return types.WrapError("put record", types.ErrIO, err)
	}
	defer unlock()

	// A status change (active <-> archived) relocates the file; remove
	// any stale copy in the other location first. The lock above keeps
	// this remove-then-rename atomic with respect to a concurrent Put for
	// the same record from another process.
	other := s.recordPath(r.ProjectID, r.ID, !archived)
	_ = os.Remove(other)

	data, err := encode(r)
	if err != nil {
		return types.WrapError("put record", types.ErrIO, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.md")
	if err != nil {
		return types.WrapError("put record", types.ErrIO, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.WrapError("put record", types.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.WrapError("put record", types.ErrIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return types.WrapError("put record", types.ErrIO, err)
	}
	return nil
}

// Create assembles a new record per spec §4.B: a fresh id, created_at
// = updated_at = now, a content hash derived from content, and —
// unless importance is non-nil — a derived base importance score
// (§4.E). tags are copied before dedup so the caller's slice is never
// mutated.
func (s *Store) Create(ctx context.Context, content, projectID string, scope types.Scope, tags []string, importanceOverride *float64, sessionID *string) (*types.MemoryRecord, error) {
	now := time.Now().UTC()
	r := &types.MemoryRecord{
		ID:        uuid.NewString(),
		Content:   content,
		ProjectID: projectID,
		Scope:     scope,
		Status:    types.StatusActive,
		Tags:      append([]string(nil), tags...),
		CreatedAt: now,
		UpdatedAt: now,
		SessionID: sessionID,
	}
	if importanceOverride != nil {
		r.Importance = *importanceOverride
	} else {
		r.Importance = importance.BaseScore(content)
	}
	if err := s.Put(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Patch carries the optional per-field updates Update applies. A nil
// field leaves the corresponding MemoryRecord field untouched.
type Patch struct {
	Content         *string
	Importance      *float64
	Confidence      *float64
	Tags            []string
	KnowledgeDomain *string
	Status          *types.Status
}

// Update applies patch to the record identified by (projectID, id),
// recomputing content_hash if Content changed (spec §3's invariant
// that the hash must be refreshed before any embedding lookup) and
// always advancing updated_at.
func (s *Store) Update(ctx context.Context, projectID, id string, patch Patch) (*types.MemoryRecord, error) {
	r, err := s.Get(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil {
		r.Content = *patch.Content
	}
	if patch.Importance != nil {
		r.Importance = *patch.Importance
	}
	if patch.Confidence != nil {
		r.Confidence = *patch.Confidence
	}
	if patch.Tags != nil {
		r.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.KnowledgeDomain != nil {
		r.KnowledgeDomain = *patch.KnowledgeDomain
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.Put(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get reads one record by project and id, checking the archived
// subdirectory if it is not found active.
func (s *Store) Get(ctx context.Context, projectID, id string) (*types.MemoryRecord, error) {
	_, span := tracer.Start(ctx, "store.get")
	defer span.End()

	path := s.recordPath(projectID, id, false)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		path = s.recordPath(projectID, id, true)
		data, err = os.ReadFile(path)
	}
	if os.IsNotExist(err) {
		return nil, types.WrapError("get record", types.ErrNotFound, fmt.Errorf("%s/%s", projectID, id))
	}
	if err != nil {
		return nil, types.WrapError("get record", types.ErrIO, err)
	}

	r, err := decode(data)
	if err != nil {
		return nil, types.WrapError("get record", types.ErrCorrupt, err)
	}
	return r, nil
}

// Archive moves a record from active to the archived subdirectory,
// setting Status and the archived tag, idempotently.
func (s *Store) Archive(ctx context.Context, projectID, id string) error {
	r, err := s.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	r.Archive()
	return s.Put(ctx, r)
}

// ListResult reports one project directory's listing outcome,
// including any files that failed to parse (spec §6: corrupt files
// are skipped and counted, never fatal).
type ListResult struct {
	Records []*types.MemoryRecord
	Skipped int
}

// List enumerates every record in a project directory, active records
// only unless f.IncludeArchived is set, applying f as a post-decode
// filter. Corrupt files are skipped and counted rather than aborting
// the whole listing.
func (s *Store) List(ctx context.Context, projectID string, f types.Filter) (*ListResult, error) {
	_, span := tracer.Start(ctx, "store.list")
	defer span.End()

	result := &ListResult{}
	dirs := []string{s.projectDir(projectID)}
	if f.IncludeArchived {
		dirs = append(dirs, filepath.Join(s.projectDir(projectID), archivedDirName))
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, types.WrapError("list records", types.ErrIO, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				result.Skipped++
				continue
			}
			r, err := decode(data)
			if err != nil {
				result.Skipped++
				continue
			}
			if matches(r, f) {
				result.Records = append(result.Records, r)
			}
		}
	}

	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].CreatedAt.After(result.Records[j].CreatedAt)
	})
	return result, nil
}

// Projects enumerates the project ids this store currently holds
// records for, by listing the root's immediate subdirectories.
func (s *Store) Projects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError("list projects", types.ErrIO, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func matches(r *types.MemoryRecord, f types.Filter) bool {
	if f.ProjectID != "" && r.ProjectID != f.ProjectID {
		return false
	}
	if f.Scope != "" && r.Scope != f.Scope {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.KnowledgeDomain != "" && r.KnowledgeDomain != f.KnowledgeDomain {
		return false
	}
	if f.MinImportance > 0 && r.Importance < f.MinImportance {
		return false
	}
	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}
	for _, tag := range f.Tags {
		if !r.HasTag(tag) {
			return false
		}
	}
	return true
}

func encode(r *types.MemoryRecord) ([]byte, error) {
	var sessionID string
	if r.SessionID != nil {
		sessionID = *r.SessionID
	}
	fm := frontmatter{
		ID:              r.ID,
		ProjectID:       r.ProjectID,
		Scope:           string(r.Scope),
		Status:          string(r.Status),
		ContentHash:     r.ContentHash,
		Tags:            r.Tags,
		KnowledgeDomain: r.KnowledgeDomain,
		Importance:      r.Importance,
		Confidence:      r.Confidence,
		SessionID:       sessionID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n\n")
	buf.WriteString(r.Content)
	if !strings.HasSuffix(r.Content, "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*types.MemoryRecord, error) {
	parts := bytes.SplitN(data, []byte("---\n"), 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("missing frontmatter fence")
	}
	var fm frontmatter
	if err := yaml.Unmarshal(parts[1], &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	r := &types.MemoryRecord{
		ID:              fm.ID,
		ProjectID:       fm.ProjectID,
		Scope:           types.Scope(fm.Scope),
		Status:          types.Status(fm.Status),
		Content:         strings.TrimPrefix(string(parts[2]), "\n"),
		ContentHash:     fm.ContentHash,
		Tags:            fm.Tags,
		KnowledgeDomain: fm.KnowledgeDomain,
		Importance:      fm.Importance,
		Confidence:      fm.Confidence,
		CreatedAt:       fm.CreatedAt,
		UpdatedAt:       fm.UpdatedAt,
	}
	if fm.SessionID != "" {
		sessionID := fm.SessionID
		r.SessionID = &sessionID
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
