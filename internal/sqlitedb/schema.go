// Package sqlitedb owns the relational-state schema described in spec §6:
// embedding cache, relationship edges, prospective triggers,
// cross-project sharing, and breaker snapshots.
// The memory records themselves live in the filesystem store
// (internal/store); this package only holds state that is naturally
// relational or needs indexed lookup.
package sqlitedb

import (
	"context"
	"database/sql"
)

// schemaStatements creates every table this module owns, idempotently.
// Grounded on the teacher's config/metadata table pair
// (internal/storage/sqlite/config.go) generalized to the rest of the
// relational state this domain needs.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS embedding_cache (
		content_hash TEXT PRIMARY KEY,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TEXT NOT NULL,
		accessed_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_embedding_cache_accessed ON embedding_cache(accessed_at)`,

	`CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		strength REAL NOT NULL DEFAULT 1.0,
		evidence TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(from_id, to_id, kind)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id)`,

	`CREATE TABLE IF NOT EXISTS prospective_triggers (
		trigger_id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		condition_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		fired_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_status ON prospective_triggers(status)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_memory ON prospective_triggers(memory_id)`,

	`CREATE TABLE IF NOT EXISTS shared_insights (
		id TEXT PRIMARY KEY,
		source_project TEXT NOT NULL,
		target_project TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		memory_content TEXT NOT NULL DEFAULT '',
		relevance_score REAL NOT NULL DEFAULT 0.5,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		UNIQUE(memory_id, target_project)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shared_insights_target ON shared_insights(target_project, status)`,
	`CREATE INDEX IF NOT EXISTS idx_shared_insights_source ON shared_insights(source_project)`,

	`CREATE TABLE IF NOT EXISTS project_sharing_config (
		project_id TEXT PRIMARY KEY,
		share_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS decision_outcomes (
		id TEXT PRIMARY KEY,
		decision_content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		regret_detected INTEGER NOT NULL DEFAULT 0,
		alternative TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_outcomes_regret ON decision_outcomes(regret_detected)`,

	`CREATE TABLE IF NOT EXISTS frustration_events (
		id TEXT PRIMARY KEY,
		signal_type TEXT NOT NULL,
		evidence TEXT NOT NULL DEFAULT '',
		severity REAL NOT NULL DEFAULT 0.5,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_frustration_events_signal ON frustration_events(signal_type)`,

	`CREATE TABLE IF NOT EXISTS breaker_snapshots (
		name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Init creates every table and index this module owns if they do not
// already exist, then runs the migrations registered in migrations.go.
func Init(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return wrapDBError("create schema", err)
		}
	}
	return RunMigrations(ctx, db)
}

// ExpectedTables lists every table Init creates. The self-test battery
// (internal/selftest) asserts all of these are present rather than
// hardcoding table names from an unrelated legacy schema.
var ExpectedTables = []string{
	"embedding_cache",
	"relationships",
	"prospective_triggers",
	"shared_insights",
	"project_sharing_config",
	"decision_outcomes",
	"frustration_events",
	"breaker_snapshots",
	"config",
	"metadata",
}
