package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is a single idempotent schema change, run in order during
// Init. Modeled on the teacher's dolt.Migration list
// (internal/storage/dolt/migrations.go): every migration checks whether
// it has already applied before touching anything.
type Migration struct {
	Name string
	Func func(context.Context, *sql.DB) error
}

// migrations is empty: the one migration this module carried
// (memory_index_knowledge_domain_backfill) repaired a table that
// nothing else in this module ever wrote to or read from, and was
// removed along with that table. RunMigrations and the Migration type
// stay in place as the seam the next genuinely needed migration hangs
// off of.
var migrations []Migration

// RunMigrations executes all registered migrations in order.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}
