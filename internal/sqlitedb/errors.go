package sqlitedb

import (
	"database/sql"
	"errors"

	"github.com/arcwright/recall/internal/types"
)

// wrapDBError converts sql.ErrNoRows to types.ErrNotFound and wraps
// everything else as types.ErrIO, tagged with the failing operation.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.WrapError(op, types.ErrNotFound, err)
	}
	return types.WrapError(op, types.ErrIO, err)
}
