package datastore

import (
	"database/sql"
	"strings"

	"github.com/tphakala/storykeep/internal/errors"
)

// ErrStoreUnavailable is returned when the database cannot be opened.
var ErrStoreUnavailable = errors.NewStd("persistent store unavailable")

// dbError wraps err as a storage error with operation context.
// Errors that are already enhanced pass through unchanged.
func dbError(err error, operation string, context ...any) error {
	if err == nil {
		return nil
	}
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return err
	}

	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryStorage).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// isConnectionLost reports whether err means the handle is no longer usable
// and a fresh open is worth one retry.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "bad connection")
}
