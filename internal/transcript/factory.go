package transcript

import (
	"context"
	"strings"
)

// Backend names the store NewStore opens for databaseURL.
func Backend(databaseURL string) string {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return "memory"
	case strings.HasPrefix(u, "sqlite://"), strings.HasPrefix(u, "file:"):
		return "sqlite"
	default:
		return "postgres"
	}
}

// NewStore picks a backend from the database URL: empty means in-memory,
// sqlite:// and file: URLs open a SQLite file, anything else is PostgreSQL.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "file:"):
		return NewSQLiteStore(ctx, u)
	default:
		return NewPostgresStore(ctx, u)
	}
}
