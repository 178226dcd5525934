package db

import (
	"context"
	"fmt"
)

// Open picks a Store backend by driver name ("sqlite", "postgres",
// "memory").
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSqlite(path)
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}
