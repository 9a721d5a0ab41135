package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Migrate applies the embedded schema. Every statement is idempotent so it
// runs on each boot.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	// No arguments: pgx uses the simple protocol, which accepts multiple statements.
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
