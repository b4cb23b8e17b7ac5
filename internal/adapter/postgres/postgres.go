// Package postgres implements adapter.Adapter against a Postgres datasource,
// grounded on the ledger's AssetPostgreSQLRepository: a connection held
// behind a small wrapper, context-scoped tracer spans around every call, and
// pgx error classification on failure.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/telemetry"
)

// Adapter wraps a pgxpool.Pool for one named datasource. Unlike the ledger's
// mpostgres.PostgresConnection (which lazily dials on first GetDB), the pool
// is dialed once in New and cached for the adapter's lifetime — the
// per-datasource connection pool caching the Sandbox Manager relies on.
type Adapter struct {
	name string
	pool *pgxpool.Pool
}

// New dials dsn and returns a ready Adapter named name.
func New(ctx context.Context, name, dsn string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable,
			"failed to create postgres connection pool for "+name, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable,
			"postgres datasource "+name+" is unreachable", err)
	}

	return &Adapter{name: name, pool: pool}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Dialect:             adapter.DialectPostgres,
		SupportsLimitOffset: true,
		PlaceholderFormat:   "dollar",
		SupportsReturning:   true,
	}
}

// StatementBuilder returns a squirrel StatementBuilder pre-configured with
// Postgres's $N placeholder style, for the Generator stage to build dialect
// correct SQL against this adapter.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// DryRun wraps query in EXPLAIN, the standard way a Postgres-family adapter
// validates a generated statement is executable without running it.
func (a *Adapter) DryRun(ctx context.Context, query string, args []any) error {
	ctx, span := telemetry.TracerFromContext(ctx).Start(ctx, "postgres.dry_run")
	defer span.End()

	rows, err := a.pool.Query(ctx, "EXPLAIN "+query, args...)
	if err != nil {
		return classify(err, a.name)
	}

	rows.Close()

	return rows.Err()
}

// Execute runs query and normalizes every row into adapter.Row.
func (a *Adapter) Execute(ctx context.Context, query string, args []any) ([]adapter.Row, error) {
	ctx, span := telemetry.TracerFromContext(ctx).Start(ctx, "postgres.execute")
	defer span.End()

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, a.name)
	}

	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]adapter.Row, 0)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify(err, a.name)
		}

		row := make(adapter.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(err, a.name)
	}

	return out, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable, "postgres datasource "+a.name+" ping failed", err)
	}

	return nil
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

// classify maps a pgx/pgconn error into the pipeline's typed error kernel,
// generalizing the ledger's ValidatePGError switch (which maps pgconn codes
// to domain-shaped errors) to this module's node-level error codes.
func classify(err error, datasource string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return pipelineerr.Wrap(pipelineerr.CodeExecutionFailed, "no rows returned from "+datasource, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pipelineerr.Wrap(pipelineerr.CodeExecutionFailed,
			fmt.Sprintf("postgres error %s against %s", pgErr.Code, datasource), err)
	}

	return pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable, "postgres call to "+datasource+" failed", err)
}
