// Package postgres provides the PostgreSQL connector adapter.
// It registers itself with the adapter registry on import.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/dbconfig"
	"github.com/tdalton/dbrecon/internal/logging"
)

func init() {
	adapter.Register(&Factory{})
}

// Factory implements adapter.Factory for PostgreSQL.
type Factory struct{}

func (f *Factory) Name() string          { return "postgres" }
func (f *Factory) Aliases() []string     { return []string{"postgresql", "pg"} }
func (f *Factory) DefaultPort() int      { return 5432 }
func (f *Factory) DefaultSchema() string { return "public" }

// New opens a pooled PostgreSQL adapter.
func (f *Factory) New(cfg *dbconfig.Config) (adapter.Adapter, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("pinging database: %w", err))
	}

	logging.Info("Connected to PostgreSQL: %s/%s", cfg.Addr(), cfg.Database)

	return &Adapter{pool: pool, config: cfg}, nil
}

// Adapter implements adapter.Adapter for PostgreSQL.
type Adapter struct {
	pool   *pgxpool.Pool
	config *dbconfig.Config
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "postgres" }

// Ping verifies the connection.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the pool.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

// RowCount returns the table's row count, excluding filtered rows.
func (a *Adapter) RowCount(ctx context.Context, table adapter.Table, filter *adapter.TimeFilter) (int64, error) {
	if err := adapter.ValidateIdentifier(table.Name); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", qualify(table))
	var args []any
	if filter != nil {
		if err := adapter.ValidateIdentifier(filter.Column); err != nil {
			return 0, err
		}
		query += fmt.Sprintf(" WHERE %s < $1", quote(filter.Column))
		args = append(args, filter.Before)
	}

	var count int64
	if err := a.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table.FullName(), classify(err))
	}
	return count, nil
}

// FetchChunk returns one key-ordered page using tuple keyset predicates.
func (a *Adapter) FetchChunk(ctx context.Context, req adapter.ChunkRequest) (*adapter.Chunk, error) {
	if err := adapter.ValidateRequest(&req); err != nil {
		return nil, err
	}

	query, args := buildChunkQuery(&req)
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk of %s: %w", req.Table.FullName(), classify(err))
	}
	defer rows.Close()

	pkIdx := adapter.PKIndexes(req.PKColumns, req.Columns)
	chunk := &adapter.Chunk{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", classify(err))
		}
		chunk.Rows = append(chunk.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetching chunk of %s: %w", req.Table.FullName(), classify(err))
	}

	if n := len(chunk.Rows); n > 0 {
		last := chunk.Rows[n-1]
		key := make(adapter.Key, len(pkIdx))
		for i, idx := range pkIdx {
			key[i] = last[idx]
		}
		chunk.LastKey = key
	}
	return chunk, nil
}

// ColumnMetadata returns the table's columns from the catalog.
func (a *Adapter) ColumnMetadata(ctx context.Context, table adapter.Table) ([]adapter.Column, error) {
	query := `
		SELECT column_name, data_type,
		       COALESCE(numeric_precision, 0),
		       COALESCE(numeric_scale, 0),
		       CASE WHEN is_nullable = 'YES' THEN true ELSE false END,
		       ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := a.pool.Query(ctx, query, table.Schema, table.Name)
	if err != nil {
		return nil, fmt.Errorf("loading columns for %s: %w", table.FullName(), classify(err))
	}
	defer rows.Close()

	var cols []adapter.Column
	for rows.Next() {
		var c adapter.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Precision, &c.Scale, &c.IsNullable, &c.OrdinalPos); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: %w", table.FullName(), adapter.ErrTableNotFound)
	}
	return cols, nil
}

// buildChunkQuery builds the keyset page query. PostgreSQL supports row
// value comparison, so composite keys use a single tuple predicate.
func buildChunkQuery(req *adapter.ChunkRequest) (string, []any) {
	var sb strings.Builder
	var args []any

	cols := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = quote(c)
	}
	pks := make([]string, len(req.PKColumns))
	for i, c := range req.PKColumns {
		pks[i] = quote(c)
	}
	keyTuple := "(" + strings.Join(pks, ", ") + ")"

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(qualify(req.Table))

	var preds []string
	placeholder := func() string {
		return fmt.Sprintf("$%d", len(args))
	}
	tuplePlaceholders := func(key adapter.Key) string {
		ps := make([]string, len(key))
		for i, v := range key {
			args = append(args, v)
			ps[i] = placeholder()
		}
		return "(" + strings.Join(ps, ", ") + ")"
	}

	if req.AfterKey != nil {
		preds = append(preds, keyTuple+" > "+tuplePlaceholders(req.AfterKey))
	}
	if req.EndKey != nil {
		preds = append(preds, keyTuple+" <= "+tuplePlaceholders(req.EndKey))
	}
	if req.Filter != nil {
		args = append(args, req.Filter.Before)
		preds = append(preds, quote(req.Filter.Column)+" < "+placeholder())
	}
	if len(preds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(pks, ", "))

	if req.Limit > 0 {
		args = append(args, req.Limit)
		sb.WriteString(" LIMIT " + placeholder())
	}

	return sb.String(), args
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualify(t adapter.Table) string {
	if t.Schema == "" {
		return quote(t.Name)
	}
	return quote(t.Schema) + "." + quote(t.Name)
}

// classify maps PostgreSQL error codes onto the adapter's sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01":
			return fmt.Errorf("%w: %s", adapter.ErrTableNotFound, pgErr.Message)
		case pgErr.Code == "42703":
			return fmt.Errorf("%w: %s", adapter.ErrColumnMismatch, pgErr.Message)
		case pgErr.Code == "42501" || strings.HasPrefix(pgErr.Code, "28"):
			return fmt.Errorf("%w: %s", adapter.ErrPermission, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %s", adapter.ErrConnection, pgErr.Message)
		}
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || isConnectionString(err) {
		return fmt.Errorf("%w: %v", adapter.ErrConnection, err)
	}
	return err
}

func isConnectionString(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected EOF")
}
