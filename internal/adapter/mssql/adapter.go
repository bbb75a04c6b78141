// Package mssql provides the SQL Server connector adapter.
// It registers itself with the adapter registry on import.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/dbconfig"
	"github.com/tdalton/dbrecon/internal/logging"
)

func init() {
	adapter.Register(&Factory{})
}

// Factory implements adapter.Factory for SQL Server.
type Factory struct{}

func (f *Factory) Name() string          { return "mssql" }
func (f *Factory) Aliases() []string     { return []string{"sqlserver", "sql-server"} }
func (f *Factory) DefaultPort() int      { return 1433 }
func (f *Factory) DefaultSchema() string { return "dbo" }

// New opens a SQL Server adapter.
func (f *Factory) New(cfg *dbconfig.Config) (adapter.Adapter, error) {
	query := url.Values{}
	query.Set("database", cfg.Database)
	if cfg.TrustServerCert {
		query.Set("TrustServerCertificate", "true")
	}

	dsn := (&url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Addr(),
		RawQuery: query.Encode(),
	}).String()

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify(fmt.Errorf("pinging database: %w", err))
	}

	logging.Info("Connected to SQL Server: %s/%s", cfg.Addr(), cfg.Database)

	return &Adapter{db: db, config: cfg}, nil
}

// Adapter implements adapter.Adapter for SQL Server.
type Adapter struct {
	db     *sql.DB
	config *dbconfig.Config
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "mssql" }

// Ping verifies the connection.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases all connections.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// RowCount returns the table's row count, excluding filtered rows.
// COUNT_BIG keeps the count exact for tables beyond int32 range.
func (a *Adapter) RowCount(ctx context.Context, table adapter.Table, filter *adapter.TimeFilter) (int64, error) {
	if err := adapter.ValidateIdentifier(table.Name); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", qualify(table))
	var args []any
	if filter != nil {
		if err := adapter.ValidateIdentifier(filter.Column); err != nil {
			return 0, err
		}
		query += fmt.Sprintf(" WHERE %s < @cutoff", quote(filter.Column))
		args = append(args, sql.Named("cutoff", filter.Before))
	}

	var count int64
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table.FullName(), classify(err))
	}
	return count, nil
}

// FetchChunk returns one key-ordered page. SQL Server has no row value
// comparison, so composite keyset predicates are expanded into the
// equivalent OR form.
func (a *Adapter) FetchChunk(ctx context.Context, req adapter.ChunkRequest) (*adapter.Chunk, error) {
	if err := adapter.ValidateRequest(&req); err != nil {
		return nil, err
	}

	query, args := buildChunkQuery(&req)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk of %s: %w", req.Table.FullName(), classify(err))
	}
	defer rows.Close()

	chunk, err := adapter.ScanChunk(rows, len(req.Columns), adapter.PKIndexes(req.PKColumns, req.Columns))
	if err != nil {
		return nil, fmt.Errorf("fetching chunk of %s: %w", req.Table.FullName(), classify(err))
	}
	return chunk, nil
}

// ColumnMetadata returns the table's columns from INFORMATION_SCHEMA.
func (a *Adapter) ColumnMetadata(ctx context.Context, table adapter.Table) ([]adapter.Column, error) {
	query := `
		SELECT COLUMN_NAME, DATA_TYPE,
		       ISNULL(NUMERIC_PRECISION, 0),
		       ISNULL(NUMERIC_SCALE, 0),
		       CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
		       ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`
	rows, err := a.db.QueryContext(ctx, query,
		sql.Named("schema", table.Schema),
		sql.Named("table", table.Name))
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

// buildChunkQuery builds the keyset page query using named parameters.
func buildChunkQuery(req *adapter.ChunkRequest) (string, []any) {
	var sb strings.Builder
	var args []any
	param := 0

	addArg := func(v any) string {
		param++
		name := fmt.Sprintf("p%d", param)
		args = append(args, sql.Named(name, v))
		return "@" + name
	}

	cols := make([]string, len(req.Columns))
	for i, c := range req.Columns {
		cols[i] = quote(c)
	}
	pks := make([]string, len(req.PKColumns))
	for i, c := range req.PKColumns {
		pks[i] = quote(c)
	}

	sb.WriteString("SELECT ")
	if req.Limit > 0 {
		sb.WriteString(fmt.Sprintf("TOP %d ", req.Limit))
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(qualify(req.Table))

	var preds []string
	if req.AfterKey != nil {
		preds = append(preds, expandedKeyPredicate(pks, req.AfterKey, ">", addArg))
	}
	if req.EndKey != nil {
		preds = append(preds, expandedKeyPredicate(pks, req.EndKey, "<=", addArg))
	}
	if req.Filter != nil {
		preds = append(preds, quote(req.Filter.Column)+" < "+addArg(req.Filter.Before))
	}
	if len(preds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(pks, ", "))

	return sb.String(), args
}

// expandedKeyPredicate builds the OR expansion of a tuple comparison:
// (a,b) > (x,y) becomes (a > x) OR (a = x AND b > y). For "<=" the last
// element's comparison keeps the equality.
func expandedKeyPredicate(pks []string, key adapter.Key, op string, addArg func(any) string) string {
	params := make([]string, len(key))
	for i, v := range key {
		params[i] = addArg(v)
	}

	var branches []string
	for i := range pks {
		var parts []string
		for j := 0; j < i; j++ {
			parts = append(parts, pks[j]+" = "+params[j])
		}
		cmp := op
		if op == "<=" && i < len(pks)-1 {
			cmp = "<"
		}
		parts = append(parts, pks[i]+" "+cmp+" "+params[i])
		branches = append(branches, "("+strings.Join(parts, " AND ")+")")
	}
	return "(" + strings.Join(branches, " OR ") + ")"
}

func quote(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func qualify(t adapter.Table) string {
	if t.Schema == "" {
		return quote(t.Name)
	}
	return quote(t.Schema) + "." + quote(t.Name)
}

// classify maps SQL Server error numbers onto the adapter's sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case 208: // invalid object name
			return fmt.Errorf("%w: %s", adapter.ErrTableNotFound, sqlErr.Message)
		case 207: // invalid column name
			return fmt.Errorf("%w: %s", adapter.ErrColumnMismatch, sqlErr.Message)
		case 229, 230, 300, 18456: // permission denied / login failed
			return fmt.Errorf("%w: %s", adapter.ErrPermission, sqlErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", adapter.ErrConnection, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unable to open tcp connection") {
		return fmt.Errorf("%w: %v", adapter.ErrConnection, err)
	}
	return err
}
