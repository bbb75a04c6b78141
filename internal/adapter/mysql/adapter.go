// Package mysql provides the MySQL/MariaDB connector adapter.
// It registers itself with the adapter registry on import.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/dbconfig"
	"github.com/tdalton/dbrecon/internal/logging"
)

func init() {
	adapter.Register(&Factory{})
}

// Factory implements adapter.Factory for MySQL and MariaDB.
type Factory struct{}

func (f *Factory) Name() string      { return "mysql" }
func (f *Factory) Aliases() []string { return []string{"mariadb"} }
func (f *Factory) DefaultPort() int  { return 3306 }

// DefaultSchema is empty for MySQL; the database named in the DSN is the
// schema.
func (f *Factory) DefaultSchema() string { return "" }

// New opens a MySQL adapter.
func (f *Factory) New(cfg *dbconfig.Config) (adapter.Adapter, error) {
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("loc", "UTC")
	params.Set("charset", "utf8mb4")
	switch strings.ToLower(cfg.SSLMode) {
	case "disable", "disabled":
		params.Set("tls", "false")
	case "require", "required":
		params.Set("tls", "true")
	case "":
		params.Set("tls", "preferred")
	default:
		params.Set("tls", "preferred")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database, params.Encode())

	db, err := sql.Open("mysql", dsn)
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

	var version string
	if err := db.QueryRow("SELECT VERSION()").Scan(&version); err != nil {
		logging.Debug("Server version query failed: %v", err)
	}
	logging.Info("Connected to %s: %s/%s", detectEngine(version), cfg.Addr(), cfg.Database)

	return &Adapter{db: db, config: cfg}, nil
}

// detectEngine tells MariaDB apart from MySQL by the server version string.
func detectEngine(version string) string {
	if strings.Contains(strings.ToLower(version), "mariadb") {
		return "MariaDB"
	}
	return "MySQL"
}

// Adapter implements adapter.Adapter for MySQL.
type Adapter struct {
	db     *sql.DB
	config *dbconfig.Config
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "mysql" }

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
func (a *Adapter) RowCount(ctx context.Context, table adapter.Table, filter *adapter.TimeFilter) (int64, error) {
	if err := adapter.ValidateIdentifier(table.Name); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", a.qualify(table))
	var args []any
	if filter != nil {
		if err := adapter.ValidateIdentifier(filter.Column); err != nil {
			return 0, err
		}
		query += fmt.Sprintf(" WHERE %s < ?", quote(filter.Column))
		args = append(args, filter.Before)
	}

	var count int64
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table.FullName(), classify(err))
	}
	return count, nil
}

// FetchChunk returns one key-ordered page using tuple keyset predicates,
// which MySQL supports natively.
func (a *Adapter) FetchChunk(ctx context.Context, req adapter.ChunkRequest) (*adapter.Chunk, error) {
	if err := adapter.ValidateRequest(&req); err != nil {
		return nil, err
	}

	query, args := a.buildChunkQuery(&req)
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

// ColumnMetadata returns the table's columns from information_schema.
func (a *Adapter) ColumnMetadata(ctx context.Context, table adapter.Table) ([]adapter.Column, error) {
	schema := table.Schema
	if schema == "" {
		schema = a.config.Database
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE,
		       IFNULL(NUMERIC_PRECISION, 0),
		       IFNULL(NUMERIC_SCALE, 0),
		       CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
		       ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, schema, table.Name)
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

func (a *Adapter) buildChunkQuery(req *adapter.ChunkRequest) (string, []any) {
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
	sb.WriteString(a.qualify(req.Table))

	var preds []string
	tuplePlaceholders := func(key adapter.Key) string {
		ps := make([]string, len(key))
		for i, v := range key {
			args = append(args, v)
			ps[i] = "?"
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
		preds = append(preds, quote(req.Filter.Column)+" < ?")
		args = append(args, req.Filter.Before)
	}
	if len(preds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(preds, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(pks, ", "))

	if req.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, req.Limit)
	}

	return sb.String(), args
}

func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (a *Adapter) qualify(t adapter.Table) string {
	if t.Schema == "" {
		return quote(t.Name)
	}
	return quote(t.Schema) + "." + quote(t.Name)
}

// classify maps MySQL error numbers onto the adapter's sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1146: // table doesn't exist
			return fmt.Errorf("%w: %s", adapter.ErrTableNotFound, myErr.Message)
		case 1054: // unknown column
			return fmt.Errorf("%w: %s", adapter.ErrColumnMismatch, myErr.Message)
		case 1044, 1045, 1142: // access denied
			return fmt.Errorf("%w: %s", adapter.ErrPermission, myErr.Message)
		}
		return err
	}

	if errors.Is(err, gomysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", adapter.ErrConnection, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", adapter.ErrConnection, err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%w: %v", adapter.ErrConnection, err)
	}
	return err
}
