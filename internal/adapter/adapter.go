// Package adapter provides pluggable table connector adapters.
// Each engine (PostgreSQL, MSSQL, MySQL) implements the Adapter interface
// in its own package and registers itself on import, keeping the
// comparison engine free of engine-specific code.
package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tdalton/dbrecon/internal/dbconfig"
)

// Table identifies a table on one side of a comparison.
type Table struct {
	Schema string
	Name   string
}

// FullName returns the qualified table name (schema.table).
func (t Table) FullName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column describes a table column as reported by the engine's catalog.
type Column struct {
	Name       string
	DataType   string
	Precision  int
	Scale      int
	IsNullable bool
	OrdinalPos int
}

// TimeFilter excludes rows at or after Before, based on Column.
// It implements the tolerance window: rows too recent to have been
// replicated yet are left out of the comparison on both sides.
type TimeFilter struct {
	Column string
	Before time.Time
}

// ChunkRequest describes one key-ordered page of a table.
//
// Pagination is strictly key-based: AfterKey is the exclusive lower bound
// (nil means from the start), EndKey the optional inclusive upper bound
// used when re-fetching a flagged chunk's exact range. Offset pagination
// is deliberately not part of the contract; it double-counts or skips rows
// when the table mutates between pages.
type ChunkRequest struct {
	Table     Table
	PKColumns []string
	Columns   []string // must include PKColumns
	AfterKey  Key
	EndKey    Key
	Limit     int // 0 = no limit (only valid with EndKey set)
	Filter    *TimeFilter
}

// Validate checks the request invariants shared by all engines.
func (r *ChunkRequest) Validate() error {
	if len(r.PKColumns) == 0 {
		return fmt.Errorf("primary key columns are required")
	}
	if r.Limit <= 0 && r.EndKey == nil {
		return fmt.Errorf("unbounded fetch requires an end key")
	}
	if r.AfterKey != nil && len(r.AfterKey) != len(r.PKColumns) {
		return fmt.Errorf("after key has %d values for %d pk columns", len(r.AfterKey), len(r.PKColumns))
	}
	if r.EndKey != nil && len(r.EndKey) != len(r.PKColumns) {
		return fmt.Errorf("end key has %d values for %d pk columns", len(r.EndKey), len(r.PKColumns))
	}
	for _, c := range r.PKColumns {
		if !contains(r.Columns, c) {
			return fmt.Errorf("pk column %q missing from requested columns", c)
		}
	}
	return nil
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// Chunk is one fetched page. Rows holds values in the order of
// ChunkRequest.Columns; LastKey is the primary key of the final row
// (nil when the page is empty).
type Chunk struct {
	Rows    [][]any
	LastKey Key
}

// Adapter is the read-only contract the comparison engine is written
// against. Implementations must be safe for use by a single worker;
// workers never share an adapter instance.
type Adapter interface {
	// Name returns the engine name (e.g. "postgres").
	Name() string

	// RowCount returns the number of rows in the table, excluding rows
	// that match the tolerance filter when one is given.
	RowCount(ctx context.Context, table Table, filter *TimeFilter) (int64, error)

	// FetchChunk returns one key-ordered page of rows.
	FetchChunk(ctx context.Context, req ChunkRequest) (*Chunk, error)

	// ColumnMetadata returns the table's columns in ordinal order.
	ColumnMetadata(ctx context.Context, table Table) ([]Column, error)

	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error

	// Close releases all connections.
	Close() error
}

// Factory creates adapters for one engine.
//
// To add a new engine:
// 1. Create a package under internal/adapter/<engine>/
// 2. Implement Factory and Adapter
// 3. Register via init(): adapter.Register(&Factory{})
type Factory interface {
	// Name returns the primary engine name.
	Name() string

	// Aliases returns alternative names for this engine.
	Aliases() []string

	// DefaultPort returns the engine's default port.
	DefaultPort() int

	// DefaultSchema returns the engine's default schema.
	DefaultSchema() string

	// New opens an adapter for the given connection settings.
	New(cfg *dbconfig.Config) (Adapter, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory to the registry under its name and aliases.
// Called from engine package init functions.
func Register(f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f.Name()] = f
	for _, alias := range f.Aliases() {
		registry[alias] = f
	}
}

// Lookup returns the factory for an engine name or alias.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown database type %q (registered: %s)", name, strings.Join(registeredLocked(), ", "))
	}
	return f, nil
}

// New opens an adapter for the configured engine, applying engine defaults
// for port and schema when they are unset.
func New(cfg *dbconfig.Config) (Adapter, error) {
	f, err := Lookup(dbconfig.NormalizeType(cfg.Type))
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = f.DefaultPort()
	}
	if cfg.Schema == "" {
		cfg.Schema = f.DefaultSchema()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s config: %w", f.Name(), err)
	}
	return f.New(cfg)
}

// Registered returns the primary names of all registered engines, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registeredLocked()
}

func registeredLocked() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range registry {
		if !seen[f.Name()] {
			seen[f.Name()] = true
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	return names
}
