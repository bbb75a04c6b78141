package adapter

import (
	"context"
	"reflect"
	"testing"

	"github.com/tdalton/dbrecon/internal/dbconfig"
)

type stubFactory struct {
	opened *dbconfig.Config
}

func (f *stubFactory) Name() string          { return "stubdb" }
func (f *stubFactory) Aliases() []string     { return []string{"stub"} }
func (f *stubFactory) DefaultPort() int      { return 9999 }
func (f *stubFactory) DefaultSchema() string { return "main" }

func (f *stubFactory) New(cfg *dbconfig.Config) (Adapter, error) {
	f.opened = cfg
	return stubAdapter{}, nil
}

type stubAdapter struct{}

func (stubAdapter) Name() string { return "stubdb" }
func (stubAdapter) RowCount(context.Context, Table, *TimeFilter) (int64, error) {
	return 0, nil
}
func (stubAdapter) FetchChunk(context.Context, ChunkRequest) (*Chunk, error) { return nil, nil }
func (stubAdapter) ColumnMetadata(context.Context, Table) ([]Column, error)  { return nil, nil }
func (stubAdapter) Ping(context.Context) error                               { return nil }
func (stubAdapter) Close() error                                             { return nil }

func TestRegistryLookup(t *testing.T) {
	Register(&stubFactory{})

	for _, name := range []string{"stubdb", "stub", "STUB"} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q) failed: %v", name, err)
		}
	}
	if _, err := Lookup("oracle"); err == nil {
		t.Error("expected error for unregistered engine")
	}
}

func TestNewAppliesEngineDefaults(t *testing.T) {
	f := &stubFactory{}
	Register(f)

	cfg := &dbconfig.Config{
		Type:     "stubdb",
		Host:     "db.internal",
		Database: "app",
		User:     "reader",
	}
	if _, err := New(cfg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.opened.Port != 9999 {
		t.Errorf("port = %d, want factory default 9999", f.opened.Port)
	}
	if f.opened.Schema != "main" {
		t.Errorf("schema = %q, want factory default %q", f.opened.Schema, "main")
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	Register(&stubFactory{})

	cfg := &dbconfig.Config{Type: "stubdb", Host: "db.internal"}
	if _, err := New(cfg); err == nil {
		t.Error("expected validation error for config without database/user")
	}
}

func TestPKIndexes(t *testing.T) {
	got := PKIndexes([]string{"region", "id"}, []string{"id", "name", "region"})
	if want := []int{2, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("PKIndexes = %v, want %v", got, want)
	}
}

func TestTableFullName(t *testing.T) {
	if got := (Table{Schema: "dbo", Name: "orders"}).FullName(); got != "dbo.orders" {
		t.Errorf("FullName = %q", got)
	}
	if got := (Table{Name: "orders"}).FullName(); got != "orders" {
		t.Errorf("FullName without schema = %q", got)
	}
}
