package adapter

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"simple", "orders", false},
		{"underscore start", "_staging", false},
		{"mixed case with digits", "Order2024", false},
		{"space allowed", "Order Details", false},
		{"dollar allowed", "col$1", false},
		{"hash allowed", "#temp", true}, // hash only mid-identifier
		{"hash mid", "tmp#1", false},
		{"empty", "", true},
		{"digit start", "1st", true},
		{"semicolon", "users;drop", true},
		{"quote", `na"me`, true},
		{"dash", "order-items", true},
		{"too long", strings.Repeat("a", 129), true},
		{"max length ok", strings.Repeat("a", 128), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ident)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.ident, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	good := ChunkRequest{
		Table:     Table{Schema: "public", Name: "orders"},
		PKColumns: []string{"id"},
		Columns:   []string{"id", "total"},
		Limit:     100,
	}

	if err := ValidateRequest(&good); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	bad := good
	bad.Columns = []string{"id", "total; drop table orders"}
	if err := ValidateRequest(&bad); err == nil {
		t.Error("expected error for injected column name")
	}

	bad = good
	bad.Table.Schema = "pub lic;--"
	if err := ValidateRequest(&bad); err == nil {
		t.Error("expected error for injected schema name")
	}

	bad = good
	bad.Filter = &TimeFilter{Column: "updated at'"}
	if err := ValidateRequest(&bad); err == nil {
		t.Error("expected error for injected filter column")
	}
}

func TestChunkRequestValidate(t *testing.T) {
	base := ChunkRequest{
		Table:     Table{Name: "t"},
		PKColumns: []string{"a", "b"},
		Columns:   []string{"a", "b", "c"},
		Limit:     10,
	}

	tests := []struct {
		name    string
		mutate  func(*ChunkRequest)
		wantErr bool
	}{
		{"valid", func(r *ChunkRequest) {}, false},
		{"no pk columns", func(r *ChunkRequest) { r.PKColumns = nil }, true},
		{"unbounded without end key", func(r *ChunkRequest) { r.Limit = 0 }, true},
		{"unbounded with end key", func(r *ChunkRequest) {
			r.Limit = 0
			r.EndKey = Key{1, 2}
		}, false},
		{"after key arity", func(r *ChunkRequest) { r.AfterKey = Key{1} }, true},
		{"end key arity", func(r *ChunkRequest) { r.EndKey = Key{1, 2, 3} }, true},
		{"pk missing from columns", func(r *ChunkRequest) { r.Columns = []string{"a", "c"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			err := req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
