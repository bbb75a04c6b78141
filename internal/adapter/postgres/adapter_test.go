package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tdalton/dbrecon/internal/adapter"
)

func TestBuildChunkQuery(t *testing.T) {
	req := adapter.ChunkRequest{
		Table:     adapter.Table{Schema: "public", Name: "orders"},
		PKColumns: []string{"region", "id"},
		Columns:   []string{"region", "id", "total"},
		AfterKey:  adapter.Key{"east", int64(100)},
		Limit:     500,
	}

	query, args := buildChunkQuery(&req)

	want := `SELECT "region", "id", "total" FROM "public"."orders"` +
		` WHERE ("region", "id") > ($1, $2)` +
		` ORDER BY "region", "id" LIMIT $3`
	if query != want {
		t.Errorf("query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 3 || args[0] != "east" || args[1] != int64(100) || args[2] != 500 {
		t.Errorf("args = %v", args)
	}
}

func TestBuildChunkQueryRange(t *testing.T) {
	req := adapter.ChunkRequest{
		Table:     adapter.Table{Schema: "public", Name: "orders"},
		PKColumns: []string{"id"},
		Columns:   []string{"id", "total"},
		AfterKey:  adapter.Key{int64(100)},
		EndKey:    adapter.Key{int64(200)},
	}

	query, args := buildChunkQuery(&req)

	want := `SELECT "id", "total" FROM "public"."orders"` +
		` WHERE ("id") > ($1) AND ("id") <= ($2)` +
		` ORDER BY "id"`
	if query != want {
		t.Errorf("query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want 2 values", args)
	}
}

func TestBuildChunkQueryFirstPage(t *testing.T) {
	req := adapter.ChunkRequest{
		Table:     adapter.Table{Name: "orders"},
		PKColumns: []string{"id"},
		Columns:   []string{"id"},
		Limit:     10,
	}

	query, args := buildChunkQuery(&req)

	want := `SELECT "id" FROM "orders" ORDER BY "id" LIMIT $1`
	if query != want {
		t.Errorf("query = %s", query)
	}
	if len(args) != 1 || args[0] != 10 {
		t.Errorf("args = %v", args)
	}
}

func TestQuoteEscapesEmbeddedQuotes(t *testing.T) {
	if got := quote(`na"me`); got != `"na""me"` {
		t.Errorf("quote = %s", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"undefined table", "42P01", adapter.ErrTableNotFound},
		{"undefined column", "42703", adapter.ErrColumnMismatch},
		{"insufficient privilege", "42501", adapter.ErrPermission},
		{"auth failure", "28P01", adapter.ErrPermission},
		{"connection failure", "08006", adapter.ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&pgconn.PgError{Code: tt.code, Message: tt.name})
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%s) = %v, want %v", tt.code, err, tt.want)
			}
		})
	}

	plain := errors.New("syntax error")
	if got := classify(plain); !errors.Is(got, plain) {
		t.Errorf("plain error rewritten: %v", got)
	}
}
