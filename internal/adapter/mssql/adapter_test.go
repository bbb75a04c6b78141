package mssql

import (
	"database/sql"
	"errors"
	"testing"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/tdalton/dbrecon/internal/adapter"
)

func TestBuildChunkQuery(t *testing.T) {
	req := adapter.ChunkRequest{
		Table:     adapter.Table{Schema: "dbo", Name: "orders"},
		PKColumns: []string{"region", "id"},
		Columns:   []string{"region", "id", "total"},
		AfterKey:  adapter.Key{"east", int64(100)},
		Limit:     500,
	}

	query, args := buildChunkQuery(&req)

	want := "SELECT TOP 500 [region], [id], [total] FROM [dbo].[orders]" +
		" WHERE (([region] > @p1) OR ([region] = @p1 AND [id] > @p2))" +
		" ORDER BY [region], [id]"
	if query != want {
		t.Errorf("query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 2 {
		t.Fatalf("args = %v, want 2 named params", args)
	}
	p1, ok := args[0].(sql.NamedArg)
	if !ok || p1.Name != "p1" || p1.Value != "east" {
		t.Errorf("first arg = %#v", args[0])
	}
}

func TestBuildChunkQueryRange(t *testing.T) {
	req := adapter.ChunkRequest{
		Table:     adapter.Table{Schema: "dbo", Name: "orders"},
		PKColumns: []string{"id"},
		Columns:   []string{"id", "total"},
		AfterKey:  adapter.Key{int64(100)},
		EndKey:    adapter.Key{int64(200)},
	}

	query, args := buildChunkQuery(&req)

	want := "SELECT [id], [total] FROM [dbo].[orders]" +
		" WHERE (([id] > @p1)) AND (([id] <= @p2))" +
		" ORDER BY [id]"
	if query != want {
		t.Errorf("query =\n%s\nwant\n%s", query, want)
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want 2 named params", args)
	}
}

func TestExpandedKeyPredicateUpperBound(t *testing.T) {
	var args []any
	addArg := func(v any) string {
		args = append(args, v)
		switch len(args) {
		case 1:
			return "@p1"
		default:
			return "@p2"
		}
	}

	got := expandedKeyPredicate([]string{"[a]", "[b]"}, adapter.Key{1, 2}, "<=", addArg)
	want := "(([a] < @p1) OR ([a] = @p1 AND [b] <= @p2))"
	if got != want {
		t.Errorf("predicate = %s, want %s", got, want)
	}
}

func TestQuoteEscapesBrackets(t *testing.T) {
	if got := quote("na]me"); got != "[na]]me]" {
		t.Errorf("quote = %s", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		number int32
		want   error
	}{
		{"invalid object", 208, adapter.ErrTableNotFound},
		{"invalid column", 207, adapter.ErrColumnMismatch},
		{"permission denied", 229, adapter.ErrPermission},
		{"login failed", 18456, adapter.ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(mssqldb.Error{Number: tt.number, Message: tt.name})
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%d) = %v, want %v", tt.number, err, tt.want)
			}
		})
	}
}
