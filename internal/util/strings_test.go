package util

import (
	"reflect"
	"testing"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b ,c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{",,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SplitCSV(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("SplitCSV(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseTablePair(t *testing.T) {
	tests := []struct {
		input      string
		wantSource string
		wantTarget string
		wantErr    bool
	}{
		{"dbo.orders=public.orders", "dbo.orders", "public.orders", false},
		{"dbo.orders", "dbo.orders", "dbo.orders", false},
		{" dbo.orders = public.orders ", "dbo.orders", "public.orders", false},
		{"", "", "", true},
		{"=public.orders", "", "", true},
		{"dbo.orders=", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			source, target, err := ParseTablePair(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTablePair(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTablePair(%q) unexpected error: %v", tt.input, err)
			}
			if source != tt.wantSource || target != tt.wantTarget {
				t.Errorf("ParseTablePair(%q) = (%q, %q), want (%q, %q)",
					tt.input, source, target, tt.wantSource, tt.wantTarget)
			}
		})
	}
}

func TestSplitQualified(t *testing.T) {
	tests := []struct {
		input      string
		wantSchema string
		wantTable  string
	}{
		{"dbo.orders", "dbo", "orders"},
		{"orders", "", "orders"},
		{"db.schema.orders", "db.schema", "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			schema, table := SplitQualified(tt.input)
			if schema != tt.wantSchema || table != tt.wantTable {
				t.Errorf("SplitQualified(%q) = (%q, %q), want (%q, %q)",
					tt.input, schema, table, tt.wantSchema, tt.wantTable)
			}
		})
	}
}
