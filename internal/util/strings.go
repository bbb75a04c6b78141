// Package util provides shared utility functions used across the codebase.
package util

import (
	"fmt"
	"strings"
)

// SplitCSV splits a comma-separated string into a slice, trimming whitespace.
// Returns nil for empty strings.
func SplitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// ParseTablePair parses a "source=target" table mapping. A bare name maps
// the table to itself ("dbo.orders" is shorthand for "dbo.orders=dbo.orders").
func ParseTablePair(s string) (source, target string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", fmt.Errorf("empty table mapping")
	}
	parts := strings.SplitN(s, "=", 2)
	source = strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		target = source
	} else {
		target = strings.TrimSpace(parts[1])
	}
	if source == "" || target == "" {
		return "", "", fmt.Errorf("invalid table mapping %q", s)
	}
	return source, target, nil
}

// SplitQualified splits "schema.table" into its parts. A name without a dot
// is returned with an empty schema.
func SplitQualified(name string) (schema, table string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}
