package adapter

import "fmt"

// ValidateIdentifier checks if a database identifier (schema, table, column
// name) is safe to use in SQL queries. Returns an error if the identifier
// contains potentially dangerous characters that could enable SQL injection.
//
// Valid identifiers:
// - Start with letter or underscore
// - Contain only letters, digits, underscores, and spaces (spaces allowed for SQL Server)
// - Maximum length of 128 characters (SQL Server limit)
// - Not empty
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(name) > 128 {
		return fmt.Errorf("identifier too long: %d characters (max 128)", len(name))
	}

	first := rune(name[0])
	if !isValidIdentifierStart(first) {
		return fmt.Errorf("identifier must start with letter or underscore: %q", name)
	}

	for i, r := range name {
		if i == 0 {
			continue
		}
		if !isValidIdentifierChar(r) {
			return fmt.Errorf("identifier contains invalid character %q at position %d: %q", r, i, name)
		}
	}

	return nil
}

// ValidateRequest validates every identifier referenced by a chunk request.
func ValidateRequest(req *ChunkRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Table.Schema != "" {
		if err := ValidateIdentifier(req.Table.Schema); err != nil {
			return err
		}
	}
	if err := ValidateIdentifier(req.Table.Name); err != nil {
		return err
	}
	for _, c := range req.Columns {
		if err := ValidateIdentifier(c); err != nil {
			return err
		}
	}
	if req.Filter != nil {
		if err := ValidateIdentifier(req.Filter.Column); err != nil {
			return err
		}
	}
	return nil
}

func isValidIdentifierStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isValidIdentifierChar(r rune) bool {
	return isValidIdentifierStart(r) ||
		(r >= '0' && r <= '9') ||
		r == ' ' || // SQL Server allows spaces in identifiers
		r == '$' || // PostgreSQL allows $ in identifiers
		r == '#' // SQL Server allows # for temp tables
}
