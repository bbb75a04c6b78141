// Package dbconfig provides database connection settings shared by the
// config, secrets, and adapter packages. It exists to break the circular
// import between config and adapter.
package dbconfig

import (
	"fmt"
	"strings"
)

// Config holds connection settings for one side of a reconciliation run.
// The same shape serves every supported engine; engine-specific fields are
// ignored by adapters that do not use them.
type Config struct {
	Type            string `yaml:"type"` // "postgres", "mssql", or "mysql"
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Schema          string `yaml:"schema"`
	SSLMode         string `yaml:"ssl_mode"`          // postgres: disable, require, verify-ca, verify-full
	TrustServerCert bool   `yaml:"trust_server_cert"` // mssql: trust server certificate
	MaxConns        int    `yaml:"max_conns"`         // per-adapter connection cap (0 = default)
}

// Addr returns "host:port" for log output. Credentials are never included.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the settings are complete enough to open a connection.
// Passwords are checked by the credential provider, not here.
func (c *Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("database type is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	return nil
}

// NormalizeType maps engine aliases to canonical adapter names.
func NormalizeType(t string) string {
	switch strings.ToLower(t) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mssql", "sqlserver", "sql-server":
		return "mssql"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return strings.ToLower(t)
	}
}
