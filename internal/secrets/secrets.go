// Package secrets loads database credentials and notification settings
// from a YAML file outside the repository. Credentials are never taken
// from flags or the run configuration, and the engine never writes them
// anywhere.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tdalton/dbrecon/internal/dbconfig"
)

// EnvFile overrides the default secrets file location.
const EnvFile = "DBRECON_SECRETS_FILE"

const defaultFileName = "dbrecon-config.yaml"

// ErrSecretUnavailable indicates credentials could not be loaded. It is
// never retried; the run fails immediately with the cause.
var ErrSecretUnavailable = errors.New("secret unavailable")

// DBSecret holds the connection settings for one database role.
type DBSecret struct {
	Type            string `yaml:"type"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Schema          string `yaml:"schema"`
	SSLMode         string `yaml:"sslmode"`
	TrustServerCert bool   `yaml:"trust_server_certificate"`
	MaxConns        int    `yaml:"max_connections"`
}

// SlackConfig configures the optional Slack notifier.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// Config is the parsed secrets file.
type Config struct {
	Source DBSecret    `yaml:"source"`
	Target DBSecret    `yaml:"target"`
	Slack  SlackConfig `yaml:"slack"`
}

// DefaultPath returns the secrets file location: the EnvFile override
// when set, otherwise ~/.secrets/dbrecon-config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvFile); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".secrets", defaultFileName), nil
}

// Load reads and validates the secrets file. The file must not be
// readable by group or other; a permissive mode is refused outright
// rather than warned about.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist (run init-secrets to create it)", ErrSecretUnavailable, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrSecretUnavailable, path, err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %04o, must be 0600", ErrSecretUnavailable, path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSecretUnavailable, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrSecretUnavailable, path, err)
	}
	return &cfg, nil
}

// Role returns the named side's credentials.
func (c *Config) Role(role string) (*DBSecret, error) {
	var s *DBSecret
	switch role {
	case "source":
		s = &c.Source
	case "target":
		s = &c.Target
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if s.Host == "" || s.Database == "" || s.Type == "" {
		return nil, fmt.Errorf("%w: role %q is missing type, host, or database", ErrSecretUnavailable, role)
	}
	return s, nil
}

// DBConfig converts a secret into the adapter connection config.
func (s *DBSecret) DBConfig() *dbconfig.Config {
	return &dbconfig.Config{
		Type:            dbconfig.NormalizeType(s.Type),
		Host:            s.Host,
		Port:            s.Port,
		Database:        s.Database,
		User:            s.User,
		Password:        s.Password,
		Schema:          s.Schema,
		SSLMode:         s.SSLMode,
		TrustServerCert: s.TrustServerCert,
		MaxConns:        s.MaxConns,
	}
}

const template = `# dbrecon credentials. Keep this file mode 0600.
source:
  type: postgres            # postgres | mssql | mysql
  host: localhost
  port: 5432
  database: appdb
  user: recon_reader
  password: ""
  schema: public
  sslmode: disable

target:
  type: mssql
  host: localhost
  port: 1433
  database: appdb
  user: recon_reader
  password: ""
  schema: dbo
  trust_server_certificate: true

slack:
  webhook_url: ""
  channel: ""
`

// WriteTemplate creates a starter secrets file with restrictive
// permissions. Refuses to overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(template), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
