package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SnapshotConfig controls the headless-Chromium PNG capture of the widget page.
type SnapshotConfig struct {
	// Enabled turns on scheduled captures.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Schedule is a cron spec for scheduled captures (e.g. "*/5 * * * *").
	Schedule string `yaml:"schedule" json:"schedule"`
	// Output is where the PNG is written and served from /preview.png.
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	// Password is the plaintext basic-auth password the capture sends when
	// basic_auth only holds a password_hash.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	// PasswordHash is a bcrypt hash. It takes precedence over Password.
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// Enabled reports whether HTTP Basic Auth is configured. Blank credentials
// leave the API open.
func (b *BasicAuthConfig) Enabled() bool {
	return b != nil && b.Username != "" && (b.Password != "" || b.PasswordHash != "")
}

// Config is the top-level application configuration.
type Config struct {
	// BaseURL is the planner bot backend, e.g. "https://zgamelogic.com:2000".
	BaseURL string `yaml:"base_url" json:"base_url"`

	// LoginURL is the Discord OAuth authorize URL. When set, /login redirects
	// to it and the logged-out widget shows it as a QR code.
	LoginURL string `yaml:"login_url,omitempty" json:"login_url,omitempty"`

	// Listen is the HTTP listen address for the local UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for "today" and day grouping.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Poll is a cron spec for the fallback plan refresh.
	Poll string `yaml:"poll" json:"poll"`

	// VaultPath is the bbolt file holding the auth bundle and device id.
	VaultPath string `yaml:"vault_path" json:"vault_path"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultBaseURL   = "https://zgamelogic.com:2000"
	defaultListen    = "127.0.0.1:8080"
	defaultPoll      = "@every 15s"
	defaultVaultPath = "/var/lib/plannerbot/vault.db"
	defaultSnapshot  = "/var/lib/plannerbot/preview.png"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:   defaultBaseURL,
		Listen:    defaultListen,
		Timezone:  "",
		Poll:      defaultPoll,
		VaultPath: defaultVaultPath,
		LogLevel:  "info",
		LogFormat: "console",
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Schedule: "*/5 * * * *",
			Output:   defaultSnapshot,
			Width:    400,
			Height:   400,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Poll == "" {
		c.Poll = defaultPoll
	}
	if c.VaultPath == "" {
		c.VaultPath = defaultVaultPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		c.LogFormat = "console"
	}
	if c.Snapshot.Schedule == "" {
		c.Snapshot.Schedule = "*/5 * * * *"
	}
	if c.Snapshot.Output == "" {
		c.Snapshot.Output = defaultSnapshot
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = 400
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = 400
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".plannerbot-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// SnapshotCredentials returns the basic-auth credentials the widget capture
// must send. ok is false when basic auth is on but only a hash is known and
// no snapshot password is configured.
func (c *Config) SnapshotCredentials() (username, password string, ok bool) {
	ba := c.BasicAuth
	if !ba.Enabled() {
		return "", "", true
	}
	switch {
	case ba.Password != "":
		return ba.Username, ba.Password, true
	case c.Snapshot.Password != "":
		return ba.Username, c.Snapshot.Password, true
	default:
		return "", "", false
	}
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
