// config.go - Configuration for the shielded ledger CLI and daemon.
//
// Settings come from a JSON file (written with defaults on first run), then a .env file,
// then SHIELDED_* environment variables. Process environment wins over .env.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHIELDED_"

// Config represents the application configuration
type Config struct {
	// Storage
	DataDir        string `json:"data_dir" validate:"required"`
	StorageBackend string `json:"storage_backend" validate:"oneof=json sqlite pebble"`
	Hasher         string `json:"hasher" validate:"oneof=sha256 blake3 mimc"`

	// Daemon
	ListenAddr             string `json:"listen_addr" validate:"required,hostname_port"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" validate:"gt=0"`
	RateLimitTokens        int    `json:"rate_limit_tokens" validate:"gt=0"`
	RateLimitRefillSeconds int    `json:"rate_limit_refill_seconds" validate:"gt=0"`

	// Logging
	LogLevel   string `json:"log_level" validate:"oneof=debug info warn error fatal"`
	LogFile    string `json:"log_file"`
	LogConsole bool   `json:"log_console"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path" validate:"required_if=EnableAudit true"`

	// Default bounds for range proofs
	RangeMin uint64 `json:"range_min"`
	RangeMax uint64 `json:"range_max" validate:"gtefield=RangeMin"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:                "data",
		StorageBackend:         "json",
		Hasher:                 "sha256",
		ListenAddr:             "127.0.0.1:8080",
		ShutdownTimeoutSeconds: 10,
		RateLimitTokens:        100,
		RateLimitRefillSeconds: 1,
		LogLevel:               "info",
		LogFile:                "shielded.log",
		LogConsole:             true,
		EnableAudit:            true,
		AuditLogPath:           "audit.log",
		RangeMin:               0,
		RangeMax:               1_000_000_000,
	}
}

// Load reads configPath (creating it with defaults if absent), applies .env and
// environment overrides, and validates the result.
func Load(configPath string, envFiles ...string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	dotenv, err := ReadEnvFiles(envFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadEnvFiles parses .env files without touching the process environment.
// Missing files are skipped; later files override earlier ones.
func ReadEnvFiles(paths ...string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		vals, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", p, err)
		}
		for k, v := range vals {
			out[k] = v
		}
	}
	return out, nil
}

// ApplyEnv overrides fields from SHIELDED_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATA_DIR":        &c.DataDir,
		"STORAGE_BACKEND": &c.StorageBackend,
		"HASHER":          &c.Hasher,
		"LISTEN_ADDR":     &c.ListenAddr,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FILE":        &c.LogFile,
		"AUDIT_LOG_PATH":  &c.AuditLogPath,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"SHUTDOWN_TIMEOUT_SECONDS":  &c.ShutdownTimeoutSeconds,
		"RATE_LIMIT_TOKENS":         &c.RateLimitTokens,
		"RATE_LIMIT_REFILL_SECONDS": &c.RateLimitRefillSeconds,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	uints := map[string]*uint64{
		"RANGE_MIN": &c.RangeMin,
		"RANGE_MAX": &c.RangeMax,
	}
	for name, dst := range uints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"LOG_CONSOLE":  &c.LogConsole,
		"ENABLE_AUDIT": &c.EnableAudit,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}
	return nil
}

var validate = validator.New()

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", e.Field(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RefillInterval is the rate limiter refill period.
func (c *Config) RefillInterval() time.Duration {
	return time.Duration(c.RateLimitRefillSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown of the daemon.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DataPath joins name onto the data directory unless name is already absolute.
func (c *Config) DataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
