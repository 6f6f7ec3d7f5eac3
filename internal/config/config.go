package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/ledger"
)

// EnvPrefix namespaces the environment overlay, e.g. RISKLEDGER_DB_DSN.
const EnvPrefix = "RISKLEDGER"

const (
	DefaultListenAddr = ":8080"
	DefaultDBDriver   = "sqlite"
	DefaultDBDSN      = "file:riskledger.db?_txlock=immediate"
)

type Config struct {
	ListenAddr string     `yaml:"listen_addr"`
	DB         DBConfig   `yaml:"db"`
	Auth       AuthConfig `yaml:"auth"`
	Log        LogConfig  `yaml:"log"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	Strict     bool              `yaml:"strict"`
	Tokens     []auth.TokenEntry `yaml:"tokens"`
	TokensFile string            `yaml:"tokens_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverlay holds the RISKLEDGER_* variables. Unset variables leave the
// file value in place.
type envOverlay struct {
	ListenAddr string `envconfig:"LISTEN_ADDR"`
	DBDriver   string `envconfig:"DB_DRIVER"`
	DBDSN      string `envconfig:"DB_DSN"`
	AuthStrict string `envconfig:"AUTH_STRICT"`
	TokensFile string `envconfig:"TOKENS_FILE"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	LogFormat  string `envconfig:"LOG_FORMAT"`
}

func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		DB:         DBConfig{Driver: DefaultDBDriver, DSN: DefaultDBDSN},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional), then the environment overlay, then the tokens file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, fileCfg)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Auth.TokensFile != "" {
		entries, err := LoadTokensFile(cfg.Auth.TokensFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, entries...)
	}
	return cfg, cfg.Validate()
}

// LoadFile parses a YAML config file with ${VAR} expansion.
func LoadFile(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTokensFile reads a YAML list of {token, actor, role} entries.
func LoadTokensFile(path string) ([]auth.TokenEntry, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokens file: %w", err)
	}
	var entries []auth.TokenEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse tokens file: %w", err)
	}
	return entries, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	driver, err := ledger.ParseDriver(c.DB.Driver)
	if err != nil {
		return fmt.Errorf("db.driver: %w", err)
	}
	if driver != ledger.DBMemory && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver=%s", driver)
	}
	for i, e := range c.Auth.Tokens {
		if strings.TrimSpace(e.Token) == "" {
			return fmt.Errorf("auth.tokens[%d].token is required", i)
		}
		if _, err := auth.ParseRole(e.Role); err != nil {
			return fmt.Errorf("auth.tokens[%d]: %w", i, err)
		}
	}
	if c.Auth.Strict && len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("auth.strict=true requires at least one token")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("parsing env: %w", err)
	}
	cfg.ListenAddr = firstNonEmpty(env.ListenAddr, cfg.ListenAddr)
	cfg.DB.Driver = firstNonEmpty(env.DBDriver, cfg.DB.Driver)
	cfg.DB.DSN = firstNonEmpty(env.DBDSN, cfg.DB.DSN)
	cfg.Auth.TokensFile = firstNonEmpty(env.TokensFile, cfg.Auth.TokensFile)
	cfg.Log.Level = firstNonEmpty(env.LogLevel, cfg.Log.Level)
	cfg.Log.Format = firstNonEmpty(env.LogFormat, cfg.Log.Format)
	if env.AuthStrict != "" {
		strict, err := strconv.ParseBool(env.AuthStrict)
		if err != nil {
			return fmt.Errorf("%s_AUTH_STRICT: %w", EnvPrefix, err)
		}
		cfg.Auth.Strict = strict
	}
	return nil
}

func merge(base, file Config) Config {
	base.ListenAddr = firstNonEmpty(file.ListenAddr, base.ListenAddr)
	if file.DB.Driver != "" {
		// A file naming its own driver must not inherit the default DSN.
		base.DB = file.DB
	}
	base.DB.DSN = firstNonEmpty(file.DB.DSN, base.DB.DSN)
	base.Auth = file.Auth
	base.Log.Level = firstNonEmpty(file.Log.Level, base.Log.Level)
	base.Log.Format = firstNonEmpty(file.Log.Format, base.Log.Format)
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
