package server

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/miravalier/tabletop/pkg/blob"
	"github.com/miravalier/tabletop/pkg/database"
	"github.com/miravalier/tabletop/pkg/identity"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TABLETOP_"

// TOMLConfig represents the structure of the server config file. Every field
// can be overridden by an environment variable, e.g. TABLETOP_SERVER_HTTP_PORT.
type TOMLConfig struct {
	Server   ServerSection   `toml:"server" envPrefix:"SERVER_"`
	Database DatabaseSection `toml:"database" envPrefix:"DATABASE_"`
	Storage  StorageSection  `toml:"storage" envPrefix:"STORAGE_"`
	Auth     AuthSection     `toml:"auth" envPrefix:"AUTH_"`
	Limits   LimitsSection   `toml:"limits" envPrefix:"LIMITS_"`
}

type ServerSection struct {
	ListenAddr    string   `toml:"listen_addr" env:"LISTEN_ADDR"`
	HTTPPort      int      `toml:"http_port" env:"HTTP_PORT"`
	TLSCert       string   `toml:"tls_cert" env:"TLS_CERT"`
	TLSKey        string   `toml:"tls_key" env:"TLS_KEY"`
	AutocertHosts []string `toml:"autocert_hosts" env:"AUTOCERT_HOSTS"`
	AutocertCache string   `toml:"autocert_cache" env:"AUTOCERT_CACHE"`
}

type DatabaseSection struct {
	Driver string `toml:"driver" env:"DRIVER"`
	Path   string `toml:"path" env:"PATH"`
	DSN    string `toml:"dsn" env:"DSN"`
}

type StorageSection struct {
	Backend     string `toml:"backend" env:"BACKEND"`
	UploadRoot  string `toml:"upload_root" env:"UPLOAD_ROOT"`
	S3Bucket    string `toml:"s3_bucket" env:"S3_BUCKET"`
	S3Region    string `toml:"s3_region" env:"S3_REGION"`
	S3Endpoint  string `toml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3AccessKey string `toml:"s3_access_key" env:"S3_ACCESS_KEY"`
	S3SecretKey string `toml:"s3_secret_key" env:"S3_SECRET_KEY"`
}

type AuthSection struct {
	Audience      string   `toml:"audience" env:"AUDIENCE"`
	Issuers       []string `toml:"issuers" env:"ISSUERS"`
	HMACSecret    string   `toml:"hmac_secret" env:"HMAC_SECRET"`
	PublicKeyPath string   `toml:"public_key_path" env:"PUBLIC_KEY_PATH"`
}

type LimitsSection struct {
	MaxChunkCount        int   `toml:"max_chunk_count" env:"MAX_CHUNK_COUNT"`
	AccountCacheSize     int   `toml:"account_cache_size" env:"ACCOUNT_CACHE_SIZE"`
	HistoryLimit         int   `toml:"history_limit" env:"HISTORY_LIMIT"`
	TransferTTLSeconds   int   `toml:"transfer_ttl_seconds" env:"TRANSFER_TTL_SECONDS"`
	TransferSweepSeconds int   `toml:"transfer_sweep_seconds" env:"TRANSFER_SWEEP_SECONDS"`
	MaxFrameBytes        int64 `toml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:      8765,
			AutocertCache: "~/.tabletop/autocert",
		},
		Database: DatabaseSection{
			Driver: database.DriverSQLite,
			Path:   "~/.tabletop/tabletop.db",
		},
		Storage: StorageSection{
			Backend:    blob.BackendFS,
			UploadRoot: "~/.tabletop/uploads",
			S3Region:   "us-east-1",
		},
		Auth: AuthSection{
			Issuers: slices.Clone(identity.DefaultIssuers),
		},
		Limits: LimitsSection{
			MaxChunkCount:        160,
			AccountCacheSize:     64,
			HistoryLimit:         100,
			TransferTTLSeconds:   120,
			TransferSweepSeconds: 30,
			MaxFrameBytes:        1 << 20,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default one if
// not found, then applies environment overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	config := DefaultTOMLConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// If we can't write, just run with defaults
		// (might be a permissions issue, but we can still run)
		_ = writeDefaultConfig(path, config)
	} else {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Tabletop Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect
# Any value can be overridden with TABLETOP_<SECTION>_<KEY>, e.g. TABLETOP_SERVER_HTTP_PORT

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	cfg.ListenAddr = c.Server.ListenAddr
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	cfg.TLSCertFile = c.Server.TLSCert
	cfg.TLSKeyFile = c.Server.TLSKey
	cfg.AutocertHosts = c.Server.AutocertHosts
	if strings.TrimSpace(c.Server.AutocertCache) != "" {
		cfg.AutocertCache = c.Server.AutocertCache
	}

	if c.Limits.MaxChunkCount > 0 {
		cfg.MaxChunkCount = c.Limits.MaxChunkCount
	}
	if c.Limits.AccountCacheSize > 0 {
		cfg.AccountCacheSize = c.Limits.AccountCacheSize
	}
	if c.Limits.HistoryLimit > 0 {
		cfg.HistoryLimit = c.Limits.HistoryLimit
	}
	if c.Limits.TransferTTLSeconds > 0 {
		cfg.TransferTTL = time.Duration(c.Limits.TransferTTLSeconds) * time.Second
	}
	if c.Limits.TransferSweepSeconds > 0 {
		cfg.TransferSweepInterval = time.Duration(c.Limits.TransferSweepSeconds) * time.Second
	}
	if c.Limits.MaxFrameBytes > 0 {
		cfg.MaxFrameBytes = c.Limits.MaxFrameBytes
	}

	return cfg
}

// DatabaseConfig returns the database settings with ~ expanded
func (c *TOMLConfig) DatabaseConfig() (database.Config, error) {
	path, err := expandHome(c.Database.Path)
	if err != nil {
		return database.Config{}, err
	}
	return database.Config{
		Driver: c.Database.Driver,
		Path:   path,
		DSN:    c.Database.DSN,
	}, nil
}

// StorageConfig returns the blob store settings with ~ expanded
func (c *TOMLConfig) StorageConfig() (blob.Config, error) {
	root, err := expandHome(c.Storage.UploadRoot)
	if err != nil {
		return blob.Config{}, err
	}
	return blob.Config{
		Backend:     c.Storage.Backend,
		UploadRoot:  root,
		S3Bucket:    c.Storage.S3Bucket,
		S3Region:    c.Storage.S3Region,
		S3Endpoint:  c.Storage.S3Endpoint,
		S3AccessKey: c.Storage.S3AccessKey,
		S3SecretKey: c.Storage.S3SecretKey,
	}, nil
}

// VerifierConfig returns the identity verifier settings, loading the public
// key file when one is configured
func (c *TOMLConfig) VerifierConfig() (identity.Config, error) {
	cfg := identity.Config{
		Audience:   c.Auth.Audience,
		Issuers:    c.Auth.Issuers,
		HMACSecret: []byte(c.Auth.HMACSecret),
	}
	if c.Auth.PublicKeyPath != "" {
		path, err := expandHome(c.Auth.PublicKeyPath)
		if err != nil {
			return identity.Config{}, err
		}
		key, err := identity.LoadPublicKey(path)
		if err != nil {
			return identity.Config{}, err
		}
		cfg.PublicKey = key
	}
	return cfg, nil
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
