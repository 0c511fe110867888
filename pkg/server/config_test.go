package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miravalier/tabletop/pkg/blob"
	"github.com/miravalier/tabletop/pkg/database"
	"github.com/miravalier/tabletop/pkg/identity"
)

func TestLoadConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err, "default config file not written")
	assert.True(t, strings.HasPrefix(string(data), "# Tabletop Server Configuration"))
	assert.Contains(t, string(data), "http_port = 8765")

	// The written file loads back to the same values
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
http_port = 9000

[database]
driver = "postgres"
dsn = "postgres://tabletop@localhost/tabletop"

[storage]
backend = "s3"
s3_bucket = "uploads"

[limits]
max_chunk_count = 32
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, database.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, blob.BackendS3, cfg.Storage.Backend)
	assert.Equal(t, "uploads", cfg.Storage.S3Bucket)
	assert.Equal(t, 32, cfg.Limits.MaxChunkCount)

	// Unset keys keep their defaults
	assert.Equal(t, 100, cfg.Limits.HistoryLimit)
	assert.Equal(t, "us-east-1", cfg.Storage.S3Region)
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nhttp_port = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nhttp_port = 9000\n"), 0644))

	t.Setenv("TABLETOP_SERVER_HTTP_PORT", "9100")
	t.Setenv("TABLETOP_AUTH_HMAC_SECRET", "s3cret")
	t.Setenv("TABLETOP_AUTH_ISSUERS", "issuer-a,issuer-b")
	t.Setenv("TABLETOP_LIMITS_TRANSFER_TTL_SECONDS", "15")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, "s3cret", cfg.Auth.HMACSecret)
	assert.Equal(t, []string{"issuer-a", "issuer-b"}, cfg.Auth.Issuers)
	assert.Equal(t, 15, cfg.Limits.TransferTTLSeconds)
}

func TestLoadConfigBadEnvValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("TABLETOP_SERVER_HTTP_PORT", "not-a-port")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestToServerConfig(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.ListenAddr = "127.0.0.1"
	cfg.Server.HTTPPort = 9000
	cfg.Limits.TransferTTLSeconds = 60
	cfg.Limits.MaxChunkCount = 10

	sc := cfg.ToServerConfig()
	assert.Equal(t, "127.0.0.1", sc.ListenAddr)
	assert.Equal(t, 9000, sc.HTTPPort)
	assert.Equal(t, time.Minute, sc.TransferTTL)
	assert.Equal(t, 10, sc.MaxChunkCount)
	assert.Equal(t, 30*time.Second, sc.TransferSweepInterval)
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig
	assert.Equal(t, DefaultConfig(), cfg.ToServerConfig())
}

func TestConfigExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultTOMLConfig()

	dbCfg, err := cfg.DatabaseConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".tabletop", "tabletop.db"), dbCfg.Path)
	assert.Equal(t, database.DriverSQLite, dbCfg.Driver)

	storeCfg, err := cfg.StorageConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".tabletop", "uploads"), storeCfg.UploadRoot)

	cfg.Database.Path = "/var/lib/tabletop.db"
	dbCfg, err = cfg.DatabaseConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tabletop.db", dbCfg.Path)
}

func TestVerifierConfig(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Auth.HMACSecret = "s3cret"
	cfg.Auth.Audience = "tabletop"

	vc, err := cfg.VerifierConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), vc.HMACSecret)
	assert.Equal(t, "tabletop", vc.Audience)
	assert.Nil(t, vc.PublicKey)

	cfg.Auth.PublicKeyPath = filepath.Join(t.TempDir(), "missing.pem")
	_, err = cfg.VerifierConfig()
	assert.Error(t, err)
}

func TestLoadConfigDoesNotAliasDefaultIssuers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[auth]\nissuers = [\"https://issuer.example\"]\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://issuer.example"}, cfg.Auth.Issuers)
	assert.Equal(t, []string{"accounts.google.com", "https://accounts.google.com"}, identity.DefaultIssuers)
}
