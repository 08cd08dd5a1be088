// Package config reads the gateway configuration from the environment once
// at startup. Load fails on the first missing or malformed value so the
// process never starts half-configured.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dagbolade/mcp-readonly-gateway/internal/audit"
	"github.com/dagbolade/mcp-readonly-gateway/internal/auth"
	"github.com/dagbolade/mcp-readonly-gateway/internal/dispatch"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8781
)

type Config struct {
	RepoRoot      string
	Kind          dispatch.Kind
	AllowlistPath string
	RoutesJSON    string
	Headers       auth.Config

	TestMode   bool
	ObsLive    bool
	QdrantLive bool

	Host string
	Port int

	ContractPath   string
	AuditDir       string
	ManifestScript string
	ManifestAlgo   string
	AuditDB        string
	FixturesDir    string

	UpstreamTimeout time.Duration
	GitTimeout      time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	LogLevel string
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func Load() (Config, error) {
	var cfg Config

	root := os.Getenv("MCP_REPO_ROOT")
	if root == "" {
		return cfg, errors.New("MCP_REPO_ROOT is required")
	}
	root, err := resolveDir(root)
	if err != nil {
		return cfg, fmt.Errorf("MCP_REPO_ROOT: %w", err)
	}
	cfg.RepoRoot = root

	kindName := os.Getenv("MCP_KIND")
	if kindName == "" {
		return cfg, errors.New("MCP_KIND is required")
	}
	if cfg.Kind, err = dispatch.ParseKind(kindName); err != nil {
		return cfg, fmt.Errorf("MCP_KIND: %w", err)
	}

	allowlistPath := os.Getenv("MCP_ALLOWLIST")
	if allowlistPath == "" {
		return cfg, errors.New("MCP_ALLOWLIST is required")
	}
	if cfg.AllowlistPath, err = filepath.Abs(allowlistPath); err != nil {
		return cfg, fmt.Errorf("MCP_ALLOWLIST: %w", err)
	}

	cfg.RoutesJSON = getEnv("MCP_ROUTES_JSON", "{}")
	cfg.Headers = auth.Config{
		IdentityHeader:  getEnv("MCP_IDENTITY_HEADER", auth.DefaultIdentityHeader),
		TenantHeader:    getEnv("MCP_TENANT_HEADER", auth.DefaultTenantHeader),
		RequestIDHeader: getEnv("MCP_REQUEST_ID_HEADER", auth.DefaultRequestIDHeader),
	}

	cfg.TestMode = getEnvFlag("MCP_TEST_MODE") || getEnvFlag("CI")
	cfg.ObsLive = getEnvFlag("OBS_LIVE")
	cfg.QdrantLive = getEnvFlag("QDRANT_LIVE")

	cfg.Host = getEnv("MCP_HOST", DefaultHost)
	if cfg.Port, err = getEnvInt("MCP_PORT", DefaultPort); err != nil {
		return cfg, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("MCP_PORT: %d out of range", cfg.Port)
	}

	cfg.ContractPath = getEnv("MCP_CONTRACT", filepath.Join(root, "contracts", "ai", "indexing.yml"))
	cfg.AuditDir = getEnv("MCP_AUDIT_DIR", filepath.Join(root, "evidence", "ai", "mcp-audit"))
	cfg.ManifestScript = getEnv("MCP_MANIFEST_SCRIPT", filepath.Join(root, "ops", "ai", "indexer", "lib", "manifest.sh"))
	cfg.ManifestAlgo = getEnv("MCP_MANIFEST_ALGO", audit.AlgoSHA256)
	if cfg.ManifestAlgo != audit.AlgoSHA256 && cfg.ManifestAlgo != audit.AlgoBLAKE3 {
		return cfg, fmt.Errorf("MCP_MANIFEST_ALGO: unsupported algorithm %q", cfg.ManifestAlgo)
	}
	cfg.AuditDB = os.Getenv("MCP_AUDIT_DB")
	cfg.FixturesDir = getEnv("MCP_FIXTURES_DIR", filepath.Join(root, "ops", "ai", "mcp", cfg.Kind.String(), "fixtures"))

	durations := []struct {
		key      string
		fallback int
		dst      *time.Duration
	}{
		{"MCP_UPSTREAM_TIMEOUT", 10, &cfg.UpstreamTimeout},
		{"MCP_GIT_TIMEOUT", 10, &cfg.GitTimeout},
		{"READ_TIMEOUT", 30, &cfg.ReadTimeout},
		{"WRITE_TIMEOUT", 30, &cfg.WriteTimeout},
		{"SHUTDOWN_TIMEOUT", 10, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		seconds, err := getEnvInt(d.key, d.fallback)
		if err != nil {
			return cfg, err
		}
		if seconds <= 0 {
			return cfg, fmt.Errorf("%s: must be positive, got %d", d.key, seconds)
		}
		*d.dst = time.Duration(seconds) * time.Second
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	return cfg, nil
}

func resolveDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	return intVal, nil
}

// getEnvFlag reports whether key is set to exactly "1".
func getEnvFlag(key string) bool {
	return os.Getenv(key) == "1"
}
