package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRepoRootForTest(t *testing.T) string {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("could not locate repo root containing go.mod from %s", cwd)
	return ""
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// In CI containers the repo checkout may be outside $HOME; the workspace
	// hint must still resolve.
	t.Run("CIBoundaryHint", func(t *testing.T) {
		repoRoot := findRepoRootForTest(t)
		t.Setenv("HOME", t.TempDir())
		t.Setenv("CI", "true")
		t.Setenv("TREEAUDIT_WORKSPACE_ROOT", repoRoot)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	// Test basic config loading with defaults
	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		// Verify metrics and health defaults
		assert.True(t, cfg.Metrics.Enabled)
		assert.True(t, cfg.Health.Enabled)

		// Verify store defaults
		assert.Equal(t, BackendMemory, cfg.Store.Backend)
		assert.Equal(t, "admin", cfg.Store.Username)
		assert.NotEmpty(t, cfg.Store.SQLite.Path)

		// Verify audit defaults
		assert.Equal(t, "/", cfg.Audit.Root)
		assert.Equal(t, int64(1000), cfg.Audit.BatchSize)
		assert.Equal(t, "2006-01-02 15:04", cfg.Audit.DateLayout)
		assert.Equal(t, "2022-01-31 20:23", cfg.Audit.FallbackDate)
		assert.Equal(t, "UTC", cfg.Audit.Timezone)
		assert.Equal(t, "jcr:content/metadata", cfg.Audit.MetadataPath)
		assert.Equal(t, "prism:expirationDate", cfg.Audit.Property)
		assert.Equal(t, []string{"dam:Asset"}, cfg.Audit.LeafTypes)
		assert.Empty(t, cfg.Audit.Excludes)
	})

	// Test runtime overrides
	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify overrides were applied
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.Equal(t, int64(1000), cfg.Audit.BatchSize)
	})

	// Test environment variable overrides
	t.Run("EnvOverrides", func(t *testing.T) {
		// Set environment variables
		require.NoError(t, os.Setenv("TREEAUDIT_PORT", "3000"))
		require.NoError(t, os.Setenv("TREEAUDIT_LOG_LEVEL", "warn"))
		require.NoError(t, os.Setenv("TREEAUDIT_METRICS_ENABLED", "false"))
		defer func() {
			_ = os.Unsetenv("TREEAUDIT_PORT")
			_ = os.Unsetenv("TREEAUDIT_LOG_LEVEL")
			_ = os.Unsetenv("TREEAUDIT_METRICS_ENABLED")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify env overrides were applied
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		// Set environment variable
		require.NoError(t, os.Setenv("TREEAUDIT_PORT", "4000"))
		defer func() {
			_ = os.Unsetenv("TREEAUDIT_PORT")
		}()

		// Runtime override should win
		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Runtime override should take precedence over env var
		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()

	// Load config first
	cfg, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Test GetConfig returns the same instance
	t.Run("GetConfigReturnsLoadedConfig", func(t *testing.T) {
		retrieved := GetConfig()
		assert.NotNil(t, retrieved)
		assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
		assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
	})
}

func TestEnvSpecs(t *testing.T) {
	// Need to set app identity for env specs
	ctx := context.Background()
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	// Verify critical env var mappings exist
	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["TREEAUDIT_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["TREEAUDIT_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["TREEAUDIT_HOST"], "HOST env var must be mapped")
	assert.True(t, envVarNames["TREEAUDIT_STORE_BACKEND"], "STORE_BACKEND env var must be mapped")
	assert.True(t, envVarNames["TREEAUDIT_AUDIT_PASSWORD"], "AUDIT_PASSWORD env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()

	// Test duration parsing from string env var
	t.Run("DurationFromEnv", func(t *testing.T) {
		require.NoError(t, os.Setenv("TREEAUDIT_READ_TIMEOUT", "45s"))
		require.NoError(t, os.Setenv("TREEAUDIT_SHUTDOWN_TIMEOUT", "5m"))
		defer func() {
			_ = os.Unsetenv("TREEAUDIT_READ_TIMEOUT")
			_ = os.Unsetenv("TREEAUDIT_SHUTDOWN_TIMEOUT")
		}()

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	})
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	// Load initial config
	cfg1, err := Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg1)
	initialPort := cfg1.Server.Port

	// Reload with different runtime overrides
	overrides := map[string]any{
		"server": map[string]any{
			"port": initialPort + 1000,
		},
	}

	cfg2, err := Load(ctx, overrides)
	require.NoError(t, err)
	require.NotNil(t, cfg2)

	// Verify reload updated the config
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)

	// Verify GetConfig returns the updated config
	current := GetConfig()
	assert.Equal(t, cfg2.Server.Port, current.Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
// Must only be used in tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	// Save and restore state
	resetAppIdentity()
	defer func() {
		ctx := context.Background()
		_, _ = Load(ctx) // Restore state for other tests
	}()

	// When appIdentity is nil, getUserConfigPaths should return empty slice
	paths := getUserConfigPaths()
	assert.Empty(t, paths)
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	// Save and restore state
	resetAppIdentity()
	defer func() {
		ctx := context.Background()
		_, _ = Load(ctx) // Restore state for other tests
	}()

	// When appIdentity is nil, getEnvSpecs should return empty slice
	specs := getEnvSpecs()
	assert.Empty(t, specs)
}

func TestFindProjectRootCIBoundaryEdgeCases(t *testing.T) {
	repoRoot := findRepoRootForTest(t)

	t.Run("CITrueButEmptyBoundaryVars", func(t *testing.T) {
		// Set CI=true but leave all boundary vars empty
		t.Setenv("CI", "true")
		t.Setenv("TREEAUDIT_WORKSPACE_ROOT", "")
		t.Setenv("GITHUB_WORKSPACE", "")
		t.Setenv("CI_PROJECT_DIR", "")
		t.Setenv("WORKSPACE", "")

		// Should still find root via fallback
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("CITrueWithRelativeBoundary", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("TREEAUDIT_WORKSPACE_ROOT", "./relative/path") // Not absolute

		// Should fall back to default discovery
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("CITrueWithNonexistentBoundary", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("TREEAUDIT_WORKSPACE_ROOT", "/nonexistent/path/that/does/not/exist")

		// Should fall back to default discovery
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("CITrueWithBoundaryNotContainingCwd", func(t *testing.T) {
		t.Setenv("CI", "true")
		// Use a valid directory that doesn't contain our cwd
		t.Setenv("TREEAUDIT_WORKSPACE_ROOT", os.TempDir())

		// Should fall back to default discovery
		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, root)
	})

	t.Run("GitHubActionsEnvVar", func(t *testing.T) {
		t.Setenv("GITHUB_ACTIONS", "true")
		t.Setenv("GITHUB_WORKSPACE", repoRoot)

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	ctx := context.Background()

	// Ensure appIdentity is loaded
	_, err := Load(ctx)
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	// Verify all specs have the TREEAUDIT_ prefix
	for _, spec := range specs {
		assert.True(t, len(spec.Name) > 0, "env var name should not be empty")
		assert.Contains(t, spec.Name, "TREEAUDIT_", "all specs should have TREEAUDIT_ prefix")
	}

	// Verify path structure
	for _, spec := range specs {
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
}

func TestAuditAndStoreEnv(t *testing.T) {
	t.Setenv("TREEAUDIT_STORE_BACKEND", "SQLite")
	t.Setenv("TREEAUDIT_SQLITE_PATH", filepath.Join(t.TempDir(), "content.db"))
	t.Setenv("TREEAUDIT_AUDIT_EXCLUDES", "tmp/**,**/renditions")
	t.Setenv("TREEAUDIT_AUDIT_BATCH_SIZE", "250")
	t.Setenv("TREEAUDIT_AUDIT_RATE_LIMIT", "12.5")
	// Full-path names work alongside the short aliases.
	t.Setenv("TREEAUDIT_AUDIT_PROPERTY", "dc:expires")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, []string{"tmp/**", "**/renditions"}, cfg.Audit.Excludes)
	assert.Equal(t, int64(250), cfg.Audit.BatchSize)
	assert.Equal(t, 12.5, cfg.Audit.RateLimit)
	assert.Equal(t, "dc:expires", cfg.Audit.Property)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7070
store:
  backend: s3
  s3:
    bucket: dam-content
    prefix: content/dam
    force_path_style: true
audit:
  timezone: Europe/Berlin
  leaf_types: [dam:Asset, dam:Collection]
`), 0o600))

	SetConfigFile(path)
	defer SetConfigFile("")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, BackendS3, cfg.Store.Backend)
	assert.Equal(t, "dam-content", cfg.Store.S3.Bucket)
	assert.Equal(t, "content/dam", cfg.Store.S3.Prefix)
	assert.True(t, cfg.Store.S3.ForcePathStyle)
	assert.Equal(t, []string{"dam:Asset", "dam:Collection"}, cfg.Audit.LeafTypes)

	jc, err := cfg.Audit.JobConfig()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", jc.Location.String())
}

func TestConfigFileMissing(t *testing.T) {
	SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	defer SetConfigFile("")

	_, err := Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"unknown backend", map[string]any{"store": map[string]any{"backend": "ftp"}}, "unsupported store.backend"},
		{"s3 without bucket", map[string]any{"store": map[string]any{"backend": "s3"}}, "store.s3.bucket is required"},
		{"port out of range", map[string]any{"server": map[string]any{"port": 70000}}, "out of range"},
		{"bad timezone", map[string]any{"audit": map[string]any{"timezone": "Mars/Olympus"}}, "audit.timezone"},
		{"fallback does not match layout", map[string]any{"audit": map[string]any{"fallback_date": "31.01.2022"}}, "fallback date"},
		{"bad exclude", map[string]any{"audit": map[string]any{"excludes": []string{"[unclosed"}}}, "invalid exclude pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuditCredentials(t *testing.T) {
	creds := AuditConfig{Password: "pw"}.Credentials()
	assert.Equal(t, "admin", creds.Username)
	assert.Equal(t, "pw", creds.Password)
}
