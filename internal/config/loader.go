package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for env, config and data lookups.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the treeaudit identity.
var DefaultIdentity = Identity{BinaryName: "treeaudit", EnvPrefix: "TREEAUDIT", ConfigName: "treeaudit"}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// EnvSpec maps a short environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

var envBindings = []struct{ suffix, path string }{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"STORE_BACKEND", "store.backend"},
	{"STORE_SEED", "store.seed"},
	{"STORE_USERNAME", "store.username"},
	{"STORE_PASSWORD", "store.password"},
	{"SQLITE_PATH", "store.sqlite.path"},
	{"S3_BUCKET", "store.s3.bucket"},
	{"S3_PREFIX", "store.s3.prefix"},
	{"S3_REGION", "store.s3.region"},
	{"S3_ENDPOINT", "store.s3.endpoint"},
	{"S3_PROFILE", "store.s3.profile"},
	{"S3_FORCE_PATH_STYLE", "store.s3.force_path_style"},
	{"AUDIT_ROOT", "audit.root"},
	{"AUDIT_USERNAME", "audit.username"},
	{"AUDIT_PASSWORD", "audit.password"},
	{"AUDIT_BATCH_SIZE", "audit.batch_size"},
	{"AUDIT_TIMEZONE", "audit.timezone"},
	{"AUDIT_EXCLUDES", "audit.excludes"},
	{"AUDIT_RATE_LIMIT", "audit.rate_limit"},
	{"AUDIT_REPORT", "audit.report"},
}

// SetConfigFile selects an explicit config file for subsequent loads.
// An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration. Precedence, highest first: overrides,
// environment, config file, defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	id := DefaultIdentity
	appIdentity = &id

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(id.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range envSpecsLocked() {
		names := []string{spec.Name}
		if auto := id.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(spec.Path, ".", "_")); auto != spec.Name {
			names = append(names, auto)
		}
		if err := v.BindEnv(append([]string{spec.Path}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToUpper(cfg.Logging.Profile)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// GetIdentity returns the identity of the last load, or nil.
func GetIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.enabled", true)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.seed", "")
	v.SetDefault("store.username", "admin")
	v.SetDefault("store.password", "")
	v.SetDefault("store.sqlite.path", defaultSQLitePath())
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.prefix", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.profile", "")
	v.SetDefault("store.s3.force_path_style", false)

	v.SetDefault("audit.root", "/")
	v.SetDefault("audit.username", "admin")
	v.SetDefault("audit.password", "")
	v.SetDefault("audit.batch_size", 1000)
	v.SetDefault("audit.date_layout", "2006-01-02 15:04")
	v.SetDefault("audit.fallback_date", "2022-01-31 20:23")
	v.SetDefault("audit.timezone", "UTC")
	v.SetDefault("audit.metadata_path", "jcr:content/metadata")
	v.SetDefault("audit.property", "prism:expirationDate")
	v.SetDefault("audit.container_types", []string{"nt:folder", "sling:Folder", "sling:OrderedFolder"})
	v.SetDefault("audit.leaf_types", []string{"dam:Asset"})
	v.SetDefault("audit.excludes", []string{})
	v.SetDefault("audit.rate_limit", 0.0)
	v.SetDefault("audit.report", "")
}

func defaultSQLitePath() string {
	dir := gfconfig.GetAppDataDir(DefaultIdentity.ConfigName)
	if dir == "" {
		return DefaultIdentity.ConfigName + ".db"
	}
	return filepath.Join(dir, "content.db")
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	for _, p := range getUserConfigPathsLocked() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	defer configMu.RUnlock()
	return envSpecsLocked()
}

func envSpecsLocked() []EnvSpec {
	if appIdentity == nil {
		return nil
	}
	specs := make([]EnvSpec, 0, len(envBindings))
	for _, b := range envBindings {
		specs = append(specs, EnvSpec{Name: appIdentity.EnvPrefix + "_" + b.suffix, Path: b.path})
	}
	return specs
}

func getUserConfigPaths() []string {
	configMu.RLock()
	defer configMu.RUnlock()
	return getUserConfigPathsLocked()
}

func getUserConfigPathsLocked() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appIdentity.ConfigName))
	}
	return paths
}

// findProjectRoot returns the nearest ancestor of the working directory
// holding go.mod or .git. In CI the workspace variable wins when it is an
// absolute directory containing the working directory. Without a marker
// the working directory itself is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		for _, name := range []string{"TREEAUDIT_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
			if b := boundary(os.Getenv(name), cwd); b != "" {
				return b, nil
			}
		}
	}

	for dir := cwd; ; {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

func boundary(dir, cwd string) string {
	if dir == "" || !filepath.IsAbs(dir) {
		return ""
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	rel, err := filepath.Rel(dir, cwd)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.Clean(dir)
}
