// Package config holds foundry's viper-backed settings: defaults, the
// FOUNDRY_ environment binding, config file discovery, and hot reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in
// keys replaced by underscores (cache.ttl -> FOUNDRY_CACHE_TTL).
const EnvPrefix = "FOUNDRY"

// ConfigDirName is the per-project configuration directory.
const ConfigDirName = ".foundry"

// Config keys
const (
	KeyCacheTTL                = "cache.ttl"
	KeyCachePolicy             = "cache.policy"
	KeyCacheHotSize            = "cache.hot.size"
	KeyCacheRedisURL           = "cache.redis.url"
	KeyCacheRedisNamespace     = "cache.redis.namespace"
	KeyCacheTimeoutHot         = "cache.timeout.hot"
	KeyCacheTimeoutDistributed = "cache.timeout.distributed"
	KeyCacheTimeoutPersistent  = "cache.timeout.persistent"
	KeyCacheTimeoutRemote      = "cache.timeout.remote"
	KeyCacheValidationInterval = "cache.validation.interval"

	KeyStoragePath = "storage.path"

	KeyWorkflowRetryAttempts = "workflow.retry.attempts"
	KeyWorkflowRetryInitial  = "workflow.retry.initial"
	KeyWorkflowRetryMax      = "workflow.retry.max"
	KeyWorkflowLockMode      = "workflow.lock.mode"
	KeyWorkflowLockShards    = "workflow.lock.shards"
	KeyWorkflowDefinition    = "workflow.definition"

	KeyTrackerKind         = "tracker.kind"
	KeyTrackerOrganization = "tracker.organization"
	KeyTrackerProject      = "tracker.project"
	KeyTrackerPAT          = "tracker.pat"
	KeyTrackerBaseURL      = "tracker.base_url"
	KeyTrackerTeam         = "tracker.team"

	KeyArtifactGitHubToken = "artifact.github.token"

	// KeyGates holds the per-phase gate mode policy.
	KeyGates = "gates"
)

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize builds a fresh viper instance with defaults, environment
// binding, and the first config file found. It is safe to call again;
// each call discards previous Set overrides.
func Initialize() error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	nv.SetEnvPrefix(EnvPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	registerDefaults(nv)

	if path := FindConfigFile(); path != "" {
		nv.SetConfigFile(path)
		if err := nv.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	mu.Lock()
	v = nv
	mu.Unlock()
	return nil
}

func registerDefaults(nv *viper.Viper) {
	nv.SetDefault(KeyCacheTTL, "1h")
	nv.SetDefault(KeyCachePolicy, "soft")
	nv.SetDefault(KeyCacheHotSize, 1000)
	nv.SetDefault(KeyCacheRedisURL, "")
	nv.SetDefault(KeyCacheRedisNamespace, "foundry")
	nv.SetDefault(KeyCacheTimeoutHot, "1ms")
	nv.SetDefault(KeyCacheTimeoutDistributed, "50ms")
	nv.SetDefault(KeyCacheTimeoutPersistent, "250ms")
	nv.SetDefault(KeyCacheTimeoutRemote, "10s")
	nv.SetDefault(KeyCacheValidationInterval, "24h")

	nv.SetDefault(KeyStoragePath, filepath.Join(ConfigDirName, "foundry.db"))

	nv.SetDefault(KeyWorkflowRetryAttempts, 3)
	nv.SetDefault(KeyWorkflowRetryInitial, "200ms")
	nv.SetDefault(KeyWorkflowRetryMax, "5s")
	nv.SetDefault(KeyWorkflowLockMode, "reject")
	nv.SetDefault(KeyWorkflowLockShards, 64)
	nv.SetDefault(KeyWorkflowDefinition, "")

	nv.SetDefault(KeyTrackerKind, "azuredevops")
	nv.SetDefault(KeyTrackerOrganization, "")
	nv.SetDefault(KeyTrackerProject, "")
	nv.SetDefault(KeyTrackerPAT, "")
	nv.SetDefault(KeyTrackerBaseURL, "")
	nv.SetDefault(KeyTrackerTeam, "")

	nv.SetDefault(KeyArtifactGitHubToken, "")
}

// FindConfigFile walks up from the working directory looking for
// .foundry/config.yaml, then falls back to $XDG_CONFIG_HOME/foundry and
// ~/.config/foundry. Returns "" when nothing is found.
func FindConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, ConfigDirName, "config.yaml")
			if fileExists(candidate) {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "foundry"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "foundry"))
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, "config.yaml")
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func current() *viper.Viper {
	mu.RLock()
	defer mu.RUnlock()
	return v
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if cv := current(); cv != nil {
		return cv.ConfigFileUsed()
	}
	return ""
}

// GetString retrieves a string value.
func GetString(key string) string {
	if cv := current(); cv != nil {
		return cv.GetString(key)
	}
	return ""
}

// GetBool retrieves a boolean value.
func GetBool(key string) bool {
	if cv := current(); cv != nil {
		return cv.GetBool(key)
	}
	return false
}

// GetInt retrieves an integer value.
func GetInt(key string) int {
	if cv := current(); cv != nil {
		return cv.GetInt(key)
	}
	return 0
}

// GetDuration retrieves a duration value.
func GetDuration(key string) time.Duration {
	if cv := current(); cv != nil {
		return cv.GetDuration(key)
	}
	return 0
}

// GetStringSlice retrieves a string slice value. Never nil.
func GetStringSlice(key string) []string {
	if cv := current(); cv != nil {
		if s := cv.GetStringSlice(key); s != nil {
			return s
		}
	}
	return []string{}
}

// Set overrides a value for the lifetime of the current instance.
func Set(key string, value interface{}) {
	if cv := current(); cv != nil {
		cv.Set(key, value)
	}
}

// AllSettings returns every resolved setting. Never nil.
func AllSettings() map[string]interface{} {
	if cv := current(); cv != nil {
		return cv.AllSettings()
	}
	return map[string]interface{}{}
}

// UnmarshalKey decodes the subtree at key into out. A missing key
// leaves out untouched.
func UnmarshalKey(key string, out interface{}) error {
	cv := current()
	if cv == nil || !cv.IsSet(key) {
		return nil
	}
	if err := cv.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}
	return nil
}

// WatchConfig re-reads the config file on change and invokes fn. Only
// settings read per operation (TTL, stale policy) take effect without a
// restart; structural settings such as storage path do not. A no-op when
// no config file was loaded.
func WatchConfig(fn func(path string)) {
	cv := current()
	if cv == nil || cv.ConfigFileUsed() == "" {
		return
	}
	cv.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if fn != nil {
			fn(e.Name)
		}
	})
	cv.WatchConfig()
}

// ResetForTesting clears the package instance.
func ResetForTesting() {
	mu.Lock()
	v = nil
	mu.Unlock()
}
