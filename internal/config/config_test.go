package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if current() == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyCacheTTL, time.Hour, func(k string) interface{} { return GetDuration(k) }},
		{KeyCachePolicy, "soft", func(k string) interface{} { return GetString(k) }},
		{KeyCacheHotSize, 1000, func(k string) interface{} { return GetInt(k) }},
		{KeyCacheRedisURL, "", func(k string) interface{} { return GetString(k) }},
		{KeyCacheRedisNamespace, "foundry", func(k string) interface{} { return GetString(k) }},
		{KeyCacheTimeoutHot, time.Millisecond, func(k string) interface{} { return GetDuration(k) }},
		{KeyCacheTimeoutDistributed, 50 * time.Millisecond, func(k string) interface{} { return GetDuration(k) }},
		{KeyCacheTimeoutPersistent, 250 * time.Millisecond, func(k string) interface{} { return GetDuration(k) }},
		{KeyCacheTimeoutRemote, 10 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{KeyCacheValidationInterval, 24 * time.Hour, func(k string) interface{} { return GetDuration(k) }},
		{KeyStoragePath, filepath.Join(".foundry", "foundry.db"), func(k string) interface{} { return GetString(k) }},
		{KeyWorkflowRetryAttempts, 3, func(k string) interface{} { return GetInt(k) }},
		{KeyWorkflowRetryInitial, 200 * time.Millisecond, func(k string) interface{} { return GetDuration(k) }},
		{KeyWorkflowLockMode, "reject", func(k string) interface{} { return GetString(k) }},
		{KeyWorkflowLockShards, 64, func(k string) interface{} { return GetInt(k) }},
		{KeyTrackerKind, "azuredevops", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"FOUNDRY_CACHE_TTL", KeyCacheTTL, "5m", 5 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"FOUNDRY_CACHE_POLICY", KeyCachePolicy, "hard", "hard", func(k string) interface{} { return GetString(k) }},
		{"FOUNDRY_WORKFLOW_LOCK_MODE", KeyWorkflowLockMode, "queue", "queue", func(k string) interface{} { return GetString(k) }},
		{"FOUNDRY_TRACKER_PAT", KeyTrackerPAT, "secret", "secret", func(k string) interface{} { return GetString(k) }},
		{"FOUNDRY_WORKFLOW_RETRY_ATTEMPTS", KeyWorkflowRetryAttempts, "5", 5, func(k string) interface{} { return GetInt(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)
			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func writeProjectConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, ConfigDirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("failed to create %s: %v", ConfigDirName, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return tmpDir
}

func TestConfigFile(t *testing.T) {
	tmpDir := writeProjectConfig(t, `
cache:
  ttl: 15m
  policy: hard
workflow:
  lock:
    mode: queue
tracker:
  organization: contoso
  project: widgets
`)
	nested := filepath.Join(tmpDir, "src", "pkg")
	if err := os.MkdirAll(nested, 0750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetDuration(KeyCacheTTL); got != 15*time.Minute {
		t.Errorf("GetDuration(cache.ttl) = %v, want 15m", got)
	}
	if got := GetString(KeyCachePolicy); got != "hard" {
		t.Errorf("GetString(cache.policy) = %q, want hard", got)
	}
	if got := GetTrackerSettings(); got.Organization != "contoso" || got.Project != "widgets" {
		t.Errorf("GetTrackerSettings() = %+v", got)
	}
	if ConfigFileUsed() == "" {
		t.Error("ConfigFileUsed() is empty")
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir := writeProjectConfig(t, "cache:\n  policy: soft\n")
	t.Chdir(tmpDir)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeyCachePolicy); got != "soft" {
		t.Errorf("cache.policy from file = %q, want soft", got)
	}

	t.Setenv("FOUNDRY_CACHE_POLICY", "hard")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString(KeyCachePolicy); got != "hard" {
		t.Errorf("cache.policy with env var = %q, want hard (env should override config)", got)
	}
}

func TestSetAndGet(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	Set("test-key", "test-value")
	if got := GetString("test-key"); got != "test-value" {
		t.Errorf("GetString(test-key) = %q, want \"test-value\"", got)
	}
	Set("test-int", 42)
	if got := GetInt("test-int"); got != 42 {
		t.Errorf("GetInt(test-int) = %d, want 42", got)
	}
	if _, ok := AllSettings()["test-key"]; !ok {
		t.Error("AllSettings() missing test-key")
	}
}

func TestNilViperBehavior(t *testing.T) {
	ResetForTesting()
	defer func() { _ = Initialize() }()

	if got := GetString("any-key"); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetBool("any-key"); got {
		t.Errorf("GetBool with nil viper = %v, want false", got)
	}
	if got := GetInt("any-key"); got != 0 {
		t.Errorf("GetInt with nil viper = %d, want 0", got)
	}
	if got := GetDuration("any-key"); got != 0 {
		t.Errorf("GetDuration with nil viper = %v, want 0", got)
	}
	if got := GetStringSlice("any-key"); got == nil || len(got) != 0 {
		t.Errorf("GetStringSlice with nil viper = %v, want empty slice", got)
	}
	if got := AllSettings(); got == nil || len(got) != 0 {
		t.Errorf("AllSettings with nil viper = %v, want empty map", got)
	}
	Set("any-key", "any-value")
	WatchConfig(nil)
}

func TestSettings(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	cs, err := GetCacheSettings()
	if err != nil {
		t.Fatalf("GetCacheSettings() error: %v", err)
	}
	if cs.Policy != PolicySoft || cs.HotSize != 1000 || cs.Timeouts.Remote != 10*time.Second {
		t.Errorf("GetCacheSettings() = %+v", cs)
	}
	ws, err := GetWorkflowSettings()
	if err != nil {
		t.Fatalf("GetWorkflowSettings() error: %v", err)
	}
	if ws.LockMode != LockReject || ws.Retry.Attempts != 3 || ws.LockShards != 64 {
		t.Errorf("GetWorkflowSettings() = %+v", ws)
	}

	Set(KeyCachePolicy, "lukewarm")
	if _, err := GetCacheSettings(); err == nil {
		t.Error("GetCacheSettings() accepted invalid policy")
	}
	Set(KeyCachePolicy, "soft")
	Set(KeyWorkflowRetryAttempts, 0)
	if _, err := GetWorkflowSettings(); err == nil {
		t.Error("GetWorkflowSettings() accepted zero attempts")
	}
}

func TestParseLockMode(t *testing.T) {
	tests := []struct {
		in      string
		want    LockMode
		wantErr bool
	}{
		{"reject", LockReject, false},
		{"QUEUE", LockQueue, false},
		{"", LockReject, false},
		{"spin", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLockMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLockMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLockMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnmarshalKey(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = Initialize() })

	var out struct {
		Phases map[string]struct {
			Gates map[string]struct {
				Mode string `mapstructure:"mode"`
			} `mapstructure:"gates"`
		} `mapstructure:"phases"`
	}
	if err := UnmarshalKey(KeyGates, &out); err != nil {
		t.Fatalf("UnmarshalKey on missing key: %v", err)
	}
	if out.Phases != nil {
		t.Error("missing key should leave out untouched")
	}

	Set(KeyGates, map[string]interface{}{
		"phases": map[string]interface{}{
			"testing": map[string]interface{}{
				"gates": map[string]interface{}{"code_coverage_threshold": map[string]interface{}{"mode": "soft"}},
			},
		},
	})
	if err := UnmarshalKey(KeyGates, &out); err != nil {
		t.Fatal(err)
	}
	if got := out.Phases["testing"].Gates["code_coverage_threshold"].Mode; got != "soft" {
		t.Errorf("mode = %q, want soft", got)
	}
}
