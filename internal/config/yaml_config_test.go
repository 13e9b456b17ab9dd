package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		key      string
		value    string
		expected string
	}{
		{
			name:     "update commented key",
			content:  "# cache.policy: soft\nother: value",
			key:      KeyCachePolicy,
			value:    "hard",
			expected: "cache.policy: hard\nother: value\n",
		},
		{
			name:     "update existing key",
			content:  "cache.ttl: 1h\nother: value",
			key:      KeyCacheTTL,
			value:    "15m",
			expected: "cache.ttl: 15m\nother: value\n",
		},
		{
			name:     "add new key",
			content:  "other: value",
			key:      KeyWorkflowLockShards,
			value:    "128",
			expected: "other: value\n\nworkflow.lock.shards: 128\n",
		},
		{
			name:     "preserve indentation",
			content:  "  # cache.ttl: 1h\nother: value",
			key:      KeyCacheTTL,
			value:    "250ms",
			expected: "  cache.ttl: 250ms\nother: value\n",
		},
		{
			name:     "quote special characters",
			content:  "",
			key:      KeyCacheRedisURL,
			value:    "redis://localhost:6379/0",
			expected: "cache.redis.url: \"redis://localhost:6379/0\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := updateYamlKey(tt.content, tt.key, tt.value)
			if got != tt.expected {
				t.Errorf("updateYamlKey() =\n%q\nwant:\n%q", got, tt.expected)
			}
		})
	}
}

func TestFormatYamlValue(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"TRUE", "true"},
		{"42", "42"},
		{"-1.5", "-1.5"},
		{"50ms", "50ms"},
		{"24h", "24h"},
		{"reject", "reject"},
		{" padded", "\" padded\""},
	}
	for _, tt := range tests {
		if got := formatYamlValue(tt.input); got != tt.want {
			t.Errorf("formatYamlValue(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSetYamlConfig(t *testing.T) {
	dir := t.TempDir()
	oldWD, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
		_ = Initialize()
	})

	if _, err := SetYamlConfig(KeyTrackerPAT, "secret"); err == nil {
		t.Error("expected secrets to be rejected")
	}

	path, err := SetYamlConfig(KeyCacheTTL, "90s")
	if err != nil {
		t.Fatalf("SetYamlConfig: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join(ConfigDirName, "config.yaml")) {
		t.Errorf("unexpected config path %q", path)
	}
	if _, err := SetYamlConfig(KeyCachePolicy, "hard"); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if got := GetDuration(KeyCacheTTL); got != 90*time.Second {
		t.Errorf("cache.ttl = %v, want 90s", got)
	}
	if got := GetString(KeyCachePolicy); got != "hard" {
		t.Errorf("cache.policy = %q, want hard", got)
	}
}

func TestSettableKeysSorted(t *testing.T) {
	keys := SettableKeys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}
