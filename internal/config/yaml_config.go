package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// settableKeys are the keys `foundry config set` may write. Structural
// settings such as the workflow definition path are included; secrets
// are not, they belong in the environment.
var settableKeys = map[string]bool{
	KeyCacheTTL:                true,
	KeyCachePolicy:             true,
	KeyCacheHotSize:            true,
	KeyCacheRedisURL:           true,
	KeyCacheRedisNamespace:     true,
	KeyCacheTimeoutHot:         true,
	KeyCacheTimeoutDistributed: true,
	KeyCacheTimeoutPersistent:  true,
	KeyCacheTimeoutRemote:      true,
	KeyCacheValidationInterval: true,
	KeyStoragePath:             true,
	KeyWorkflowRetryAttempts:   true,
	KeyWorkflowRetryInitial:    true,
	KeyWorkflowRetryMax:        true,
	KeyWorkflowLockMode:        true,
	KeyWorkflowLockShards:      true,
	KeyWorkflowDefinition:      true,
	KeyTrackerKind:             true,
	KeyTrackerOrganization:     true,
	KeyTrackerProject:          true,
	KeyTrackerBaseURL:          true,
	KeyTrackerTeam:             true,
}

// SettableKeys returns the keys SetYamlConfig accepts, sorted.
func SettableKeys() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetYamlConfig sets key in the project's .foundry/config.yaml, creating
// the file in the working directory if no project config exists. An
// existing (possibly commented) line for the key is replaced in place.
func SetYamlConfig(key, value string) (string, error) {
	if !settableKeys[key] {
		return "", fmt.Errorf("unknown or read-only config key %q", key)
	}
	configPath, err := projectConfigPath()
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(configPath) //nolint:gosec // configPath is from projectConfigPath
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read config.yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(updateYamlKey(string(content), key, value)), 0o600); err != nil {
		return "", fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return configPath, nil
}

// projectConfigPath returns the nearest .foundry/config.yaml, or the
// path it would have in the working directory.
func projectConfigPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		p := filepath.Join(dir, ConfigDirName, "config.yaml")
		if fileExists(p) {
			return p, nil
		}
	}
	return filepath.Join(cwd, ConfigDirName, "config.yaml"), nil
}

// updateYamlKey rewrites the line for key, uncommenting it if needed, or
// appends it.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))
	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if m := keyPattern.FindStringSubmatch(line); m != nil {
			result = append(result, m[1]+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}
	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}
	return strings.Join(result, "\n") + "\n"
}

func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return lower
	}
	if isNumeric(value) || isDuration(value) {
		return value
	}
	if needsQuoting(value) {
		return fmt.Sprintf("%q", value)
	}
	return value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if (c == '-' && i == 0) || c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isDuration matches simple durations like "30s", "250ms", "24h".
func isDuration(s string) bool {
	for _, suffix := range []string{"ms", "s", "m", "h"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return isNumeric(strings.TrimSuffix(s, suffix))
		}
	}
	return false
}

func needsQuoting(s string) bool {
	if strings.ContainsAny(s, ":#[]{},&*!|>'\"%@`") {
		return true
	}
	return strings.TrimSpace(s) != s
}
