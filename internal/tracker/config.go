package tracker

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Config holds what a tracker adapter needs to connect. Credential
// resolution happens before a Config is built.
type Config struct {
	Organization string
	Project      string
	Team         string // board owner; empty means the project's default team
	PAT          string
	BaseURL      string // overrides the service URL derived from Organization

	// HTTPClient is used for every request when set.
	HTTPClient *http.Client
}

// Require returns an error naming every empty required field. The names
// are the config keys a user would set.
func (c Config) Require(prefix string, fields ...string) error {
	var missing []string
	for _, f := range fields {
		if c.value(f) == "" {
			missing = append(missing, prefix+"."+f)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	hint := fmt.Sprintf("Run: foundry config set %s \"VALUE\"", missing[0])
	if env := envVarName(missing[0]); env != "" {
		hint += fmt.Sprintf("\nOr: export %s=VALUE", env)
	}
	return fmt.Errorf("%s not configured\n%s", strings.Join(missing, ", "), hint)
}

func (c Config) value(field string) string {
	switch field {
	case "organization":
		return c.Organization
	case "project":
		return c.Project
	case "team":
		return c.Team
	case "pat":
		return c.PAT
	case "base_url":
		return c.BaseURL
	}
	return ""
}

// envVarName maps a config key to its FOUNDRY_ environment variable.
func envVarName(key string) string {
	if key == "" {
		return ""
	}
	return "FOUNDRY_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// FromEnv fills empty fields from FOUNDRY_TRACKER_* variables.
func (c Config) FromEnv() Config {
	fill := func(dst *string, field string) {
		if *dst == "" {
			*dst = os.Getenv(envVarName("tracker." + field))
		}
	}
	fill(&c.Organization, "organization")
	fill(&c.Project, "project")
	fill(&c.Team, "team")
	fill(&c.PAT, "pat")
	fill(&c.BaseURL, "base_url")
	return c
}
