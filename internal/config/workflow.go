package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/foundry/internal/types"
)

// LoadWorkflow reads a workflow definition from path. The format is
// chosen by extension (.yaml/.yml or .toml). An empty path returns the
// built-in default. The definition is validated before it is returned.
func LoadWorkflow(path string) (*types.WorkflowDefinition, error) {
	if path == "" {
		def := types.DefaultWorkflow()
		return def, def.Validate()
	}
	// #nosec G304 - path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definition: %w", err)
	}
	return ParseWorkflow(data, filepath.Ext(path))
}

// ParseWorkflow decodes a workflow definition in the format named by ext.
func ParseWorkflow(data []byte, ext string) (*types.WorkflowDefinition, error) {
	var def types.WorkflowDefinition
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parsing workflow YAML: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &def)
		if err != nil {
			return nil, fmt.Errorf("parsing workflow TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing workflow TOML: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported workflow definition format %q", ext)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	return &def, nil
}
