package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/foundry/internal/types"
)

const yamlWorkflow = `
work_item_type: Task
phases:
  - name: Draft
    state: To Do
    next: [review]
    gates:
      - id: spec_written
        kind: requirement
        key: spec_written
  - name: review
    state: Doing
    next: [done, draft]
  - name: done
    state: Done
`

const tomlWorkflow = `
work_item_type = "Task"

[[phases]]
name = "draft"
state = "To Do"
next = ["done"]

[[phases]]
name = "done"
state = "Done"

[[phases.gates]]
id = "coverage"
kind = "min_metric"
key = "code_coverage"
threshold = 75.0
optional = true
`

func TestParseWorkflowYAML(t *testing.T) {
	def, err := ParseWorkflow([]byte(yamlWorkflow), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, "Task", def.WorkItemType)
	require.Len(t, def.Phases, 3)
	assert.Equal(t, types.Phase("draft"), def.Phases[0].Name, "names are normalized")
	assert.Equal(t, []types.Phase{"done", "draft"}, def.Phases[1].Next)
	assert.Equal(t, "spec_written", def.Phases[0].Gates[0].ID)
}

func TestParseWorkflowTOML(t *testing.T) {
	def, err := ParseWorkflow([]byte(tomlWorkflow), ".toml")
	require.NoError(t, err)
	done, ok := def.Phase("done")
	require.True(t, ok)
	require.Len(t, done.Gates, 1)
	assert.True(t, done.Gates[0].Optional)
	assert.Equal(t, 75.0, done.Gates[0].Threshold)
}

func TestParseWorkflowRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"unknown edge", "phases:\n  - name: a\n    state: New\n    next: [b]\n", ".yaml"},
		{"duplicate phase", "phases:\n  - name: a\n  - name: A\n", ".yaml"},
		{"no phases", "work_item_type: Bug\n", ".yaml"},
		{"unknown yaml key", "phases:\n  - name: a\n    colour: red\n", ".yaml"},
		{"unknown toml key", "[[phases]]\nname = \"a\"\ncolour = \"red\"\n", ".toml"},
		{"bad extension", "{}", ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.data), tt.ext)
			assert.Error(t, err)
		})
	}
}

func TestLoadWorkflow(t *testing.T) {
	def, err := LoadWorkflow("")
	require.NoError(t, err)
	assert.Len(t, def.Phases, 8)

	path := filepath.Join(t.TempDir(), "workflow.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlWorkflow), 0600))
	def, err = LoadWorkflow(path)
	require.NoError(t, err)
	assert.Equal(t, "Task", def.WorkItemType)

	_, err = LoadWorkflow(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
