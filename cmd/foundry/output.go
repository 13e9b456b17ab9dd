package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/steveyegge/foundry/internal/types"
)

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		exit(1)
	}
}

// errorCode maps the error taxonomy to a stable machine-readable code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, types.ErrConfigUnavailable):
		return "config_unavailable"
	case errors.Is(err, types.ErrTransitionFailed):
		return "transition_failed"
	case errors.Is(err, types.ErrUnmappedPhase):
		return "unmapped_phase"
	case errors.Is(err, types.ErrGateFailure):
		return "gate_failure"
	case errors.Is(err, types.ErrBusy):
		return "busy"
	}
	return ""
}

// fail reports err and exits 1. With --json the error goes to stderr as
// {"error": ..., "code": ...}.
func fail(err error) {
	if jsonOutput {
		errObj := map[string]string{"error": err.Error()}
		if code := errorCode(err); code != "" {
			errObj["code"] = code
		}
		encoder := json.NewEncoder(os.Stderr)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(errObj)
		exit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	exit(1)
}
