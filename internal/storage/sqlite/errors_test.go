package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/steveyegge/foundry/internal/storage"
)

func TestWrapDBError(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		err       error
		wantNil   bool
		wantError string
		wantType  error
	}{
		{
			name:    "nil error returns nil",
			op:      "get snapshot",
			err:     nil,
			wantNil: true,
		},
		{
			name:      "sql.ErrNoRows converted to ErrNotFound",
			op:        "get work item wi-1",
			err:       sql.ErrNoRows,
			wantError: "get work item wi-1: not found",
			wantType:  storage.ErrNotFound,
		},
		{
			name:      "generic error wrapped with context",
			op:        "put snapshot",
			err:       errors.New("disk I/O error"),
			wantError: "put snapshot: disk I/O error",
		},
		{
			name:      "already wrapped error preserved",
			op:        "commit transition wi-1",
			err:       fmt.Errorf("phase moved: %w", storage.ErrConflict),
			wantError: "commit transition wi-1: phase moved: conflict",
			wantType:  storage.ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wrapDBError(tt.op, tt.err)
			if tt.wantNil {
				if result != nil {
					t.Errorf("wrapDBError() = %v, want nil", result)
				}
				return
			}
			if result == nil {
				t.Fatal("wrapDBError() returned nil, want error")
			}
			if result.Error() != tt.wantError {
				t.Errorf("wrapDBError() error = %q, want %q", result.Error(), tt.wantError)
			}
			if tt.wantType != nil && !errors.Is(result, tt.wantType) {
				t.Errorf("wrapDBError() error doesn't wrap %v", tt.wantType)
			}
		})
	}
}

func TestWrapDBErrorf(t *testing.T) {
	err := wrapDBErrorf(sql.ErrNoRows, "get intent %s", "wi-7")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("wrapDBErrorf didn't convert sql.ErrNoRows to ErrNotFound: %v", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		t.Error("sql.ErrNoRows should be replaced, not wrapped")
	}
	if got, want := err.Error(), "get intent wi-7: not found"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	if wrapDBErrorf(nil, "get intent %s", "wi-7") != nil {
		t.Error("nil error should stay nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("sqlite3: constraint failed: UNIQUE constraint failed: work_items.id"), true},
		{errors.New("sqlite3: database is locked"), false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
