package memory

import (
	"testing"

	"github.com/steveyegge/foundry/internal/storage"
	"github.com/steveyegge/foundry/internal/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}
