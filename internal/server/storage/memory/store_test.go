package memory

import (
	"testing"

	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/storagetest"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}
