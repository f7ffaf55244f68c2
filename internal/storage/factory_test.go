package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
)

func TestNewStorageManager(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = t.TempDir()

	manager, err := NewStorageManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	assert.NotNil(t, manager.RunStorage())
	require.NoError(t, manager.Close())
}

func TestNewStorageManagerRejectsUnknownType(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Storage.Type = "sqlite"
	config.Storage.Badger.Path = t.TempDir()

	_, err := NewStorageManager(arbor.NewLogger(), config)
	assert.ErrorContains(t, err, "unsupported storage type")
}
