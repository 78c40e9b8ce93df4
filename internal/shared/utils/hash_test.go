package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_Consistent(t *testing.T) {
	h := DefaultHasher()

	fromBytes := h.Hash([]byte("lapp"))
	assert.True(t, strings.HasPrefix(fromBytes, "sha256:"))
	assert.Len(t, fromBytes, len("sha256:")+64)

	fromReader, err := h.HashReader(strings.NewReader("lapp"))
	require.NoError(t, err)
	assert.Equal(t, fromBytes, fromReader)

	path := filepath.Join(t.TempDir(), "server.wasm")
	require.NoError(t, os.WriteFile(path, []byte("lapp"), 0o644))
	fromFile, err := h.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, fromBytes, fromFile)

	assert.NotEqual(t, fromBytes, h.Hash([]byte("lapp2")))
}

func TestHasher_MissingFile(t *testing.T) {
	_, err := DefaultHasher().HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
