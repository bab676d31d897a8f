package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "debug.log")

	l, err := New(path)
	require.NoError(t, err)
	l.Log("dispatched %s", "item-1")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug log started")
	assert.Contains(t, string(data), "dispatched item-1")
}

func TestForRepo(t *testing.T) {
	repo := t.TempDir()
	l := ForRepo(repo)
	l.Log("hello")
	require.NoError(t, l.Close())

	assert.FileExists(t, filepath.Join(repo, ".issueforge", "logs", "debug.log"))
}

func TestNopAndNil(t *testing.T) {
	var nilLogger *DebugLogger
	assert.NotPanics(t, func() {
		nilLogger.Log("x")
		Nop().Log("y")
	})
	assert.NoError(t, nilLogger.Close())
	assert.NoError(t, Nop().Close())

	l, err := New("")
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

func TestFunc(t *testing.T) {
	assert.Nil(t, Func(nil))
	assert.NotNil(t, Func(Nop()))
}
