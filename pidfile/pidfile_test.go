package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteProducesDecimalPidWithTrailingLinefeedOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitgo.pid")

	require.NoError(t, Write(path, 4242))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "4242\n", string(data))
}

func TestWriteTruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitgo.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0644))

	require.NoError(t, Write(path, 7))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "7\n", string(data))
}

func TestRemoveDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitgo.pid")
	require.NoError(t, Write(path, 1))

	require.NoError(t, Remove(path))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestRemoveOnMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.pid")
	require.NoError(t, Remove(path))
}

func TestRemoveEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, Remove(""))
}
