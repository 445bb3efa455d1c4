package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "history.db")

	var inspected string
	err := checkLocalFilesystem(dbPath, func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected, "detector sees the nearest existing ancestor")
}

func TestCheckLocalFilesystemRejectsNetworkMounts(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(filepath.Join(t.TempDir(), "history.db"), func(string) (string, error) {
		return "NFS", nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `network filesystem "NFS"`)
	assert.Contains(t, err.Error(), "state.path")
}

func TestCheckLocalFilesystemDetectorError(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(t.TempDir(), func(string) (string, error) {
		return "", errFSUnknown
	})
	assert.True(t, errors.Is(err, errFSUnknown))
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"ext4":   false,
		"0x6969": false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
