package workers

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "target", "debug"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "target", "debug", "lib.rlib"), []byte("object"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "Cargo.lock"), []byte("lock"), 0o644))

	blob, err := packArchive(src, []string{"target", "Cargo.lock"})
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, unpackArchive(dst, blob))

	got, err := os.ReadFile(filepath.Join(dst, "target", "debug", "lib.rlib"))
	require.NoError(t, err)
	assert.Equal(t, []byte("object"), got)

	got, err = os.ReadFile(filepath.Join(dst, "Cargo.lock"))
	require.NoError(t, err)
	assert.Equal(t, []byte("lock"), got)
}

func TestPackArchiveMissingPath(t *testing.T) {
	src := t.TempDir()

	_, err := packArchive(src, []string{"node_modules"})
	assert.Error(t, err)
}

func TestUnpackArchiveRejectsEscapingEntries(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../outside",
		Mode: 0o644,
		Size: 4,
	}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	dst := t.TempDir()
	err = unpackArchive(dst, buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes workspace")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dst), "outside"))
	assert.True(t, os.IsNotExist(statErr))
}
