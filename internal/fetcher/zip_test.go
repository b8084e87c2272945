package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIPSingle(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"diamonds.csv":           "carat,price\n",
		"__MACOSX/._diamonds.csv": "junk",
		"nested/":                "",
	})

	dest := t.TempDir()
	path, err := ExtractZIPSingle(zipPath, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "diamonds.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "carat,price\n", string(data))
}

func TestExtractZIPSingle_MultipleFiles(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"a.csv": "a",
		"b.csv": "b",
	})

	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 file, got 2")
}

func TestExtractZIPSingle_Empty(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{})
	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	assert.Error(t, err)
}

func TestExtractZIPSingle_ZipSlip(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"../../evil.csv": "pwned",
	})

	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
}

func TestExtractZIPSingle_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := ExtractZIPSingle(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: open archive")
}
