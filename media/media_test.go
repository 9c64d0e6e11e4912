package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestFindVideoFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "ep02.mkv"))
	touch(t, filepath.Join(dir, "ep01.mkv"))
	touch(t, filepath.Join(dir, "ep03.MP4"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "extras", "special.avi"))

	found, err := FindVideoFiles([]string{dir}, false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "ep01.mkv"),
		filepath.Join(dir, "ep02.mkv"),
		filepath.Join(dir, "ep03.MP4"),
	}, found)

	found, err = FindVideoFiles([]string{dir}, true, false)
	require.NoError(t, err)
	assert.Len(t, found, 4)
	assert.Contains(t, found, filepath.Join(dir, "extras", "special.avi"))
}

func TestFindVideoFilesExplicitAndDeduplicated(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "ep01.mkv")
	touch(t, video)

	found, err := FindVideoFiles([]string{video, video, dir}, false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{video}, found)
}

func TestFindVideoFilesMissingPath(t *testing.T) {
	_, err := FindVideoFiles([]string{filepath.Join(t.TempDir(), "gone")}, false, false)
	assert.Error(t, err)
}

func TestHeaderChecksumPrefixSensitivity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ep01.mkv")

	// Slightly more than the 1 MiB header window.
	data := make([]byte, headerSize+128)
	for i := range data {
		data[i] = byte(i * 31)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	before, err := HeaderChecksum(path)
	require.NoError(t, err)

	// A change inside the header window flips the digest.
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
	mutated, err := HeaderChecksum(path)
	require.NoError(t, err)
	assert.NotEqual(t, before, mutated)

	// A change past the window does not.
	data[0] ^= 0xff
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
	tailMutated, err := HeaderChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, before, tailMutated)
}

func TestHeaderChecksumSmallFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mkv")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0o644))

	sum, err := HeaderChecksum(path)
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, sum)
}

func TestChecksumStringRoundTrip(t *testing.T) {
	sum := [16]byte{0xab, 0xcd, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	s := ChecksumString(sum)
	assert.Len(t, s, 32)

	parsed, ok := ParseChecksum(s)
	require.True(t, ok)
	assert.Equal(t, sum, parsed)

	_, ok = ParseChecksum("not-hex")
	assert.False(t, ok)
	_, ok = ParseChecksum("abcd")
	assert.False(t, ok)
}
