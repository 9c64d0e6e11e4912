package fingerprint

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	needle "github.com/aksiksi/needle"
)

func sampleFrameHashes() *FrameHashes {
	return &FrameHashes{
		Version:  FormatVersion,
		Checksum: [16]byte{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		Openings: []FrameHash{
			{Hash: 0xcafebabe, Time: 0},
			{Hash: 0x12345678, Time: 0.3},
			{Hash: 0xffffffff, Time: 0.6},
		},
		Endings: []FrameHash{
			{Hash: 0x0, Time: 1200.5},
			{Hash: 0xdeadbeef, Time: 1200.8},
		},
		Duration: 1420.25,
	}
}

func TestFrameHashesRoundTrip(t *testing.T) {
	orig := sampleFrameHashes()

	var buf bytes.Buffer
	require.NoError(t, orig.Encode(&buf))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}

func TestFrameHashesRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := &FrameHashes{Version: FormatVersion}
		copy(f.Checksum[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "sum"))

		last := 0.0
		n := rapid.IntRange(0, 64).Draw(t, "openings")
		for i := 0; i < n; i++ {
			last += rapid.Float64Range(0.001, 10).Draw(t, "step")
			f.Openings = append(f.Openings, FrameHash{
				Hash: rapid.Uint32().Draw(t, "hash"),
				Time: last,
			})
		}
		m := rapid.IntRange(0, 64).Draw(t, "endings")
		for i := 0; i < m; i++ {
			last += rapid.Float64Range(0.001, 10).Draw(t, "step")
			f.Endings = append(f.Endings, FrameHash{
				Hash: rapid.Uint32().Draw(t, "hash"),
				Time: last,
			})
		}
		f.Duration = last + 1

		var buf bytes.Buffer
		if err := f.Encode(&buf); err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := Decode(&buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(decoded.Openings) != len(f.Openings) || len(decoded.Endings) != len(f.Endings) {
			t.Fatalf("sequence lengths changed in round trip")
		}
		for i := range f.Openings {
			if decoded.Openings[i] != f.Openings[i] {
				t.Fatalf("opening %d changed: %v != %v", i, decoded.Openings[i], f.Openings[i])
			}
		}
		for i := range f.Endings {
			if decoded.Endings[i] != f.Endings[i] {
				t.Fatalf("ending %d changed: %v != %v", i, decoded.Endings[i], f.Endings[i])
			}
		}
	})
}

func TestFrameHashesFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ep01.mkv"+DataSuffix)

	orig := sampleFrameHashes()
	require.NoError(t, orig.WriteFile(path))

	// Atomic write leaves no temp siblings behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, loaded)
}

func TestFrameHashesWriteIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dat")
	b := filepath.Join(dir, "b.dat")

	f := sampleFrameHashes()
	require.NoError(t, f.WriteFile(a))
	require.NoError(t, f.WriteFile(b))

	rawA, err := os.ReadFile(a)
	require.NoError(t, err)
	rawB, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB)
}

func TestFrameHashesMissingFile(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.dat"))
	assert.Equal(t, needle.CodeFrameHashDataNotFound, needle.CodeOf(err))
}

func TestFrameHashesBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleFrameHashes().Encode(&buf))
	raw := buf.Bytes()
	raw[0] = 'X'

	_, err := Decode(bytes.NewReader(raw))
	assert.Equal(t, needle.CodeInvalidFrameHashData, needle.CodeOf(err))
}

func TestFrameHashesUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleFrameHashes().Encode(&buf))
	raw := buf.Bytes()
	binary.LittleEndian.PutUint16(raw[4:], 99)

	_, err := Decode(bytes.NewReader(raw))
	assert.Equal(t, needle.CodeFrameHashDataInvalidVersion, needle.CodeOf(err))
}

func TestFrameHashesRejectsUnorderedTimes(t *testing.T) {
	f := sampleFrameHashes()
	f.Openings[2].Time = f.Openings[1].Time // tie, not strictly ascending

	var buf bytes.Buffer
	require.NoError(t, f.Encode(&buf))

	_, err := Decode(&buf)
	assert.Equal(t, needle.CodeInvalidFrameHashData, needle.CodeOf(err))
}

func TestFrameHashesTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleFrameHashes().Encode(&buf))
	raw := buf.Bytes()

	for _, cut := range []int{0, 3, 5, 20, 29, len(raw) - 1} {
		_, err := Decode(bytes.NewReader(raw[:cut]))
		assert.Error(t, err, "cut at %d", cut)
	}
}
