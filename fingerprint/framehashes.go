package fingerprint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	needle "github.com/aksiksi/needle"
)

// FormatVersion is the current on-disk format version. Readers reject any
// other version so stale artifacts are recomputed rather than misread.
const FormatVersion uint16 = 1

// magic tags a frame hash data file.
var magic = [4]byte{'N', 'D', 'L', 'E'}

// DataSuffix is appended to a video path to name its frame hash sidecar.
const DataSuffix = ".needle.dat"

// FrameHashes is the per-video fingerprint artifact: the hash sequences
// covering the opening and ending search regions, the total audio duration,
// and the header-identity checksum of the source media used to invalidate
// the artifact when the source changes.
//
// Both sequences are strictly time-ascending and Duration is at least the
// last time in either.
type FrameHashes struct {
	Version  uint16
	Checksum [16]byte
	Openings []FrameHash
	Endings  []FrameHash
	Duration float64
}

// DataPath names the frame hash sidecar for a video.
func DataPath(videoPath string) string {
	return videoPath + DataSuffix
}

// Encode writes the binary container. Layout, little-endian throughout:
// magic, u16 version, 16-byte checksum, f64 duration, then for each of the
// opening and ending sequences a u32 count followed by (u32 hash, f64 time)
// records.
func (f *FrameHashes) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, f.Version); err != nil {
		return err
	}
	if _, err := bw.Write(f.Checksum[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, f.Duration); err != nil {
		return err
	}
	for _, seq := range [][]FrameHash{f.Openings, f.Endings} {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(seq))); err != nil {
			return err
		}
		for _, h := range seq {
			if err := binary.Write(bw, binary.LittleEndian, h.Hash); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, h.Time); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Decode reads and validates a binary container.
func Decode(r io.Reader) (*FrameHashes, error) {
	br := bufio.NewReader(r)

	var tag [4]byte
	if _, err := io.ReadFull(br, tag[:]); err != nil {
		return nil, invalidData("truncated header", err)
	}
	if tag != magic {
		return nil, invalidData(fmt.Sprintf("bad magic %q", tag[:]), nil)
	}

	f := &FrameHashes{}
	if err := binary.Read(br, binary.LittleEndian, &f.Version); err != nil {
		return nil, invalidData("truncated version", err)
	}
	if f.Version != FormatVersion {
		return nil, needle.Errorf(needle.CodeFrameHashDataInvalidVersion,
			"unknown frame hash data version %d", f.Version)
	}
	if _, err := io.ReadFull(br, f.Checksum[:]); err != nil {
		return nil, invalidData("truncated checksum", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &f.Duration); err != nil {
		return nil, invalidData("truncated duration", err)
	}

	for _, seq := range []*[]FrameHash{&f.Openings, &f.Endings} {
		var count uint32
		if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
			return nil, invalidData("truncated hash count", err)
		}
		hashes := make([]FrameHash, 0, min(int(count), 1<<16))
		for i := uint32(0); i < count; i++ {
			var h FrameHash
			if err := binary.Read(br, binary.LittleEndian, &h.Hash); err != nil {
				return nil, invalidData("truncated hash record", err)
			}
			if err := binary.Read(br, binary.LittleEndian, &h.Time); err != nil {
				return nil, invalidData("truncated hash record", err)
			}
			if i > 0 && h.Time <= hashes[i-1].Time {
				return nil, invalidData("hash times not strictly ascending", nil)
			}
			hashes = append(hashes, h)
		}
		*seq = hashes
	}
	return f, nil
}

// WriteFile persists the container atomically: the bytes land in a
// temporary sibling first and are renamed into place, so a crash never
// leaves a partial artifact behind.
func (f *FrameHashes) WriteFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return needle.WrapError(needle.CodeIOError, "creating temp file", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.Encode(tmp); err != nil {
		tmp.Close()
		return needle.WrapError(needle.CodeIOError, "writing frame hash data", err)
	}
	if err := tmp.Close(); err != nil {
		return needle.WrapError(needle.CodeIOError, "closing temp file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return needle.WrapError(needle.CodeIOError, "renaming frame hash data", err)
	}
	return nil
}

// ReadFile loads a container from disk. A missing file maps to the
// FrameHashDataNotFound code so callers can distinguish "analyze from
// scratch" from "artifact corrupt".
func ReadFile(path string) (*FrameHashes, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, needle.NewError(needle.CodeFrameHashDataNotFound, path)
		}
		return nil, needle.WrapError(needle.CodeIOError, "opening frame hash data", err)
	}
	defer file.Close()
	return Decode(file)
}

func invalidData(msg string, err error) error {
	return needle.WrapError(needle.CodeInvalidFrameHashData, msg, err)
}
