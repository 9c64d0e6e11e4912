// Package media handles discovery of video files and the lightweight
// header-identity checksum used to invalidate sidecar artifacts when a
// source file changes.
package media

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/charmbracelet/log"

	needle "github.com/aksiksi/needle"
	"github.com/aksiksi/needle/audio"
)

// headerSize is how much of the file prefix feeds the identity checksum.
// Container headers and early stream data fit comfortably in the first MiB,
// so any remux or re-encode changes the digest.
const headerSize = 1 << 20

// videoExtensions lists the container extensions treated as video files
// during discovery.
var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".m4v":  true,
	".avi":  true,
	".webm": true,
	".mov":  true,
	".ts":   true,
	".m2ts": true,
	".wmv":  true,
	".flv":  true,
	".ogv":  true,
}

// HeaderChecksum digests the first MiB of the file (or the whole file when
// smaller). The digest is stored in frame hash data and skip files; a
// mismatch marks those sidecars stale.
func HeaderChecksum(path string) ([16]byte, error) {
	var sum [16]byte
	file, err := os.Open(path)
	if err != nil {
		return sum, needle.WrapError(needle.CodeIOError, "opening media header", err)
	}
	defer file.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, io.LimitReader(file, headerSize)); err != nil {
		return sum, needle.WrapError(needle.CodeIOError, "reading media header", err)
	}
	copy(sum[:], hasher.Sum(nil))
	return sum, nil
}

// ChecksumString renders a checksum the way skip files store it.
func ChecksumString(sum [16]byte) string {
	return hex.EncodeToString(sum[:])
}

// ParseChecksum parses the skip file representation back into a digest.
func ParseChecksum(s string) ([16]byte, bool) {
	var sum [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(sum) {
		return sum, false
	}
	copy(sum[:], raw)
	return sum, true
}

// FindVideoFiles expands the given paths into a sorted list of video files.
// Directories are scanned one level deep unless recurse is set. When
// requireAudio is set, each candidate is probed and files without an audio
// stream are dropped with a warning.
func FindVideoFiles(paths []string, recurse, requireAudio bool) ([]string, error) {
	seen := make(map[string]bool)
	var found []string

	add := func(p string) {
		if !seen[p] && videoExtensions[strings.ToLower(filepath.Ext(p))] {
			seen[p] = true
			found = append(found, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, needle.WrapError(needle.CodeIOError, "stat "+path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if !recurse && p != path {
					return filepath.SkipDir
				}
				return nil
			}
			add(p)
			return nil
		})
		if err != nil {
			return nil, needle.WrapError(needle.CodeIOError, "walking "+path, err)
		}
	}

	sort.Strings(found)

	if !requireAudio {
		return found, nil
	}
	withAudio := found[:0]
	for _, p := range found {
		if _, err := audio.Probe(p, ""); err != nil {
			log.Warn("skipping file without a usable audio stream", "path", p, "err", err)
			continue
		}
		withAudio = append(withAudio, p)
	}
	return withAudio, nil
}
