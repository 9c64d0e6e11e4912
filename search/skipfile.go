package search

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/charmbracelet/log"

	needle "github.com/aksiksi/needle"
	"github.com/aksiksi/needle/media"
)

// SkipSuffix is appended to a video path to name its skip file sidecar.
const SkipSuffix = ".needle.skip.json"

// SearchResult is the outcome for a single video: the detected opening and
// ending intervals (either may be absent) and the header-identity checksum
// of the video they were computed against.
type SearchResult struct {
	Path     string
	Opening  *Interval
	Ending   *Interval
	Checksum [16]byte
}

// skipFile is the stable JSON schema of the sidecar. The field names are
// fixed; external players consume them directly.
type skipFile struct {
	Opening *[2]float64 `json:"opening"`
	Ending  *[2]float64 `json:"ending"`
	MD5     string      `json:"md5"`
}

// SkipPath names the skip file sidecar for a video.
func SkipPath(videoPath string) string {
	return videoPath + SkipSuffix
}

// WriteSkipFile persists a result next to its video, atomically.
func WriteSkipFile(videoPath string, result SearchResult) error {
	data := skipFile{MD5: media.ChecksumString(result.Checksum)}
	if result.Opening != nil {
		data.Opening = &[2]float64{result.Opening.Start, result.Opening.End}
	}
	if result.Ending != nil {
		data.Ending = &[2]float64{result.Ending.Start, result.Ending.End}
	}

	raw, err := json.Marshal(&data)
	if err != nil {
		return needle.WrapError(needle.CodeUnknown, "encoding skip file", err)
	}

	path := SkipPath(videoPath)
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return needle.WrapError(needle.CodeIOError, "creating temp skip file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return needle.WrapError(needle.CodeIOError, "writing skip file", err)
	}
	if err := tmp.Close(); err != nil {
		return needle.WrapError(needle.CodeIOError, "closing temp skip file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return needle.WrapError(needle.CodeIOError, "renaming skip file", err)
	}
	return nil
}

// ReadSkipFile loads the sidecar for a video if one is present and still
// applicable. A skip file only applies while its recorded checksum matches
// the current media header; corrupt or stale sidecars are reported as
// absent after a warning, never as errors.
func ReadSkipFile(videoPath string, checksum [16]byte) (*SearchResult, bool) {
	raw, err := os.ReadFile(SkipPath(videoPath))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("unreadable skip file ignored", "path", SkipPath(videoPath), "err", err)
		}
		return nil, false
	}

	var data skipFile
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn("corrupt skip file ignored", "path", SkipPath(videoPath), "err", err)
		return nil, false
	}
	recorded, ok := media.ParseChecksum(data.MD5)
	if !ok || recorded != checksum {
		log.Debug("stale skip file ignored", "path", SkipPath(videoPath))
		return nil, false
	}

	result := &SearchResult{Path: videoPath, Checksum: checksum}
	if data.Opening != nil {
		result.Opening = &Interval{Start: data.Opening[0], End: data.Opening[1]}
	}
	if data.Ending != nil {
		result.Ending = &Interval{Start: data.Ending[0], End: data.Ending[1]}
	}
	return result, true
}
