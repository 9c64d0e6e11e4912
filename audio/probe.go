package audio

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	needle "github.com/aksiksi/needle"
)

// MediaInfo describes the audio side of a probed media container.
type MediaInfo struct {
	// Index of the stream the decoder will use: the container's default
	// audio stream when one is flagged, otherwise the first audio stream.
	AudioStreamIndex int
	// Container-reported duration in seconds. Zero when the container does
	// not report one; the Reader then falls back to the observed duration.
	Duration float64
}

type probeStream struct {
	Index       int            `json:"index"`
	CodecType   string         `json:"codec_type"`
	CodecName   string         `json:"codec_name"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media container with ffprobe and resolves the audio
// stream the Reader will decode. It fails with an InvalidArgument code when
// the container holds no audio stream at all.
func Probe(path string, ffprobePath string) (*MediaInfo, error) {
	bin := strings.TrimSpace(ffprobePath)
	if bin == "" {
		bin = "ffprobe"
	}

	cmd := exec.Command(bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, needle.WrapError(needle.CodeIOError, "ffprobe failed for "+path, err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, needle.WrapError(needle.CodeUnknown, "ffprobe output unparseable for "+path, err)
	}

	info := &MediaInfo{AudioStreamIndex: -1}
	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if info.AudioStreamIndex < 0 {
			info.AudioStreamIndex = s.Index
		}
		if s.Disposition["default"] == 1 {
			info.AudioStreamIndex = s.Index
			break
		}
	}
	if info.AudioStreamIndex < 0 {
		return nil, needle.NewError(needle.CodeInvalidArgument, "no audio stream in "+path)
	}

	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		info.Duration = d
	}
	return info, nil
}
