package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	needle "github.com/aksiksi/needle"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Canonical PCM format produced by the Reader. Fingerprinting does not need
// more bandwidth than this, and the low rate keeps decode cheap.
const (
	SampleRate = 11025
	Channels   = 2
)

// blockFrames is the number of interleaved frames returned per Block.
const blockFrames = 4096

// Block is a chunk of decoded, resampled PCM. Samples are signed 16-bit
// interleaved at the canonical rate and channel count. Time is the
// presentation time in seconds of the first sample in the block.
type Block struct {
	Samples []int16
	Time    float64
}

// Options configures a Reader.
type Options struct {
	// Start and Span select a time window of the stream, in seconds.
	// A zero Span decodes through to the end.
	Start float64
	Span  float64
	// ThreadedDecoding enables decoder-internal threading.
	ThreadedDecoding bool
	// FFmpegPath and FFprobePath override the binaries found on PATH.
	FFmpegPath  string
	FFprobePath string
}

// Reader decodes the default audio stream of a media container to canonical
// PCM through an ffmpeg subprocess feeding a pipe.
type Reader struct {
	info   *MediaInfo
	opts   Options
	pipe   *io.PipeReader
	stderr bytes.Buffer
	buf    []byte

	frames int64 // interleaved frames consumed so far
	eof    bool

	wg      sync.WaitGroup
	procErr error

	closeOnce sync.Once
}

// Open probes the container, resolves its default audio stream, and starts
// the decode pipeline. The caller must Close the Reader to release the
// subprocess.
func Open(path string, opts Options) (*Reader, error) {
	info, err := Probe(path, opts.FFprobePath)
	if err != nil {
		return nil, err
	}

	inputArgs := ffmpeg.KwArgs{}
	if opts.ThreadedDecoding {
		inputArgs["threads"] = "0"
	} else {
		inputArgs["threads"] = "1"
	}
	if opts.Start > 0 {
		inputArgs["ss"] = fmt.Sprintf("%.3f", opts.Start)
	}
	if opts.Span > 0 {
		inputArgs["t"] = fmt.Sprintf("%.3f", opts.Span)
	}

	outputArgs := ffmpeg.KwArgs{
		"f":   "s16le",
		"c:a": "pcm_s16le",
		"ar":  fmt.Sprintf("%d", SampleRate),
		"ac":  fmt.Sprintf("%d", Channels),
		"map": fmt.Sprintf("0:%d", info.AudioStreamIndex),
		"vn":  "",
		"sn":  "",
	}

	pipeReader, pipeWriter := io.Pipe()
	r := &Reader{
		info: info,
		opts: opts,
		pipe: pipeReader,
		buf:  make([]byte, blockFrames*Channels*2),
	}

	stream := ffmpeg.Input(path, inputArgs).
		Output("pipe:", outputArgs).
		WithOutput(pipeWriter, &r.stderr)
	if opts.FFmpegPath != "" {
		stream.SetFfmpegPath(opts.FFmpegPath)
	}
	cmd := stream.Compile()

	if err := cmd.Start(); err != nil {
		pipeReader.Close()
		pipeWriter.Close()
		return nil, needle.WrapError(needle.CodeIOError, "starting ffmpeg for "+path, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := cmd.Wait()
		if err != nil && !strings.Contains(err.Error(), "killed") {
			r.procErr = err
		}
		pipeWriter.Close()
	}()

	return r, nil
}

// Next returns the next decoded block, or io.EOF once the stream is
// exhausted. Block times start at the configured span offset and advance by
// exactly the number of frames emitted, so they are monotonic even when the
// source carries broken presentation timestamps (ffmpeg drops or reorders
// those packets before they reach the resampler).
func (r *Reader) Next() (*Block, error) {
	if r.eof {
		return nil, io.EOF
	}

	n, err := io.ReadFull(r.pipe, r.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.eof = true
		r.wg.Wait()
		if n == 0 {
			if r.procErr != nil {
				return nil, needle.WrapError(needle.CodeUnknown,
					"ffmpeg decode failed: "+lastLine(r.stderr.String()), r.procErr)
			}
			return nil, io.EOF
		}
	} else if err != nil {
		return nil, needle.WrapError(needle.CodeIOError, "reading decoded audio", err)
	}

	// Drop a trailing odd half-frame; the final block of a stream is not
	// always frame-aligned.
	n -= n % (Channels * 2)
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(r.buf[i*2:]))
	}

	block := &Block{
		Samples: samples,
		Time:    r.opts.Start + float64(r.frames)/float64(SampleRate),
	}
	r.frames += int64(len(samples) / Channels)
	return block, nil
}

// Duration reports the total duration of the audio stream in seconds. When
// the container does not declare one, the duration observed during decode is
// used instead, which is only authoritative once Next has returned io.EOF.
func (r *Reader) Duration() float64 {
	if r.info.Duration > 0 {
		return r.info.Duration
	}
	return r.opts.Start + float64(r.frames)/float64(SampleRate)
}

// Close terminates the decode pipeline. Safe to call multiple times.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.pipe.Close()
		r.wg.Wait()
	})
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
