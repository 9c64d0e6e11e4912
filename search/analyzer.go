package search

import (
	"io"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"

	needle "github.com/aksiksi/needle"
	"github.com/aksiksi/needle/audio"
	"github.com/aksiksi/needle/fingerprint"
	"github.com/aksiksi/needle/media"
)

// Analyzer defaults, documented in one place. The search percentages bound
// the leading and trailing fraction of each video that is fingerprinted.
const (
	DefaultOpeningSearchPercentage = 0.33
	DefaultEndingSearchPercentage  = 0.25
)

// AnalyzerConfig is an immutable configuration value for the Analyzer.
// Build one from DefaultAnalyzerConfig and the With methods.
type AnalyzerConfig struct {
	// OpeningSearchPercentage is the fraction of total duration at the
	// start of each video considered the opening search region, in (0, 1].
	OpeningSearchPercentage float64
	// EndingSearchPercentage is the fraction at the end considered the
	// ending search region, in (0, 1].
	EndingSearchPercentage float64
	// IncludeEndings controls whether ending-region fingerprints are
	// computed and stored at all.
	IncludeEndings bool
	// HashDuration is the analysis window length in seconds; at least 3.
	HashDuration float64
	// HashPeriod is the time between successive hash windows in seconds.
	HashPeriod float64
	// ThreadedDecoding enables decoder-internal threading.
	ThreadedDecoding bool
	// Force re-analyzes even when a valid on-disk artifact exists.
	Force bool
	// FFmpegPath and FFprobePath override the binaries found on PATH.
	FFmpegPath  string
	FFprobePath string
}

// DefaultAnalyzerConfig returns the documented defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		OpeningSearchPercentage: DefaultOpeningSearchPercentage,
		EndingSearchPercentage:  DefaultEndingSearchPercentage,
		IncludeEndings:          true,
		HashDuration:            fingerprint.DefaultWindowDuration,
		HashPeriod:              fingerprint.DefaultHopDuration,
		ThreadedDecoding:        true,
	}
}

func (c AnalyzerConfig) WithOpeningSearchPercentage(p float64) AnalyzerConfig {
	c.OpeningSearchPercentage = p
	return c
}

func (c AnalyzerConfig) WithEndingSearchPercentage(p float64) AnalyzerConfig {
	c.EndingSearchPercentage = p
	return c
}

func (c AnalyzerConfig) WithIncludeEndings(v bool) AnalyzerConfig {
	c.IncludeEndings = v
	return c
}

func (c AnalyzerConfig) WithHashDuration(d float64) AnalyzerConfig {
	c.HashDuration = d
	return c
}

func (c AnalyzerConfig) WithHashPeriod(d float64) AnalyzerConfig {
	c.HashPeriod = d
	return c
}

func (c AnalyzerConfig) WithThreadedDecoding(v bool) AnalyzerConfig {
	c.ThreadedDecoding = v
	return c
}

func (c AnalyzerConfig) WithForce(v bool) AnalyzerConfig {
	c.Force = v
	return c
}

func (c AnalyzerConfig) WithFFmpegPath(p string) AnalyzerConfig {
	c.FFmpegPath = p
	return c
}

func (c AnalyzerConfig) WithFFprobePath(p string) AnalyzerConfig {
	c.FFprobePath = p
	return c
}

func (c AnalyzerConfig) validate() error {
	for _, p := range []float64{c.OpeningSearchPercentage, c.EndingSearchPercentage} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 || p > 1 {
			return needle.Errorf(needle.CodeInvalidArgument,
				"search percentage %.3f outside (0, 1]", p)
		}
	}
	// Window validation carries the analyzer-specific codes.
	return c.fingerprintConfig().Validate()
}

func (c AnalyzerConfig) fingerprintConfig() fingerprint.Config {
	return fingerprint.DefaultConfig().
		WithWindowDuration(c.HashDuration).
		WithHopDuration(c.HashPeriod)
}

// FileError is one per-file failure collected during a parallel run.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e FileError) Unwrap() error { return e.Err }

// RunErrors aggregates per-file failures. A run that produced any still
// returns its partial results; RunErrors rides alongside them.
type RunErrors []FileError

func (e RunErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e RunErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Analyzer ensures every input video has FrameHashes available, loading
// valid on-disk artifacts and computing the rest.
type Analyzer struct {
	paths  []string
	cfg    AnalyzerConfig
	hashes []*fingerprint.FrameHashes
}

// NewAnalyzer validates the configuration and prepares an Analyzer over the
// given video paths.
func NewAnalyzer(paths []string, cfg AnalyzerConfig) (*Analyzer, error) {
	if len(paths) == 0 {
		return nil, needle.NewError(needle.CodeInvalidArgument, "no paths to analyze")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Analyzer{paths: paths, cfg: cfg}, nil
}

// Paths returns the input paths in their original order.
func (a *Analyzer) Paths() []string { return a.paths }

// FrameHashes returns the artifact for input i after Run. The entry is nil
// when that file failed.
func (a *Analyzer) FrameHashes(i int) *fingerprint.FrameHashes { return a.hashes[i] }

// Run processes every input path, one task per file across a bounded worker
// pool when threaded. Results come back in input order. A failing file
// contributes a nil entry and a FileError; it never aborts its peers. The
// returned error is a RunErrors when any file failed, nil otherwise.
func (a *Analyzer) Run(threaded, persist bool) ([]*fingerprint.FrameHashes, error) {
	results := make([]*fingerprint.FrameHashes, len(a.paths))
	var runErrs RunErrors
	var mu sync.Mutex

	process := func(i int, path string) {
		fh, err := a.analyzeOne(path, persist)
		if err != nil {
			log.Warn("analysis failed", "path", path, "err", err)
			mu.Lock()
			runErrs = append(runErrs, FileError{Path: path, Err: err})
			mu.Unlock()
			return
		}
		results[i] = fh
	}

	if threaded {
		sem := make(chan struct{}, runtime.NumCPU())
		var wg sync.WaitGroup
		for i, path := range a.paths {
			wg.Add(1)
			go func(i int, path string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				process(i, path)
			}(i, path)
		}
		wg.Wait()
	} else {
		for i, path := range a.paths {
			process(i, path)
		}
	}

	// Collection order depends on goroutine scheduling; report failures in
	// a stable order instead.
	sort.Slice(runErrs, func(i, j int) bool { return runErrs[i].Path < runErrs[j].Path })

	a.hashes = results
	return results, runErrs.orNil()
}

func (a *Analyzer) analyzeOne(path string, persist bool) (*fingerprint.FrameHashes, error) {
	checksum, err := media.HeaderChecksum(path)
	if err != nil {
		return nil, err
	}

	dataPath := fingerprint.DataPath(path)
	if persist && !a.cfg.Force {
		fh, err := fingerprint.ReadFile(dataPath)
		switch {
		case err == nil && fh.Checksum == checksum:
			log.Debug("reusing frame hash data", "path", dataPath)
			return fh, nil
		case err == nil:
			log.Debug("frame hash data stale, re-analyzing", "path", dataPath)
		case needle.CodeOf(err) != needle.CodeFrameHashDataNotFound:
			log.Warn("frame hash data unusable, re-analyzing", "path", dataPath, "err", err)
		}
	}

	info, err := audio.Probe(path, a.cfg.FFprobePath)
	if err != nil {
		return nil, err
	}

	fh := &fingerprint.FrameHashes{Version: fingerprint.FormatVersion, Checksum: checksum}
	if info.Duration > 0 {
		if err := a.checkDuration(info.Duration); err != nil {
			return nil, err
		}
		fh.Duration = info.Duration
		fh.Openings, _, err = a.fingerprintSpan(path, 0, a.cfg.OpeningSearchPercentage*info.Duration)
		if err != nil {
			return nil, err
		}
		if a.cfg.IncludeEndings {
			start := (1 - a.cfg.EndingSearchPercentage) * info.Duration
			fh.Endings, _, err = a.fingerprintSpan(path, start, info.Duration-start)
			if err != nil {
				return nil, err
			}
		}
	} else {
		// The container does not report a duration: decode the whole
		// stream once and carve the regions out of the hash sequence.
		hashes, observed, err := a.fingerprintSpan(path, 0, 0)
		if err != nil {
			return nil, err
		}
		if err := a.checkDuration(observed); err != nil {
			return nil, err
		}
		fh.Duration = observed
		openEnd := a.cfg.OpeningSearchPercentage * observed
		endStart := (1 - a.cfg.EndingSearchPercentage) * observed
		for _, h := range hashes {
			if h.Time <= openEnd {
				fh.Openings = append(fh.Openings, h)
			}
			if a.cfg.IncludeEndings && h.Time >= endStart {
				fh.Endings = append(fh.Endings, h)
			}
		}
	}

	if persist {
		if err := fh.WriteFile(dataPath); err != nil {
			return nil, err
		}
	}
	return fh, nil
}

func (a *Analyzer) checkDuration(duration float64) error {
	if a.cfg.HashDuration >= duration {
		return needle.Errorf(needle.CodeAnalyzerInvalidHashDuration,
			"hash duration %.1fs covers the whole stream (%.1fs of audio)",
			a.cfg.HashDuration, duration)
	}
	return nil
}

// fingerprintSpan decodes the [start, start+span) window of the stream and
// fingerprints it. A zero span decodes to the end. Returns the hashes with
// absolute stream times and the stream duration observed by the reader.
func (a *Analyzer) fingerprintSpan(path string, start, span float64) ([]fingerprint.FrameHash, float64, error) {
	reader, err := audio.Open(path, audio.Options{
		Start:            start,
		Span:             span,
		ThreadedDecoding: a.cfg.ThreadedDecoding,
		FFmpegPath:       a.cfg.FFmpegPath,
		FFprobePath:      a.cfg.FFprobePath,
	})
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	fp, err := fingerprint.New(audio.SampleRate, audio.Channels, a.cfg.fingerprintConfig())
	if err != nil {
		return nil, 0, err
	}

	for {
		block, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		fp.Feed(block.Samples)
	}

	hashes := fp.Finish()
	for i := range hashes {
		hashes[i].Time += start
	}
	return hashes, reader.Duration(), nil
}
