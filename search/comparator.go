package search

import (
	"container/heap"
	"math"
	"runtime"
	"sync"

	log "github.com/charmbracelet/log"

	needle "github.com/aksiksi/needle"
	"github.com/aksiksi/needle/fingerprint"
	"github.com/aksiksi/needle/media"
)

// Comparator defaults, documented in one place.
const (
	DefaultHashMatchThreshold uint16 = 10
	DefaultMinOpeningDuration uint16 = 20
	DefaultMinEndingDuration  uint16 = 10
)

// ComparatorConfig is an immutable configuration value for the Comparator.
// Build one from DefaultComparatorConfig and the With methods.
type ComparatorConfig struct {
	// HashMatchThreshold is the maximum Hamming distance at which two
	// frame hashes count as equal.
	HashMatchThreshold uint16
	// MinOpeningDuration and MinEndingDuration reject candidate intervals
	// shorter than these many seconds.
	MinOpeningDuration uint16
	MinEndingDuration  uint16
	// TimePadding widens accepted intervals by this many seconds on each
	// side before clamping to the video duration.
	TimePadding float64
	// IncludeEndings controls whether ending intervals are searched for.
	IncludeEndings bool
	// LengthWeight and DurationWeight weight a candidate's match length in
	// hashes and its source duration in seconds when ranking.
	LengthWeight   float64
	DurationWeight float64
	// SelfComparison also matches a video's opening region against its own
	// ending region and vice versa. Cross-video matches win ties.
	SelfComparison bool
	// Analyzer configures the analysis pass that Run performs when asked
	// to analyze, and supplies the hash window length used to extend a
	// chosen opening to the end of its last matched window.
	Analyzer AnalyzerConfig
}

// DefaultComparatorConfig returns the documented defaults.
func DefaultComparatorConfig() ComparatorConfig {
	return ComparatorConfig{
		HashMatchThreshold: DefaultHashMatchThreshold,
		MinOpeningDuration: DefaultMinOpeningDuration,
		MinEndingDuration:  DefaultMinEndingDuration,
		IncludeEndings:     true,
		LengthWeight:       1.0,
		DurationWeight:     1.0,
		SelfComparison:     true,
		Analyzer:           DefaultAnalyzerConfig(),
	}
}

func (c ComparatorConfig) WithHashMatchThreshold(t uint16) ComparatorConfig {
	c.HashMatchThreshold = t
	return c
}

func (c ComparatorConfig) WithMinOpeningDuration(d uint16) ComparatorConfig {
	c.MinOpeningDuration = d
	return c
}

func (c ComparatorConfig) WithMinEndingDuration(d uint16) ComparatorConfig {
	c.MinEndingDuration = d
	return c
}

func (c ComparatorConfig) WithTimePadding(p float64) ComparatorConfig {
	c.TimePadding = p
	return c
}

func (c ComparatorConfig) WithIncludeEndings(v bool) ComparatorConfig {
	c.IncludeEndings = v
	return c
}

func (c ComparatorConfig) WithLengthWeight(w float64) ComparatorConfig {
	c.LengthWeight = w
	return c
}

func (c ComparatorConfig) WithDurationWeight(w float64) ComparatorConfig {
	c.DurationWeight = w
	return c
}

func (c ComparatorConfig) WithSelfComparison(v bool) ComparatorConfig {
	c.SelfComparison = v
	return c
}

func (c ComparatorConfig) WithAnalyzer(a AnalyzerConfig) ComparatorConfig {
	c.Analyzer = a
	return c
}

func (c ComparatorConfig) validate() error {
	if c.HashMatchThreshold > 32 {
		return needle.Errorf(needle.CodeInvalidArgument,
			"hash match threshold %d exceeds 32 bits", c.HashMatchThreshold)
	}
	for _, w := range []float64{c.TimePadding, c.LengthWeight, c.DurationWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return needle.Errorf(needle.CodeInvalidArgument, "non-finite or negative weight %f", w)
		}
	}
	return c.Analyzer.validate()
}

// Comparator performs the pairwise fingerprint search across a set of
// videos and extracts each video's opening and ending interval.
type Comparator struct {
	paths []string
	cfg   ComparatorConfig
}

// NewComparator validates the configuration and prepares a Comparator.
// Pairwise search needs at least two videos.
func NewComparator(paths []string, cfg ComparatorConfig) (*Comparator, error) {
	if len(paths) < 2 {
		return nil, needle.NewError(needle.CodeComparatorMinimumPaths,
			"comparator requires at least two paths")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Comparator{paths: paths, cfg: cfg}, nil
}

// region indexes the two search regions of a video.
type region int

const (
	regionOpening region = iota
	regionEnding
)

// pairJob is one unit of pairwise work: source video i against peer j.
// i == j encodes the self-comparison of a video's two regions.
type pairJob struct {
	i, j int
}

// Run executes the full search. When analyze is set the input videos are
// fingerprinted first (persisting artifacts); otherwise existing artifacts
// are loaded from disk. Applicable skip files short-circuit their videos
// out of pairwise work when useSkipFiles is set. Results are returned in
// input order; a video without usable fingerprint data yields a result with
// neither interval. The returned error aggregates per-file analysis
// failures and never masks the returned results.
func (c *Comparator) Run(analyze, useSkipFiles, writeSkipFiles, threaded bool) ([]SearchResult, error) {
	n := len(c.paths)

	hashes, runErr := c.loadFrameHashes(analyze, threaded)

	checksums := make([][16]byte, n)
	for i, path := range c.paths {
		sum, err := media.HeaderChecksum(path)
		if err != nil {
			log.Warn("header checksum failed", "path", path, "err", err)
			continue
		}
		checksums[i] = sum
		if hashes[i] != nil && hashes[i].Checksum != sum {
			log.Warn("frame hash data stale, ignoring", "path", path)
			hashes[i] = nil
		}
	}

	results := make([]SearchResult, n)
	skipped := make([]bool, n)
	for i, path := range c.paths {
		results[i] = SearchResult{Path: path, Checksum: checksums[i]}
		if !useSkipFiles {
			continue
		}
		if r, ok := ReadSkipFile(path, checksums[i]); ok {
			log.Debug("using skip file", "path", path)
			results[i] = *r
			skipped[i] = true
		}
	}

	jobs := c.buildJobs(hashes, skipped)
	matches := c.runJobs(jobs, hashes, threaded)

	for i := range c.paths {
		if skipped[i] || hashes[i] == nil {
			continue
		}
		opening, ending := c.selectIntervals(i, jobs, matches, hashes[i].Duration)
		results[i].Opening = opening
		results[i].Ending = ending
	}

	if writeSkipFiles {
		for i, path := range c.paths {
			if skipped[i] {
				continue
			}
			if err := WriteSkipFile(path, results[i]); err != nil {
				log.Warn("skip file write failed", "path", path, "err", err)
			}
		}
	}

	return results, runErr
}

// loadFrameHashes obtains per-video fingerprint data, either by running the
// Analyzer or by loading persisted artifacts. Entries are nil for videos
// whose data is unavailable; those videos produce empty results.
func (c *Comparator) loadFrameHashes(analyze, threaded bool) ([]*fingerprint.FrameHashes, error) {
	if analyze {
		an, err := NewAnalyzer(c.paths, c.cfg.Analyzer)
		if err != nil {
			return make([]*fingerprint.FrameHashes, len(c.paths)), err
		}
		return an.Run(threaded, true)
	}

	hashes := make([]*fingerprint.FrameHashes, len(c.paths))
	var runErrs RunErrors
	for i, path := range c.paths {
		fh, err := fingerprint.ReadFile(fingerprint.DataPath(path))
		if err != nil {
			log.Warn("frame hash data unavailable", "path", path, "err", err)
			runErrs = append(runErrs, FileError{Path: path, Err: err})
			continue
		}
		hashes[i] = fh
	}
	return hashes, runErrs.orNil()
}

// buildJobs enumerates every ordered pair with usable data on both sides,
// plus the self pair for each video when self-comparison is on. Order is
// deterministic: all peers of video 0 first, then video 1, and so on.
func (c *Comparator) buildJobs(hashes []*fingerprint.FrameHashes, skipped []bool) []pairJob {
	var jobs []pairJob
	for i := range c.paths {
		if skipped[i] || hashes[i] == nil {
			continue
		}
		for j := range c.paths {
			if i == j {
				continue
			}
			if hashes[j] == nil {
				continue
			}
			jobs = append(jobs, pairJob{i: i, j: j})
		}
		if c.cfg.SelfComparison && c.cfg.IncludeEndings {
			jobs = append(jobs, pairJob{i: i, j: i})
		}
	}
	return jobs
}

// runJobs fans the pairwise work out across a worker pool. matches[k] holds
// the per-region match lists for jobs[k]; indexing by job keeps aggregation
// deterministic regardless of scheduling.
func (c *Comparator) runJobs(jobs []pairJob, hashes []*fingerprint.FrameHashes, threaded bool) [][2][]Match {
	matches := make([][2][]Match, len(jobs))
	threshold := uint32(c.cfg.HashMatchThreshold)

	work := func(k int) {
		job := jobs[k]
		src, dst := hashes[job.i], hashes[job.j]
		if job.i == job.j {
			// A video against itself: opening region vs its own ending
			// region, in both directions.
			matches[k][regionOpening] = findLongestMatches(src.Openings, src.Endings, threshold)
			matches[k][regionEnding] = findLongestMatches(src.Endings, src.Openings, threshold)
			return
		}
		matches[k][regionOpening] = findLongestMatches(src.Openings, dst.Openings, threshold)
		if c.cfg.IncludeEndings {
			matches[k][regionEnding] = findLongestMatches(src.Endings, dst.Endings, threshold)
		}
	}

	if !threaded {
		for k := range jobs {
			work(k)
		}
		return matches
	}

	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup
	for k := range jobs {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			work(k)
		}(k)
	}
	wg.Wait()
	return matches
}

// selectIntervals aggregates video i's candidates per region, ranks them,
// and applies post-processing to the winners.
func (c *Comparator) selectIntervals(i int, jobs []pairJob, matches [][2][]Match, duration float64) (*Interval, *Interval) {
	var openings, endings []candidate
	for k, job := range jobs {
		if job.i != i {
			continue
		}
		self := job.i == job.j
		for _, m := range matches[k][regionOpening] {
			openings = append(openings, candidate{Match: m, peer: job.j, self: self})
		}
		for _, m := range matches[k][regionEnding] {
			endings = append(endings, candidate{Match: m, peer: job.j, self: self})
		}
	}

	opening := c.selectBest(openings, float64(c.cfg.MinOpeningDuration))
	if opening != nil {
		// The matched end is the start of the last window; report the end
		// of the audio that window covers.
		opening.End += c.cfg.Analyzer.HashDuration
	}
	var ending *Interval
	if c.cfg.IncludeEndings {
		ending = c.selectBest(endings, float64(c.cfg.MinEndingDuration))
	}

	pad := c.cfg.TimePadding
	for _, iv := range []*Interval{opening, ending} {
		if iv == nil {
			continue
		}
		iv.Start = math.Max(0, iv.Start-pad)
		iv.End = math.Min(duration, iv.End+pad)
	}
	return opening, ending
}

// selectBest pops ranked candidates until one meets the minimum duration.
func (c *Comparator) selectBest(cands []candidate, minDuration float64) *Interval {
	if len(cands) == 0 {
		return nil
	}
	h := &candidateHeap{
		items:          cands,
		lengthWeight:   c.cfg.LengthWeight,
		durationWeight: c.cfg.DurationWeight,
	}
	heap.Init(h)
	for h.Len() > 0 {
		best := heap.Pop(h).(candidate)
		if best.Src.Duration() >= minDuration {
			iv := best.Src
			return &iv
		}
	}
	return nil
}
