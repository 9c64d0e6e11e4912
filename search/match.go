// Package search holds the two halves of the detection pipeline: the
// Analyzer, which ensures every input video has fingerprint data, and the
// Comparator, which matches that data pairwise across the set to extract
// each video's opening and ending interval.
package search

import (
	"math/bits"

	"github.com/aksiksi/needle/fingerprint"
)

// Interval is a time range in seconds, End exclusive of the audio that
// follows it. Start <= End holds for intervals produced here; a match of a
// single hash has Start == End.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the interval length in seconds.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

// Match is a contiguous run of hash positions where two videos agree within
// the Hamming threshold. Src and Dst cover the same number of hashes; Score
// accumulates the Hamming distance over the run, lower meaning closer.
type Match struct {
	Src    Interval
	Dst    Interval
	Length int
	Score  int
}

// findLongestMatches sweeps two hash sequences and records every maximal
// matching run. For each source position the destination is scanned; when a
// pair lands within the threshold, the run is extended greedily along both
// sequences, recorded, and the destination cursor jumps past the run before
// the scan resumes.
func findLongestMatches(a, b []fingerprint.FrameHash, threshold uint32) []Match {
	var matches []Match
	for k := 0; k < len(a); k++ {
		for l := 0; l < len(b); {
			if dist(a[k].Hash, b[l].Hash) > threshold {
				l++
				continue
			}
			runLen := 0
			score := 0
			for k+runLen < len(a) && l+runLen < len(b) {
				d := dist(a[k+runLen].Hash, b[l+runLen].Hash)
				if d > threshold {
					break
				}
				score += int(d)
				runLen++
			}
			matches = append(matches, Match{
				Src:    Interval{Start: a[k].Time, End: a[k+runLen-1].Time},
				Dst:    Interval{Start: b[l].Time, End: b[l+runLen-1].Time},
				Length: runLen,
				Score:  score,
			})
			l += runLen
		}
	}
	return matches
}

func dist(x, y uint32) uint32 {
	return uint32(bits.OnesCount32(x ^ y))
}

// candidate is a Match promoted for selection, tagged with the peer video
// that produced it.
type candidate struct {
	Match
	peer int
	self bool
}

// candidateHeap orders candidates by the weighted score
// lengthWeight*Length + durationWeight*Src.Duration, best first. Ties fall
// back, in order, to the earlier source start, then cross-video matches
// over self-matches, then the lower peer index; the chain is total, so
// selection is deterministic regardless of insertion order.
type candidateHeap struct {
	items          []candidate
	lengthWeight   float64
	durationWeight float64
}

func (h *candidateHeap) Len() int { return len(h.items) }

func (h *candidateHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	wa := h.lengthWeight*float64(a.Length) + h.durationWeight*a.Src.Duration()
	wb := h.lengthWeight*float64(b.Length) + h.durationWeight*b.Src.Duration()
	if wa != wb {
		return wa > wb
	}
	if a.Src.Start != b.Src.Start {
		return a.Src.Start < b.Src.Start
	}
	if a.self != b.self {
		return !a.self
	}
	return a.peer < b.peer
}

func (h *candidateHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *candidateHeap) Push(x any) { h.items = append(h.items, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
