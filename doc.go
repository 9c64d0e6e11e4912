// Package needle locates the opening (intro) and ending (credits) segments
// shared across a set of episodic video files.
//
// The pipeline decodes an audio stream from each video into canonical PCM,
// computes a sequence of 32-bit acoustic fingerprints with timestamps,
// persists them in a versioned binary container next to the video, and then
// compares fingerprints pairwise across the whole set to extract the most
// likely opening and ending interval per video.
//
// The subpackages map onto the pipeline stages:
//
//   - audio: ffmpeg-backed decoding of the default audio stream to PCM
//   - fingerprint: frame hashing and the on-disk frame hash container
//   - search: the Analyzer (per-video hashing) and Comparator (pairwise search)
//   - media: video file discovery and header-identity checksums
//
// This root package only carries the library version and the stable error
// codes shared by the library, the CLI, and any foreign-function façade
// built on top.
package needle

// Version is the library version reported by the CLI.
const Version = "0.1.0"
