package fingerprint

import (
	"math"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	needle "github.com/aksiksi/needle"
)

const testRate = 11025

// sinePCM generates stereo interleaved PCM of the given duration mixing the
// provided frequencies.
func sinePCM(duration float64, amplitude float64, freqs ...float64) []int16 {
	frames := int(duration * testRate)
	samples := make([]int16, frames*2)
	for i := 0; i < frames; i++ {
		var v float64
		for _, f := range freqs {
			v += math.Sin(2 * math.Pi * f * float64(i) / testRate)
		}
		s := int16(amplitude * 8000 * v)
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func TestFingerprinterDeterministic(t *testing.T) {
	pcm := sinePCM(10, 1.0, 440, 660)

	var runs [2][]FrameHash
	for i := range runs {
		fp, err := New(testRate, 2, DefaultConfig())
		require.NoError(t, err)
		// Feed in uneven chunks; framing must not depend on block sizes.
		chunk := 1000 + i*3333
		for off := 0; off < len(pcm); off += chunk {
			end := off + chunk
			if end > len(pcm) {
				end = len(pcm)
			}
			fp.Feed(pcm[off:end])
		}
		runs[i] = fp.Finish()
	}

	require.NotEmpty(t, runs[0])
	assert.Equal(t, runs[0], runs[1])
}

func TestFingerprinterTiming(t *testing.T) {
	cfg := DefaultConfig()
	fp, err := New(testRate, 2, cfg)
	require.NoError(t, err)

	const duration = 10.0
	fp.Feed(sinePCM(duration, 1.0, 440))
	hashes := fp.Finish()

	window := int(cfg.WindowDuration * testRate)
	hop := int(cfg.HopDuration * testRate)
	want := (int(duration*testRate)-window)/hop + 1
	require.Len(t, hashes, want)

	// The hop is quantized to whole samples, so spacing is exact in sample
	// units rather than in the configured seconds.
	spacing := float64(hop) / testRate
	assert.Equal(t, 0.0, hashes[0].Time)
	for i := 1; i < len(hashes); i++ {
		assert.Greater(t, hashes[i].Time, hashes[i-1].Time)
		assert.InDelta(t, spacing, hashes[i].Time-hashes[i-1].Time, 1e-9)
	}
}

func TestFingerprinterLevelInvariant(t *testing.T) {
	// The hash compares energies against each other, never against absolute
	// thresholds, so a quieter copy of the same audio stays within the
	// default match threshold of the original. Quantization noise may flip
	// the odd bit in near-silent chroma bands, but no more.
	loud, err := New(testRate, 2, DefaultConfig())
	require.NoError(t, err)
	loud.Feed(sinePCM(8, 1.0, 440, 554, 659))

	quiet, err := New(testRate, 2, DefaultConfig())
	require.NoError(t, err)
	quiet.Feed(sinePCM(8, 0.5, 440, 554, 659))

	a, b := loud.Finish(), quiet.Finish()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Time, b[i].Time)
		assert.LessOrEqual(t, bits.OnesCount32(a[i].Hash^b[i].Hash), 10,
			"window %d drifted too far", i)
	}
}

func TestFingerprinterDistinctContent(t *testing.T) {
	a, err := New(testRate, 2, DefaultConfig())
	require.NoError(t, err)
	a.Feed(sinePCM(5, 1.0, 261, 329, 392))
	b, err := New(testRate, 2, DefaultConfig())
	require.NoError(t, err)
	b.Feed(sinePCM(5, 1.0, 440, 554, 659))

	ha, hb := a.Finish(), b.Finish()
	require.Equal(t, len(ha), len(hb))
	assert.NotEqual(t, ha, hb)
}

func TestFingerprinterMonoInput(t *testing.T) {
	fp, err := New(testRate, 1, DefaultConfig())
	require.NoError(t, err)

	frames := int(5 * testRate)
	mono := make([]int16, frames)
	for i := range mono {
		mono[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	fp.Feed(mono)
	assert.NotEmpty(t, fp.Finish())
}

func TestFingerprinterConfigValidation(t *testing.T) {
	_, err := New(testRate, 2, DefaultConfig().WithWindowDuration(2.9))
	assert.Equal(t, needle.CodeAnalyzerInvalidHashDuration, needle.CodeOf(err))

	_, err = New(testRate, 2, DefaultConfig().WithWindowDuration(math.NaN()))
	assert.Equal(t, needle.CodeAnalyzerInvalidHashDuration, needle.CodeOf(err))

	_, err = New(testRate, 2, DefaultConfig().WithHopDuration(0))
	assert.Equal(t, needle.CodeAnalyzerInvalidHashPeriod, needle.CodeOf(err))

	_, err = New(testRate, 0, DefaultConfig())
	assert.Equal(t, needle.CodeInvalidArgument, needle.CodeOf(err))

	_, err = New(testRate, 6, DefaultConfig())
	assert.Equal(t, needle.CodeInvalidArgument, needle.CodeOf(err))
}

func TestFingerprinterShortInputEmitsNothing(t *testing.T) {
	fp, err := New(testRate, 2, DefaultConfig())
	require.NoError(t, err)
	fp.Feed(sinePCM(2, 1.0, 440))
	assert.Empty(t, fp.Finish())
}
