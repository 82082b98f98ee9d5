package media

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// PCMConverter conforms 16-bit PCM chunks from a device format to the
// format a codec expects. It logs once on the first mismatch and once on the
// first corrupt (odd-length) chunk. Create one per stream.
type PCMConverter struct {
	Source Format
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns pcm in the target format. If the formats already match the
// input is returned unchanged. Odd-length chunks are dropped (nil).
// Conversion order: resample first, then channel convert.
func (c *PCMConverter) Convert(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("pcm converter: odd byte count, dropping chunk", "bytes", len(pcm))
		})
		return nil
	}
	src, dst := c.Source, c.Target
	if src.SampleRate <= 0 || dst.SampleRate <= 0 || src == dst {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("pcm format mismatch: converting", "from", src.String(), "to", dst.String())
	})

	if src.SampleRate != dst.SampleRate {
		if src.Channels == 2 {
			pcm = ResampleStereo16(pcm, src.SampleRate, dst.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, src.SampleRate, dst.SampleRate)
		}
	}
	if src.Channels == 1 && dst.Channels == 2 {
		pcm = MonoToStereo(pcm)
	} else if src.Channels == 2 && dst.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per 4-byte stereo frame.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*4))
		r := int32(sampleAt(pcm, i*4+2))
		putSample(out, i*2, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate using linear interpolation.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 2)
}

func resample16(pcm []byte, srcRate, dstRate, channels int) []byte {
	frameBytes := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*frameBytes+ch*2))
			s1 := float64(sampleAt(pcm, next*frameBytes+ch*2))
			putSample(out, i*frameBytes+ch*2, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, off int) int16 {
	return int16(pcm[off]) | int16(pcm[off+1])<<8
}

func putSample(pcm []byte, off int, s int16) {
	pcm[off] = byte(s)
	pcm[off+1] = byte(s >> 8)
}

// BytesToInt16s converts little-endian bytes to int16 samples.
func BytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = sampleAt(b, i*2)
	}
	return out
}
