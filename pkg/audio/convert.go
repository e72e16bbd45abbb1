// Package audio provides PCM format conversion and Opus transport coding for
// the call media path. Inbound telephony audio arrives as 48 kHz Opus, STT
// wants 16 kHz mono PCM, and TTS output goes back out at the bridge rate;
// this package does the plumbing between those formats.
package audio

import (
	"log/slog"
	"sync"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is the format speech recognition providers expect.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// FormatConverter converts frames to a target format. It warns once on the
// first mismatch and drops frames whose PCM data is misaligned. Create one
// per stream; not safe for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. A frame already in the
// target format is returned unchanged. Resampling happens before channel
// conversion so stereo input is never resampled when the target is mono.
func (c *FormatConverter) Convert(frame types.AudioFrame) types.AudioFrame {
	// int16 PCM must be an even number of bytes.
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("dropping misaligned PCM frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels)
		})
		return types.AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch, converting",
			"fromRate", frame.SampleRate, "fromChannels", frame.Channels,
			"toRate", c.Target.SampleRate, "toChannels", c.Target.Channels)
	})

	pcm := frame.Data
	rate := frame.SampleRate
	channels := frame.Channels

	if rate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, rate, c.Target.SampleRate)
		rate = c.Target.SampleRate
	}

	switch {
	case channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
		channels = 2
	case channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
		channels = 1
	}

	return types.AudioFrame{
		Data:       pcm,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame, clamping to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resample16 resamples little-endian int16 PCM from srcRate to dstRate using
// linear interpolation. channels must be 1 or 2; interleaving is preserved.
// If srcRate equals dstRate the input is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	if channels != 1 && channels != 2 {
		return pcm
	}
	frameBytes := channels * 2
	if len(pcm) < frameBytes {
		return pcm
	}

	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)

	sample := func(frame, ch int) int16 {
		off := frame*frameBytes + ch*2
		return int16(pcm[off]) | int16(pcm[off+1])<<8
	}

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		for ch := range channels {
			s0 := sample(srcIdx, ch)
			s1 := s0
			if srcIdx+1 < srcFrames {
				s1 = sample(srcIdx+1, ch)
			}
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			off := i*frameBytes + ch*2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}

// Drain reads from ch until it closes, discarding all values. Prevents
// goroutine leaks when a streaming channel's data is not needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
