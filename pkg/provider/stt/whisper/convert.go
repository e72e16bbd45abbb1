package whisper

import "encoding/binary"

// monoFloat32Samples converts 16-bit signed little-endian PCM to the mono
// float32 samples in [-1.0, 1.0] that whisper.cpp consumes. Multi-channel
// input is down-mixed by averaging the channels of each frame. A trailing
// partial frame is dropped.
func monoFloat32Samples(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes

	out := make([]float32, frames)
	for i := range frames {
		base := i * frameBytes
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[base+2*ch:])))
		}
		out[i] = float32(sum) / float32(channels) / 32768.0
	}
	return out
}
