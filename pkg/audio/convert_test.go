package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/audio"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	mono := samplesToBytes([]int16{100, 200, 300})
	stereo := audio.MonoToStereo(mono)
	got := bytesToSamples(stereo)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples should clamp to 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResample16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.Resample16(pcm, 1, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResample16_Downsample(t *testing.T) {
	// 48 kHz → 16 kHz: one third of the frames survive.
	src := make([]int16, 480)
	for i := range src {
		src[i] = int16(i)
	}
	out := audio.Resample16(samplesToBytes(src), 1, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 160 {
		t.Fatalf("got %d frames, want 160", len(got))
	}
	// Linear interpolation of a linear ramp stays on the ramp.
	if got[0] != 0 || got[1] != 3 {
		t.Errorf("got[0..1] = %d, %d, want 0, 3", got[0], got[1])
	}
}

func TestResample16_Upsample(t *testing.T) {
	out := audio.Resample16(samplesToBytes([]int16{0, 300, 600}), 1, 24000, 48000)
	got := bytesToSamples(out)
	if len(got) != 6 {
		t.Fatalf("got %d frames, want 6", len(got))
	}
	// Interpolated midpoints fall between the source samples.
	if got[1] != 150 {
		t.Errorf("got[1] = %d, want 150", got[1])
	}
}

func TestResample16_StereoPreservesInterleave(t *testing.T) {
	// One stereo frame per rate step, distinct channels.
	src := samplesToBytes([]int16{1000, -1000, 1000, -1000, 1000, -1000, 1000, -1000})
	out := audio.Resample16(src, 2, 48000, 24000)
	got := bytesToSamples(out)
	if len(got)%2 != 0 {
		t.Fatalf("odd sample count %d", len(got))
	}
	for i := 0; i < len(got); i += 2 {
		if got[i] != 1000 || got[i+1] != -1000 {
			t.Errorf("frame %d = (%d, %d), want (1000, -1000)", i/2, got[i], got[i+1])
		}
	}
}

func TestFormatConverter_PassThrough(t *testing.T) {
	c := &audio.FormatConverter{Target: audio.STTFormat}
	in := types.AudioFrame{
		Data:       samplesToBytes([]int16{1, 2, 3}),
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Second,
	}
	out := c.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should pass through without copying")
	}
}

func TestFormatConverter_DownmixAndResample(t *testing.T) {
	c := &audio.FormatConverter{Target: audio.STTFormat}
	src := make([]int16, 960*2) // 10ms of 48 kHz stereo
	in := types.AudioFrame{
		Data:       samplesToBytes(src),
		SampleRate: 48000,
		Channels:   2,
		Timestamp:  time.Second,
	}
	out := c.Convert(in)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("format = %d Hz / %d ch, want 16000 / 1", out.SampleRate, out.Channels)
	}
	if len(out.Data) != 320*2 {
		t.Errorf("got %d bytes, want 640 (10ms of 16 kHz mono)", len(out.Data))
	}
	if out.Timestamp != time.Second {
		t.Errorf("timestamp = %v, want preserved", out.Timestamp)
	}
}

func TestFormatConverter_DropsMisalignedFrames(t *testing.T) {
	c := &audio.FormatConverter{Target: audio.STTFormat}
	out := c.Convert(types.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("misaligned frame should be dropped, got %d bytes", len(out.Data))
	}
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Errorf("dropped frame should still carry the target format, got %+v", out)
	}
}

func TestDrain(t *testing.T) {
	ch := make(chan []byte, 3)
	ch <- []byte("a")
	ch <- []byte("b")
	close(ch)
	audio.Drain(ch) // must return once the channel closes
}
