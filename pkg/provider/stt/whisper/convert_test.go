package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestMonoFloat32Samples_Mono(t *testing.T) {
	pcm := pcmFromSamples([]int16{0, 16384, -16384, 32767, -32768})
	got := monoFloat32Samples(pcm, 1)

	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMonoFloat32Samples_StereoDownmix(t *testing.T) {
	// Two stereo frames: (16384, 0) and (-16384, -16384).
	pcm := pcmFromSamples([]int16{16384, 0, -16384, -16384})
	got := monoFloat32Samples(pcm, 2)

	if len(got) != 2 {
		t.Fatalf("length = %d, want 2", len(got))
	}
	if math.Abs(float64(got[0]-0.25)) > 1e-6 {
		t.Errorf("frame 0 = %v, want 0.25", got[0])
	}
	if math.Abs(float64(got[1]+0.5)) > 1e-6 {
		t.Errorf("frame 1 = %v, want -0.5", got[1])
	}
}

func TestMonoFloat32Samples_DropsPartialFrame(t *testing.T) {
	// Five bytes: two full mono samples plus a dangling byte.
	got := monoFloat32Samples([]byte{0, 0, 0, 64, 9}, 1)
	if len(got) != 2 {
		t.Errorf("length = %d, want 2", len(got))
	}
}

func TestMonoFloat32Samples_Empty(t *testing.T) {
	if got := monoFloat32Samples(nil, 1); len(got) != 0 {
		t.Errorf("length = %d, want 0", len(got))
	}
}

func TestMonoFloat32Samples_ZeroChannelsTreatedAsMono(t *testing.T) {
	pcm := pcmFromSamples([]int16{16384})
	got := monoFloat32Samples(pcm, 0)
	if len(got) != 1 {
		t.Fatalf("length = %d, want 1", len(got))
	}
	if math.Abs(float64(got[0]-0.5)) > 1e-6 {
		t.Errorf("sample = %v, want 0.5", got[0])
	}
}
