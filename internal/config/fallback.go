package config

import (
	"fmt"
	"math"
	"os"
	"time"
)

// loadFallbackClip reads the clip played on speech synthesis exhaustion, or
// renders the built-in chime when no path is configured.
func loadFallbackClip(path string) ([]byte, error) {
	if path == "" {
		return defaultFallbackClip(), nil
	}
	clip, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read fallback clip: %w", err)
	}
	if len(clip) == 0 {
		return nil, fmt.Errorf("config: fallback clip %s is empty", path)
	}
	return clip, nil
}

// defaultFallbackClip renders a two-note chime as 48 kHz 16-bit LE mono PCM.
// Heard on synthesis exhaustion so the caller knows the line is still alive
// while the next turn retries the providers.
func defaultFallbackClip() []byte {
	const rate = 48000
	notes := []struct {
		freq float64
		dur  time.Duration
	}{
		{523.25, 180 * time.Millisecond},
		{392.00, 260 * time.Millisecond},
	}

	var buf []byte
	for _, n := range notes {
		samples := int(float64(rate) * n.dur.Seconds())
		// 10 ms linear ramp at each note edge avoids clicks.
		edge := rate / 100
		for i := 0; i < samples; i++ {
			amp := 0.25
			if i < edge {
				amp *= float64(i) / float64(edge)
			}
			if rem := samples - i; rem < edge {
				amp *= float64(rem) / float64(edge)
			}
			v := int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*n.freq*float64(i)/rate))
			buf = append(buf, byte(v), byte(uint16(v)>>8))
		}
	}
	return buf
}
