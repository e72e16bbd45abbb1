package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// The websocket bridge carries 48 kHz mono Opus at 20 ms frame size.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 1
	opusFrameSizeMs = 20

	// OpusFrameSize is the number of samples per channel per 20 ms frame.
	OpusFrameSize = OpusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusCodec pairs an encoder and a decoder for one call's media stream. Each
// call gets its own codec so Opus state stays consistent across consecutive
// packets. Not safe for concurrent use.
type OpusCodec struct {
	enc *gopus.Encoder
	dec *gopus.Decoder
}

// NewOpusCodec creates a codec configured for bridge audio.
func NewOpusCodec() (*OpusCodec, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, OpusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusCodec{enc: enc, dec: dec}, nil
}

// Decode decodes one Opus packet into little-endian int16 PCM bytes.
func (c *OpusCodec) Decode(packet []byte) ([]byte, error) {
	pcm, err := c.dec.Decode(packet, OpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Encode encodes one 20 ms frame of little-endian int16 PCM bytes into an
// Opus packet. Short frames are zero-padded to the full frame size.
func (c *OpusCodec) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	if len(pcm) < OpusFrameSize*OpusChannels {
		padded := make([]int16, OpusFrameSize*OpusChannels)
		copy(padded, pcm)
		pcm = padded
	}
	packet, err := c.enc.Encode(pcm, OpusFrameSize, maxOpusPacketSize)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}

// maxOpusPacketSize bounds one encoded packet; Opus never exceeds this for a
// 20 ms frame.
const maxOpusPacketSize = 4000

func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func bytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
