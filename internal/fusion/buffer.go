// Package fusion turns a streaming LLM token channel into sentence-sized
// text chunks and fuses them with speech synthesis, so playback of the first
// sentence starts while the rest of the reply is still being generated.
package fusion

import "strings"

// defaultMaxChunkLen is the accumulated-text length above which a chunk is
// flushed even without a sentence terminator. Keeps long clause-free
// ramblings from delaying synthesis indefinitely.
const defaultMaxChunkLen = 40

// StreamBuffer accumulates token fragments and emits complete chunks at
// sentence boundaries or when the pending text grows past the length cap.
// Not safe for concurrent use; the pipeline owns one per turn.
type StreamBuffer struct {
	buf    strings.Builder
	maxLen int
}

// NewStreamBuffer creates a buffer with the given length cap. maxLen <= 0
// selects the default.
func NewStreamBuffer(maxLen int) *StreamBuffer {
	if maxLen <= 0 {
		maxLen = defaultMaxChunkLen
	}
	return &StreamBuffer{maxLen: maxLen}
}

// Push appends a token fragment and returns any chunks that became complete,
// in order. A chunk is complete when it ends at a sentence terminator
// ('.', '!', '?') followed by whitespace, or when the pending text exceeds
// the length cap.
func (b *StreamBuffer) Push(token string) []string {
	if token == "" {
		return nil
	}
	b.buf.WriteString(token)

	var chunks []string
	for {
		s := b.buf.String()
		idx := sentenceBoundary(s)
		if idx < 0 && len(s) > b.maxLen {
			idx = lengthBoundary(s, b.maxLen)
		}
		if idx < 0 {
			return chunks
		}
		chunk := strings.TrimSpace(s[:idx+1])
		rest := strings.TrimLeft(s[idx+1:], " \t\n\r")
		b.buf.Reset()
		b.buf.WriteString(rest)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
}

// Flush returns the pending partial text, if any, and resets the buffer.
// Called once when the token stream ends.
func (b *StreamBuffer) Flush() string {
	s := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	return s
}

// Len returns the length of the pending text.
func (b *StreamBuffer) Len() int { return b.buf.Len() }

// sentenceBoundary returns the index of the first sentence terminator that is
// followed by whitespace, or -1. Requiring a trailing space avoids splitting
// decimals like "3.14" or abbreviations mid-token.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// lengthBoundary picks a cut point for an over-long chunk: the last space at
// or before maxLen, falling back to a hard cut when the text has no spaces.
func lengthBoundary(s string, maxLen int) int {
	if idx := strings.LastIndexByte(s[:maxLen+1], ' '); idx > 0 {
		return idx
	}
	return maxLen - 1
}
