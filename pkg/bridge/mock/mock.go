// Package mock provides a channel-backed bridge.Bridge for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/bridge"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// Bridge is an in-memory bridge.Bridge. Tests push caller audio with
// [Bridge.PushFrame], trigger barge-in with [Bridge.TriggerInterrupt], and
// inspect everything the agent spoke via [Bridge.SentFrames].
type Bridge struct {
	info       bridge.CallInfo
	inbound    chan types.AudioFrame
	interrupts chan struct{}

	mu     sync.Mutex
	sent   []types.AudioFrame
	closed bool
}

var _ bridge.Bridge = (*Bridge)(nil)

// New creates a mock bridge for the given call identity.
func New(info bridge.CallInfo) *Bridge {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	return &Bridge{
		info:       info,
		inbound:    make(chan types.AudioFrame, 64),
		interrupts: make(chan struct{}, 4),
	}
}

// Info implements bridge.Bridge.
func (b *Bridge) Info() bridge.CallInfo { return b.info }

// Inbound implements bridge.Bridge.
func (b *Bridge) Inbound() <-chan types.AudioFrame { return b.inbound }

// Interrupts implements bridge.Bridge.
func (b *Bridge) Interrupts() <-chan struct{} { return b.interrupts }

// SendAudio implements bridge.Bridge, recording the frame.
func (b *Bridge) SendAudio(_ context.Context, frame types.AudioFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("mock bridge: call ended")
	}
	b.sent = append(b.sent, frame)
	return nil
}

// Close implements bridge.Bridge. Safe to call multiple times.
func (b *Bridge) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
		close(b.interrupts)
	}
	return nil
}

// PushFrame delivers one caller frame. Returns false once the call ended.
func (b *Bridge) PushFrame(frame types.AudioFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.inbound <- frame
	return true
}

// TriggerInterrupt simulates caller barge-in.
func (b *Bridge) TriggerInterrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.interrupts <- struct{}{}
	}
}

// Hangup simulates the caller hanging up.
func (b *Bridge) Hangup() { _ = b.Close(context.Background()) }

// SentFrames returns a copy of everything sent toward the caller.
func (b *Bridge) SentFrames() []types.AudioFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.AudioFrame, len(b.sent))
	copy(out, b.sent)
	return out
}

// Closed reports whether the call has ended.
func (b *Bridge) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
