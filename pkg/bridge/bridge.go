// Package bridge abstracts the telephony/room transport that carries call
// audio. The orchestrator sees one Bridge per call: inbound caller frames,
// an outbound frame sink, and interrupt signaling for barge-in. Session
// signaling (SIP, room joining) lives behind the implementation.
package bridge

import (
	"context"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// CallInfo identifies one live call.
type CallInfo struct {
	// CallID is unique per call and doubles as the base for billing
	// idempotency keys.
	CallID string

	// AccountID is the billed account.
	AccountID string

	// CallerID is the caller's address (phone number, room participant id).
	CallerID string

	// StartedAt is when the bridge connected the call.
	StartedAt time.Time
}

// Bridge is one call's media transport.
//
// Implementations own the Inbound and Interrupts channels and close both when
// the caller hangs up or the transport drops. SendAudio must be safe to call
// until Close.
type Bridge interface {
	// Info returns the call's identity. Constant for the bridge's lifetime.
	Info() CallInfo

	// Inbound returns the caller's audio frames. Closed on hangup.
	Inbound() <-chan types.AudioFrame

	// Interrupts returns a signal channel that receives one value each time
	// the caller starts speaking while the agent is playing audio. Closed on
	// hangup.
	Interrupts() <-chan struct{}

	// SendAudio writes one outbound PCM frame toward the caller.
	SendAudio(ctx context.Context, frame types.AudioFrame) error

	// Close hangs up from our side. Idempotent.
	Close(ctx context.Context) error
}

// Handler is invoked once per accepted call, on its own goroutine. The call
// ends when the handler returns or ctx is cancelled.
type Handler func(ctx context.Context, b Bridge)
