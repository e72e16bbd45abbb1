// Package wsbridge implements bridge.Bridge over a WebSocket media
// connection. Each accepted connection is one call: a JSON start message
// identifies the caller, binary messages carry 20 ms Opus packets in both
// directions, and JSON control messages signal interrupts and hangup.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/talkwire-ai/talkwire/pkg/audio"
	"github.com/talkwire-ai/talkwire/pkg/bridge"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// controlMessage is the JSON envelope for non-audio traffic.
type controlMessage struct {
	Type      string `json:"type"` // "start", "interrupt", "end"
	CallID    string `json:"call_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	CallerID  string `json:"caller_id,omitempty"`
}

// Server accepts WebSocket media connections and runs the configured handler
// for each call.
type Server struct {
	handler bridge.Handler
}

// NewServer creates a Server dispatching accepted calls to handler.
func NewServer(handler bridge.Handler) *Server {
	return &Server{handler: handler}
}

// ServeHTTP upgrades the connection, reads the start message, and hands the
// call to the handler. It returns when the call ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()

	// The first message must announce the call.
	start, err := readStart(ctx, conn)
	if err != nil {
		slog.Warn("call rejected", "error", err)
		conn.Close(websocket.StatusPolicyViolation, "expected start message")
		return
	}

	wb, err := newWSBridge(conn, bridge.CallInfo{
		CallID:    start.CallID,
		AccountID: start.AccountID,
		CallerID:  start.CallerID,
		StartedAt: time.Now(),
	})
	if err != nil {
		slog.Error("bridge setup failed", "callID", start.CallID, "error", err)
		conn.Close(websocket.StatusInternalError, "codec setup failed")
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go wb.readLoop(callCtx)

	slog.Info("call connected", "callID", start.CallID, "account", start.AccountID)
	s.handler(callCtx, wb)
	_ = wb.Close(context.Background())
}

func readStart(ctx context.Context, conn *websocket.Conn) (*controlMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	typ, data, err := conn.Read(readCtx)
	if err != nil {
		return nil, fmt.Errorf("read start message: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, errors.New("first message must be a text start message")
	}
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode start message: %w", err)
	}
	if msg.Type != "start" || msg.CallID == "" || msg.AccountID == "" {
		return nil, errors.New("start message missing type, call_id, or account_id")
	}
	return &msg, nil
}

// wsBridge is one call's bridge.Bridge over a live WebSocket.
type wsBridge struct {
	conn *websocket.Conn
	info bridge.CallInfo

	inbound    chan types.AudioFrame
	interrupts chan struct{}

	// decCodec serves the read loop, encCodec the send path; Opus state is
	// per-direction.
	decCodec *audio.OpusCodec

	writeMu  sync.Mutex
	encCodec *audio.OpusCodec

	closeOnce sync.Once
}

var _ bridge.Bridge = (*wsBridge)(nil)

func newWSBridge(conn *websocket.Conn, info bridge.CallInfo) (*wsBridge, error) {
	dec, err := audio.NewOpusCodec()
	if err != nil {
		return nil, err
	}
	enc, err := audio.NewOpusCodec()
	if err != nil {
		return nil, err
	}
	return &wsBridge{
		conn:       conn,
		info:       info,
		inbound:    make(chan types.AudioFrame, 64),
		interrupts: make(chan struct{}, 4),
		decCodec:   dec,
		encCodec:   enc,
	}, nil
}

// Info implements bridge.Bridge.
func (b *wsBridge) Info() bridge.CallInfo { return b.info }

// Inbound implements bridge.Bridge.
func (b *wsBridge) Inbound() <-chan types.AudioFrame { return b.inbound }

// Interrupts implements bridge.Bridge.
func (b *wsBridge) Interrupts() <-chan struct{} { return b.interrupts }

// SendAudio implements bridge.Bridge, encoding the frame to Opus packets.
// Frames are expected at the bridge format (48 kHz mono); the caller converts
// beforehand.
func (b *wsBridge) SendAudio(ctx context.Context, frame types.AudioFrame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	const frameBytes = audio.OpusFrameSize * audio.OpusChannels * 2
	data := frame.Data
	for len(data) > 0 {
		n := min(len(data), frameBytes)
		packet, err := b.encCodec.Encode(data[:n])
		if err != nil {
			return fmt.Errorf("wsbridge: %w", err)
		}
		if err := b.conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			return fmt.Errorf("wsbridge: write audio: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// Close implements bridge.Bridge.
func (b *wsBridge) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		msg, _ := json.Marshal(controlMessage{Type: "end", CallID: b.info.CallID})
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = b.conn.Write(writeCtx, websocket.MessageText, msg)
		cancel()
		b.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
	return nil
}

// readLoop pumps inbound messages until the connection drops: binary frames
// are decoded to PCM, control messages become interrupt signals or hangup.
// Owns and closes the inbound and interrupts channels.
func (b *wsBridge) readLoop(ctx context.Context) {
	defer close(b.inbound)
	defer close(b.interrupts)

	start := time.Now()
	for {
		typ, data, err := b.conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			pcm, err := b.decCodec.Decode(data)
			if err != nil {
				slog.Debug("dropping undecodable packet", "callID", b.info.CallID, "error", err)
				continue
			}
			frame := types.AudioFrame{
				Data:       pcm,
				SampleRate: audio.OpusSampleRate,
				Channels:   audio.OpusChannels,
				Timestamp:  time.Since(start),
			}
			select {
			case b.inbound <- frame:
			case <-ctx.Done():
				return
			}

		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "interrupt":
				select {
				case b.interrupts <- struct{}{}:
				default:
					// An unconsumed interrupt is already pending.
				}
			case "end":
				return
			}
		}
	}
}
