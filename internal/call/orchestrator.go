// Package call runs the per-call conversation loop: listen, transcribe,
// generate, speak, repeat, with billing at hangup.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/talkwire-ai/talkwire/internal/archive"
	"github.com/talkwire-ai/talkwire/internal/billing"
	"github.com/talkwire-ai/talkwire/internal/fusion"
	"github.com/talkwire-ai/talkwire/internal/observe"
	"github.com/talkwire-ai/talkwire/internal/resilience"
	"github.com/talkwire-ai/talkwire/internal/session"
	"github.com/talkwire-ai/talkwire/internal/tools"
	"github.com/talkwire-ai/talkwire/pkg/audio"
	"github.com/talkwire-ai/talkwire/pkg/bridge"
	"github.com/talkwire-ai/talkwire/pkg/provider/llm"
	"github.com/talkwire-ai/talkwire/pkg/provider/stt"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// State is the orchestrator's position in the per-call state machine.
type State int

const (
	// StateListening waits for caller speech.
	StateListening State = iota

	// StateTranscribing runs speech recognition on a finished utterance.
	StateTranscribing

	// StateGenerating streams the language-model response.
	StateGenerating

	// StateSpeaking plays synthesized audio toward the caller.
	StateSpeaking

	// StateEnded is terminal: hangup, timeout, or unrecoverable exhaustion.
	StateEnded
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes the per-call conversation policy.
type Config struct {
	// SystemPrompt is the agent's standing instruction, supplied to the model
	// outside the rolling window.
	SystemPrompt string

	// Greeting is spoken as soon as the call connects. Empty skips it.
	Greeting string

	// Voice selects the TTS voice.
	Voice types.VoiceProfile

	// WindowSize caps the rolling conversation window. Zero uses the session
	// default.
	WindowSize int

	// SilenceTimeout ends the call when the caller stays quiet this long
	// while the agent is listening.
	SilenceTimeout time.Duration

	// UtteranceHold is the pause that marks the end of one caller utterance.
	UtteranceHold time.Duration

	// MaxLowConfidenceRetries bounds repeat requests before the call is
	// ended.
	MaxLowConfidenceRetries int

	// MaxConsecutiveDegradations bounds degraded turns before the call is
	// ended with an apology.
	MaxConsecutiveDegradations int

	// MinBalance is the admission threshold in minor currency units; a call
	// from an account below it is rejected before connecting.
	MinBalance int64

	// Rate prices the call for the hangup charge.
	Rate billing.RateCard

	// Language hints speech recognition. Empty lets the provider detect.
	Language string

	// Temperature and MaxTokens are forwarded to the language model.
	Temperature float64
	MaxTokens   int
}

// Defaults for unset Config fields.
const (
	defaultSilenceTimeout = 20 * time.Second
	defaultUtteranceHold  = 700 * time.Millisecond
	defaultMaxRetries     = 3
	defaultMaxDegraded    = 3

	// maxToolRounds bounds tool-call loops within one turn.
	maxToolRounds = 4

	repeatPrompt   = "Sorry, I didn't catch that. Could you say it again?"
	apologyGoodbye = "I'm sorry, I'm having persistent trouble right now. Please call back in a few minutes. Goodbye."
)

// Orchestrator drives the conversation loop for every call. One Orchestrator
// serves the whole process; each call gets its own runner with no shared
// mutable state between calls beyond the injected collaborators.
type Orchestrator struct {
	stt      *resilience.STTRouter
	llm      *resilience.LLMRouter
	tts      *resilience.TTSRouter
	pipeline *fusion.Pipeline
	ledger   *billing.Ledger
	registry *tools.Registry
	archiver *archive.Archiver // nil disables archiving
	metrics  *observe.Metrics
	farewell *FarewellDetector
	cfg      Config
}

// New creates an Orchestrator. archiver may be nil.
func New(
	sttR *resilience.STTRouter,
	llmR *resilience.LLMRouter,
	ttsR *resilience.TTSRouter,
	ledger *billing.Ledger,
	registry *tools.Registry,
	archiver *archive.Archiver,
	metrics *observe.Metrics,
	cfg Config,
) *Orchestrator {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = defaultSilenceTimeout
	}
	if cfg.UtteranceHold <= 0 {
		cfg.UtteranceHold = defaultUtteranceHold
	}
	if cfg.MaxLowConfidenceRetries <= 0 {
		cfg.MaxLowConfidenceRetries = defaultMaxRetries
	}
	if cfg.MaxConsecutiveDegradations <= 0 {
		cfg.MaxConsecutiveDegradations = defaultMaxDegraded
	}
	return &Orchestrator{
		stt:      sttR,
		llm:      llmR,
		tts:      ttsR,
		pipeline: fusion.New(ttsR),
		ledger:   ledger,
		registry: registry,
		archiver: archiver,
		metrics:  metrics,
		farewell: NewFarewellDetector(),
		cfg:      cfg,
	}
}

// HandleCall runs one call to completion. It satisfies [bridge.Handler].
func (o *Orchestrator) HandleCall(ctx context.Context, b bridge.Bridge) {
	info := b.Info()
	log := slog.With("callID", info.CallID, "account", info.AccountID)

	// Admission control: check the balance before connecting the
	// conversation. The ledger itself never gates.
	bal, err := o.ledger.CurrentBalance(ctx, info.AccountID)
	if err != nil {
		log.Error("admission balance check failed", "error", err)
		_ = b.Close(ctx)
		return
	}
	if bal.Amount < o.cfg.MinBalance {
		log.Info("call rejected, insufficient balance", "balance", bal.Amount, "required", o.cfg.MinBalance)
		o.finishCall(ctx, b, nil, "insufficient_balance", 0, log)
		return
	}

	o.metrics.ActiveCalls.Add(ctx, 1)
	defer o.metrics.ActiveCalls.Add(ctx, -1)

	r := &runner{
		o:      o,
		b:      b,
		window: session.NewContextManager(o.cfg.WindowSize),
		log:    log,
	}
	outcome := r.run(ctx)
	o.finishCall(ctx, b, r, outcome, r.turns, log)
}

// finishCall hangs up, charges the call, and archives the transcript. The
// charge is keyed on the call ID so a crash-retry never double-bills.
func (o *Orchestrator) finishCall(ctx context.Context, b bridge.Bridge, r *runner, outcome string, turns int, log *slog.Logger) {
	info := b.Info()
	_ = b.Close(ctx)
	ended := time.Now()
	duration := ended.Sub(info.StartedAt)

	// Detached context: hangup bookkeeping must survive call-context
	// cancellation.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if amount := o.cfg.Rate.ChargeFor(duration); amount > 0 {
		outcomeBilling, err := o.ledger.ApplyEvent(finCtx, info.AccountID, billing.KindCharge, amount, "call:"+info.CallID)
		if err != nil {
			// A missed charge is a financial defect; surface loudly. The
			// idempotency key makes a later retry with the same key safe.
			log.Error("call charge failed, retry required", "amount", amount, "error", err)
		} else {
			o.metrics.RecordBillingEvent(finCtx, string(billing.KindCharge), outcomeBilling.Replayed)
			log.Info("call charged", "amount", amount, "balance", outcomeBilling.Balance.Amount, "replayed", outcomeBilling.Replayed)
		}
	}

	if o.archiver != nil && r != nil {
		rec := archive.CallRecord{
			CallID:    info.CallID,
			AccountID: info.AccountID,
			CallerID:  info.CallerID,
			StartedAt: info.StartedAt,
			EndedAt:   ended,
			Turns:     turns,
			Outcome:   outcome,
		}
		if err := o.archiver.ArchiveCall(finCtx, rec, r.window.Window()); err != nil {
			log.Warn("call archive failed", "error", err)
		}
	}

	log.Info("call finished", "outcome", outcome, "duration", duration, "turns", turns)
}

// runner is the per-call state. Nothing here is shared across calls.
type runner struct {
	o      *Orchestrator
	b      bridge.Bridge
	window *session.ContextManager
	log    *slog.Logger

	mu          sync.Mutex
	state       State
	speakCancel context.CancelFunc

	turns         int
	degradations  int
	hangupPending bool
	hangupReason  string
}

// RequestHangup implements [tools.CallControl]: the call ends after the
// current turn finishes.
func (r *runner) RequestHangup(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hangupPending = true
	r.hangupReason = reason
}

func (r *runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.log.Debug("state transition", "state", s.String())
}

// beginSpeaking registers the cancel func a barge-in should fire.
func (r *runner) beginSpeaking(cancel context.CancelFunc) {
	r.mu.Lock()
	r.state = StateSpeaking
	r.speakCancel = cancel
	r.mu.Unlock()
}

func (r *runner) endSpeaking() {
	r.mu.Lock()
	r.speakCancel = nil
	r.mu.Unlock()
}

// interrupt cancels active playback. Outside Speaking it is a no-op: a
// barge-in never tears down the call itself.
func (r *runner) interrupt() {
	r.mu.Lock()
	cancel := r.speakCancel
	isSpeaking := r.state == StateSpeaking
	r.mu.Unlock()
	if isSpeaking && cancel != nil {
		r.log.Info("caller barge-in, cancelling playback")
		cancel()
	}
}

// run is the call loop. Returns the call outcome for the archive row.
func (r *runner) run(ctx context.Context) string {
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()

	// Barge-in watcher. Lives for the whole call; only playback contexts are
	// ever cancelled by it.
	go func() {
		for range r.b.Interrupts() {
			r.interrupt()
		}
	}()

	if r.o.cfg.Greeting != "" {
		r.speak(callCtx, r.o.cfg.Greeting)
		r.window.AppendTurn(types.RoleAssistant, r.o.cfg.Greeting)
	}

	lowConfidence := 0
	for {
		if err := callCtx.Err(); err != nil {
			r.setState(StateEnded)
			return "hangup"
		}

		r.setState(StateListening)
		utterance, ok := r.collectUtterance(callCtx)
		if !ok {
			r.setState(StateEnded)
			if callCtx.Err() != nil {
				return "hangup"
			}
			if utterance == nil {
				return "hangup" // inbound closed: caller hung up
			}
			return "silence_timeout"
		}

		turnStart := time.Now()

		r.setState(StateTranscribing)
		transcript, err := r.transcribe(callCtx, utterance)
		if err != nil {
			if r.degraded(callCtx, err) {
				r.setState(StateEnded)
				return "degraded"
			}
			continue
		}
		if transcript.LowConfidence || strings.TrimSpace(transcript.Text) == "" {
			lowConfidence++
			r.log.Info("low confidence transcript", "confidence", transcript.Confidence, "attempt", lowConfidence)
			if lowConfidence >= r.o.cfg.MaxLowConfidenceRetries {
				r.speak(callCtx, apologyGoodbye)
				r.setState(StateEnded)
				return "silence_timeout"
			}
			r.speak(callCtx, repeatPrompt)
			r.o.metrics.RecordTurn(callCtx, "low_confidence")
			continue
		}
		lowConfidence = 0

		r.window.AppendTurn(types.RoleUser, transcript.Text)
		callerSaidGoodbye := r.o.farewell.IsFarewell(transcript.Text)

		outcome := r.respond(callCtx, turnStart)
		r.turns++
		r.o.metrics.RecordTurn(callCtx, outcome)

		if outcome == "degraded" {
			if r.degradationLimitReached(callCtx) {
				r.setState(StateEnded)
				return "degraded"
			}
		} else {
			r.mu.Lock()
			r.degradations = 0
			r.mu.Unlock()
		}

		r.mu.Lock()
		hangup := r.hangupPending
		reason := r.hangupReason
		r.mu.Unlock()
		if hangup {
			r.log.Info("hangup requested", "reason", reason)
			r.setState(StateEnded)
			return "completed"
		}
		if callerSaidGoodbye {
			r.log.Info("caller said goodbye")
			r.setState(StateEnded)
			return "completed"
		}
	}
}

// collectUtterance gathers caller audio until a hold gap marks the end of the
// utterance. Returns (nil, false) when the inbound stream closed, i.e. the
// caller hung up, and (non-nil empty, false) on silence timeout.
func (r *runner) collectUtterance(ctx context.Context) ([]byte, bool) {
	conv := audio.FormatConverter{Target: audio.STTFormat}
	var pcm []byte

	silence := time.NewTimer(r.o.cfg.SilenceTimeout)
	defer silence.Stop()
	hold := time.NewTimer(r.o.cfg.UtteranceHold)
	hold.Stop()
	defer hold.Stop()

	for {
		var gap <-chan time.Time
		if len(pcm) > 0 {
			gap = hold.C
		}

		select {
		case <-ctx.Done():
			return nil, false

		case <-silence.C:
			r.log.Info("silence timeout", "timeout", r.o.cfg.SilenceTimeout)
			return []byte{}, false

		case <-gap:
			return pcm, true

		case frame, ok := <-r.b.Inbound():
			if !ok {
				return nil, false
			}
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			pcm = append(pcm, converted.Data...)
			resetTimer(silence, r.o.cfg.SilenceTimeout)
			resetTimer(hold, r.o.cfg.UtteranceHold)
		}
	}
}

// resetTimer stops, drains, and rearms t.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// transcribe runs the STT chain and records stage latency.
func (r *runner) transcribe(ctx context.Context, pcm []byte) (*types.Transcript, error) {
	start := time.Now()
	transcript, err := r.o.stt.Transcribe(ctx, stt.Request{
		Audio:      pcm,
		SampleRate: audio.STTFormat.SampleRate,
		Channels:   audio.STTFormat.Channels,
		Language:   r.o.cfg.Language,
	})
	r.o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	return transcript, err
}

// respond runs generation and playback for one turn, including tool rounds.
// Returns the turn outcome: "ok", "degraded", or "interrupted".
func (r *runner) respond(ctx context.Context, turnStart time.Time) string {
	outcome := "ok"

	for round := 0; round < maxToolRounds; round++ {
		req := llm.CompletionRequest{
			Messages:     r.window.Window(),
			Tools:        r.o.registry.Definitions(),
			Temperature:  r.o.cfg.Temperature,
			MaxTokens:    r.o.cfg.MaxTokens,
			SystemPrompt: r.o.cfg.SystemPrompt,
		}

		r.setState(StateGenerating)
		llmStart := time.Now()
		tokens, err := r.o.llm.StreamCompletion(ctx, req)
		if err != nil {
			if !errors.Is(err, resilience.ErrAllProvidersExhausted) {
				r.log.Error("completion failed", "error", err)
				return "degraded"
			}
			// tokens carries the canned degraded reply; speak it and count
			// the degradation.
			r.log.Warn("language model exhausted, speaking degraded reply")
			outcome = "degraded"
		}

		speakCtx, cancelSpeak := context.WithCancel(ctx)
		r.beginSpeaking(cancelSpeak)

		result, runErr := r.streamToBridge(speakCtx, tokens, turnStart)
		r.endSpeaking()
		cancelSpeak()
		r.o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())

		if runErr != nil {
			r.log.Error("fusion pipeline failed", "error", runErr)
			return "degraded"
		}
		if result.Text != "" {
			r.window.AppendTurn(types.RoleAssistant, result.Text)
		}
		if result.Interrupted {
			return "interrupted"
		}
		if len(result.ToolCalls) == 0 {
			return outcome
		}

		r.runTools(ctx, result.ToolCalls)
	}

	r.log.Warn("tool round limit reached, ending turn")
	return outcome
}

// streamToBridge wires the fusion pipeline's audio output to the bridge,
// recording turn latency on the first frame.
func (r *runner) streamToBridge(ctx context.Context, tokens <-chan llm.Chunk, turnStart time.Time) (*fusion.Result, error) {
	audioOut := make(chan []byte, 8)

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		first := true
		for chunk := range audioOut {
			if first {
				first = false
				r.o.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
			}
			frame := types.AudioFrame{
				Data:       chunk,
				SampleRate: audio.OpusSampleRate,
				Channels:   audio.OpusChannels,
				Timestamp:  time.Since(r.b.Info().StartedAt),
			}
			if err := r.b.SendAudio(ctx, frame); err != nil {
				r.log.Debug("outbound audio dropped", "error", err)
				return
			}
		}
	}()

	result, err := r.o.pipeline.Run(ctx, tokens, r.o.cfg.Voice, audioOut)
	close(audioOut)
	<-sendDone
	return result, err
}

// runTools executes the model's tool requests and appends the results to the
// window so the follow-up round can use them.
func (r *runner) runTools(ctx context.Context, calls []types.ToolCall) {
	toolCtx := tools.WithCallControl(ctx, r)

	r.window.AppendMessage(types.Message{
		Role:      types.RoleAssistant,
		ToolCalls: calls,
		Timestamp: time.Now(),
	})

	for _, tc := range calls {
		start := time.Now()
		res, err := r.o.registry.Execute(toolCtx, tc.Name, tc.Arguments)
		r.o.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

		content := ""
		status := "ok"
		switch {
		case err != nil:
			content = "tool failed: " + err.Error()
			status = "error"
		case res.IsError:
			content = res.Content
			status = "error"
		default:
			content = res.Content
		}
		r.o.metrics.RecordToolCall(ctx, tc.Name, status)
		r.log.Info("tool executed", "tool", tc.Name, "status", status)

		r.window.AppendMessage(types.Message{
			Role:       types.RoleTool,
			Content:    content,
			ToolCallID: tc.ID,
			Timestamp:  time.Now(),
		})
	}
}

// speak synthesizes one utterance directly (no LLM involved) and plays it.
// Used for greetings, repeat prompts, and apologies.
func (r *runner) speak(ctx context.Context, text string) {
	start := time.Now()
	stream, err := r.o.tts.Synthesize(ctx, text, r.o.cfg.Voice)
	if err != nil && stream == nil {
		r.log.Error("speak failed", "error", err)
		return
	}
	if err != nil {
		r.log.Warn("speaking via fallback audio", "error", err)
	}

	for chunk := range stream {
		frame := types.AudioFrame{
			Data:       chunk,
			SampleRate: audio.OpusSampleRate,
			Channels:   audio.OpusChannels,
			Timestamp:  time.Since(r.b.Info().StartedAt),
		}
		if err := r.b.SendAudio(ctx, frame); err != nil {
			r.log.Debug("outbound audio dropped", "error", err)
			break
		}
	}
	r.o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
}

// degraded handles an STT chain failure: speak the repeat prompt if the
// degradation budget allows, otherwise report the call as unrecoverable.
// Returns true when the call should end.
func (r *runner) degraded(ctx context.Context, err error) bool {
	if !errors.Is(err, resilience.ErrAllProvidersExhausted) {
		r.log.Error("transcription failed", "error", err)
	} else {
		r.log.Warn("speech recognition exhausted")
	}
	r.o.metrics.RecordTurn(ctx, "degraded")
	if r.degradationLimitReached(ctx) {
		return true
	}
	r.speak(ctx, repeatPrompt)
	return false
}

// degradationLimitReached counts one degradation against the call budget and
// speaks the closing apology when the budget is spent.
func (r *runner) degradationLimitReached(ctx context.Context) bool {
	r.mu.Lock()
	r.degradations++
	n := r.degradations
	r.mu.Unlock()

	if n >= r.o.cfg.MaxConsecutiveDegradations {
		r.log.Warn("degradation limit reached, ending call", "count", n)
		r.speak(ctx, apologyGoodbye)
		return true
	}
	return false
}
