package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/talkwire-ai/talkwire/internal/archive"
	"github.com/talkwire-ai/talkwire/internal/billing"
	"github.com/talkwire-ai/talkwire/internal/observe"
	"github.com/talkwire-ai/talkwire/internal/resilience"
	"github.com/talkwire-ai/talkwire/internal/tools"
	"github.com/talkwire-ai/talkwire/pkg/bridge"
	bridgemock "github.com/talkwire-ai/talkwire/pkg/bridge/mock"
	"github.com/talkwire-ai/talkwire/pkg/provider/llm"
	llmmock "github.com/talkwire-ai/talkwire/pkg/provider/llm/mock"
	"github.com/talkwire-ai/talkwire/pkg/provider/stt"
	sttmock "github.com/talkwire-ai/talkwire/pkg/provider/stt/mock"
	"github.com/talkwire-ai/talkwire/pkg/provider/tts"
	ttsmock "github.com/talkwire-ai/talkwire/pkg/provider/tts/mock"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

var errTest = errors.New("test error")

// fakeArchiveStore records archived calls in memory so tests can assert the
// outcome and transcript the orchestrator reported.
type fakeArchiveStore struct {
	mu      sync.Mutex
	calls   []archive.CallRecord
	entries []archive.TranscriptEntry
}

var _ archive.Store = (*fakeArchiveStore)(nil)

func (s *fakeArchiveStore) SaveCall(_ context.Context, rec archive.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec)
	return nil
}

func (s *fakeArchiveStore) SaveTranscript(_ context.Context, entries []archive.TranscriptEntry, _ [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *fakeArchiveStore) SearchTranscripts(context.Context, string, []float32, int) ([]archive.SearchHit, error) {
	return nil, nil
}

func (s *fakeArchiveStore) lastCall(t *testing.T) archive.CallRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		t.Fatal("no call archived")
	}
	return s.calls[len(s.calls)-1]
}

func (s *fakeArchiveStore) transcript() []archive.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.TranscriptEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// testDeps bundles everything a call scenario needs.
type testDeps struct {
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	store   *billing.MemStore
	ledger  *billing.Ledger
	archive *fakeArchiveStore
}

// newTestOrchestrator wires mock providers behind real routers. Breaker
// thresholds are high so a scenario's deliberate failures never trip them
// unless the test wants that.
func newTestOrchestrator(t *testing.T, d *testDeps, cfg Config) *Orchestrator {
	t.Helper()

	breaker := resilience.BreakerConfig{FailureThreshold: 100, Cooldown: time.Hour}

	sttChain := resilience.NewChain[stt.Provider]("stt", breaker)
	sttChain.Add(resilience.ProviderSpec{Name: "mock", Priority: 1}, d.stt)
	llmChain := resilience.NewChain[llm.Provider]("llm", breaker)
	llmChain.Add(resilience.ProviderSpec{Name: "mock", Priority: 1}, d.llm)
	ttsChain := resilience.NewChain[tts.Provider]("tts", breaker)
	ttsChain.Add(resilience.ProviderSpec{Name: "mock", Priority: 1}, d.tts)

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	return New(
		resilience.NewSTTRouter(sttChain, resilience.STTRouterConfig{}),
		resilience.NewLLMRouter(llmChain, resilience.LLMRouterConfig{}),
		resilience.NewTTSRouter(ttsChain, resilience.TTSRouterConfig{}),
		d.ledger,
		registry,
		archive.NewArchiver(d.archive, nil),
		metrics,
		cfg,
	)
}

func newTestDeps() *testDeps {
	store := billing.NewMemStore()
	return &testDeps{
		stt:     &sttmock.Provider{Transcript: &types.Transcript{Text: "hello there", Confidence: 0.95}},
		llm:     &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi, how can I help?"}, {FinishReason: "stop"}}},
		tts:     &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm")}},
		store:   store,
		ledger:  billing.NewLedger(store),
		archive: &fakeArchiveStore{},
	}
}

// callerFrame is one caller audio frame already in the transcription format,
// so the converter passes it through untouched.
func callerFrame() types.AudioFrame {
	return types.AudioFrame{
		Data:       make([]byte, 640),
		SampleRate: 16000,
		Channels:   1,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// handleAsync runs HandleCall in the background and returns a channel closed
// when it finishes.
func handleAsync(o *Orchestrator, b *bridgemock.Bridge) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.HandleCall(context.Background(), b)
	}()
	return done
}

func TestHandleCall_SilenceTimeout(t *testing.T) {
	d := newTestDeps()
	o := newTestOrchestrator(t, d, Config{
		Greeting:       "Thanks for calling.",
		SilenceTimeout: 100 * time.Millisecond,
		UtteranceHold:  10 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-1", AccountID: "acct-1"})

	o.HandleCall(context.Background(), b)

	if !b.Closed() {
		t.Error("bridge not closed after call ended")
	}
	if got := d.tts.Calls(); got != 1 {
		t.Fatalf("tts calls = %d, want 1 (greeting only)", got)
	}
	if got := d.tts.SynthesizeCalls[0].Text; got != "Thanks for calling." {
		t.Errorf("greeting text = %q", got)
	}
	if frames := b.SentFrames(); len(frames) == 0 {
		t.Error("greeting audio never reached the bridge")
	} else if frames[0].SampleRate != 48000 {
		t.Errorf("outbound sample rate = %d, want 48000", frames[0].SampleRate)
	}

	rec := d.archive.lastCall(t)
	if rec.Outcome != "silence_timeout" {
		t.Errorf("outcome = %q, want silence_timeout", rec.Outcome)
	}
	if rec.Turns != 0 {
		t.Errorf("turns = %d, want 0", rec.Turns)
	}
}

func TestHandleCall_FullTurn(t *testing.T) {
	d := newTestDeps()
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout: 2 * time.Second,
		UtteranceHold:  10 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-2", AccountID: "acct-1"})
	done := handleAsync(o, b)

	b.PushFrame(callerFrame())
	waitFor(t, func() bool { return len(b.SentFrames()) > 0 }, "agent never spoke")
	b.Hangup()
	<-done

	if got := d.stt.Calls(); got != 1 {
		t.Fatalf("stt calls = %d, want 1", got)
	}
	req := d.stt.TranscribeCalls[0].Req
	if req.SampleRate != 16000 || req.Channels != 1 {
		t.Errorf("stt request format = %d/%d, want 16000/1", req.SampleRate, req.Channels)
	}
	if len(req.Audio) != 640 {
		t.Errorf("stt audio length = %d, want 640", len(req.Audio))
	}

	if got := len(d.llm.StreamCalls); got != 1 {
		t.Fatalf("llm stream calls = %d, want 1", got)
	}
	msgs := d.llm.StreamCalls[0].Req.Messages
	if len(msgs) != 1 || msgs[0].Role != types.RoleUser || msgs[0].Content != "hello there" {
		t.Errorf("llm saw window %+v, want single user message", msgs)
	}

	rec := d.archive.lastCall(t)
	if rec.Turns != 1 {
		t.Errorf("turns = %d, want 1", rec.Turns)
	}
	transcript := d.archive.transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript entries = %d, want 2", len(transcript))
	}
	if transcript[0].Text != "hello there" || transcript[1].Text != "Hi, how can I help?" {
		t.Errorf("transcript = %q / %q", transcript[0].Text, transcript[1].Text)
	}
}

func TestHandleCall_InsufficientBalance(t *testing.T) {
	d := newTestDeps()
	o := newTestOrchestrator(t, d, Config{
		MinBalance:     500,
		SilenceTimeout: 100 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-3", AccountID: "acct-broke"})

	o.HandleCall(context.Background(), b)

	if !b.Closed() {
		t.Error("bridge not closed")
	}
	if got := d.stt.Calls(); got != 0 {
		t.Errorf("stt calls = %d, want 0 (rejected before connecting)", got)
	}
	if frames := b.SentFrames(); len(frames) != 0 {
		t.Errorf("sent %d frames to a rejected call", len(frames))
	}
}

func TestHandleCall_AdmitsFundedAccount(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	if _, err := d.ledger.ApplyEvent(ctx, "acct-rich", billing.KindCredit, 1000, "topup-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	o := newTestOrchestrator(t, d, Config{
		MinBalance:     500,
		Greeting:       "Hello.",
		SilenceTimeout: 100 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-4", AccountID: "acct-rich"})

	o.HandleCall(ctx, b)

	if got := d.tts.Calls(); got != 1 {
		t.Errorf("tts calls = %d, want 1 (greeting spoken)", got)
	}
}

func TestHandleCall_ChargesOnHangup(t *testing.T) {
	d := newTestDeps()
	ctx := context.Background()
	if _, err := d.ledger.ApplyEvent(ctx, "acct-1", billing.KindCredit, 10000, "topup-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout: 50 * time.Millisecond,
		Rate:           billing.RateCard{PerMinute: 60},
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-5", AccountID: "acct-1"})

	o.HandleCall(ctx, b)

	// Any call shorter than a minute bills one minute.
	bal, err := d.ledger.CurrentBalance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("CurrentBalance: %v", err)
	}
	if bal.Amount != 9940 {
		t.Errorf("balance = %d, want 9940", bal.Amount)
	}

	events := d.store.Events("acct-1")
	if len(events) != 2 {
		t.Fatalf("ledger events = %d, want 2", len(events))
	}
	charge := events[1]
	if charge.Kind != billing.KindCharge || charge.IdempotencyKey != "call:call-5" {
		t.Errorf("charge event = %+v, want charge keyed on call ID", charge)
	}
}

func TestHandleCall_LowConfidenceRetriesThenGivesUp(t *testing.T) {
	d := newTestDeps()
	d.stt.Transcript = &types.Transcript{Text: "mumble", Confidence: 0.2}
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout:          2 * time.Second,
		UtteranceHold:           10 * time.Millisecond,
		MaxLowConfidenceRetries: 2,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-6", AccountID: "acct-1"})
	done := handleAsync(o, b)

	// Keep the caller mumbling until the call ends.
	go func() {
		for b.PushFrame(callerFrame()) {
			time.Sleep(30 * time.Millisecond)
		}
	}()
	<-done

	var texts []string
	for _, c := range d.tts.SynthesizeCalls {
		texts = append(texts, c.Text)
	}
	if len(texts) != 2 {
		t.Fatalf("tts texts = %v, want repeat prompt then apology", texts)
	}
	if texts[0] != repeatPrompt {
		t.Errorf("first prompt = %q, want repeat prompt", texts[0])
	}
	if texts[1] != apologyGoodbye {
		t.Errorf("second prompt = %q, want apology goodbye", texts[1])
	}
	if got := len(d.llm.StreamCalls); got != 0 {
		t.Errorf("llm stream calls = %d, want 0 (gated transcripts never reach the model)", got)
	}

	rec := d.archive.lastCall(t)
	if rec.Outcome != "silence_timeout" {
		t.Errorf("outcome = %q, want silence_timeout", rec.Outcome)
	}
}

func TestHandleCall_TranscriptionExhaustionEndsDegraded(t *testing.T) {
	d := newTestDeps()
	d.stt.Transcript = nil
	d.stt.Err = errTest
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout:             2 * time.Second,
		UtteranceHold:              10 * time.Millisecond,
		MaxConsecutiveDegradations: 2,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-7", AccountID: "acct-1"})
	done := handleAsync(o, b)

	go func() {
		for b.PushFrame(callerFrame()) {
			time.Sleep(30 * time.Millisecond)
		}
	}()
	<-done

	rec := d.archive.lastCall(t)
	if rec.Outcome != "degraded" {
		t.Errorf("outcome = %q, want degraded", rec.Outcome)
	}

	last := d.tts.SynthesizeCalls[len(d.tts.SynthesizeCalls)-1].Text
	if last != apologyGoodbye {
		t.Errorf("closing line = %q, want apology goodbye", last)
	}
}

func TestHandleCall_FarewellEndsCall(t *testing.T) {
	d := newTestDeps()
	d.stt.Transcript = &types.Transcript{Text: "ok goodbye", Confidence: 0.95}
	d.llm.StreamChunks = []llm.Chunk{{Text: "Goodbye!"}, {FinishReason: "stop"}}
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout: 2 * time.Second,
		UtteranceHold:  10 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-8", AccountID: "acct-1"})
	done := handleAsync(o, b)

	b.PushFrame(callerFrame())
	<-done

	if !b.Closed() {
		t.Error("bridge not closed")
	}
	rec := d.archive.lastCall(t)
	if rec.Outcome != "completed" {
		t.Errorf("outcome = %q, want completed", rec.Outcome)
	}
	if rec.Turns != 1 {
		t.Errorf("turns = %d, want 1", rec.Turns)
	}
}

func TestHandleCall_EndCallToolHangsUp(t *testing.T) {
	d := newTestDeps()
	var round atomic.Int32
	d.llm.StreamFunc = func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
		ch := make(chan llm.Chunk, 2)
		if round.Add(1) == 1 {
			ch <- llm.Chunk{
				ToolCalls:    []types.ToolCall{{ID: "t1", Name: "end_call", Arguments: `{"reason":"caller finished"}`}},
				FinishReason: "tool_calls",
			}
		} else {
			ch <- llm.Chunk{Text: "Thanks for calling, goodbye."}
			ch <- llm.Chunk{FinishReason: "stop"}
		}
		close(ch)
		return ch, nil
	}
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout: 2 * time.Second,
		UtteranceHold:  10 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-9", AccountID: "acct-1"})
	done := handleAsync(o, b)

	b.PushFrame(callerFrame())
	<-done

	if got := round.Load(); got != 2 {
		t.Errorf("llm rounds = %d, want 2 (tool round then closing line)", got)
	}
	rec := d.archive.lastCall(t)
	if rec.Outcome != "completed" {
		t.Errorf("outcome = %q, want completed", rec.Outcome)
	}

	foundTool := false
	for _, e := range d.archive.transcript() {
		if e.Role == types.RoleTool {
			foundTool = true
		}
	}
	if !foundTool {
		t.Error("tool result missing from archived transcript")
	}
}

func TestHandleCall_BargeInInterruptsPlaybackOnly(t *testing.T) {
	d := newTestDeps()
	d.llm.StreamChunks = []llm.Chunk{
		{Text: "Let me walk you through the whole process in detail."},
		{FinishReason: "stop"},
	}
	// Endless synthesis: playback only stops when the caller barges in.
	d.tts.SynthesizeFunc = func(ctx context.Context, _ string, _ types.VoiceProfile) (<-chan []byte, error) {
		ch := make(chan []byte)
		go func() {
			defer close(ch)
			for {
				select {
				case <-ctx.Done():
					return
				case ch <- []byte("pcm"):
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
		return ch, nil
	}
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout: 300 * time.Millisecond,
		UtteranceHold:  10 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-10", AccountID: "acct-1"})
	done := handleAsync(o, b)

	b.PushFrame(callerFrame())
	waitFor(t, func() bool { return len(b.SentFrames()) >= 2 }, "playback never started")
	b.TriggerInterrupt()

	// The barge-in cancels playback but not the call: it goes back to
	// listening and only the silence timeout ends it.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("call did not end after interrupt + silence")
	}

	rec := d.archive.lastCall(t)
	if rec.Outcome != "silence_timeout" {
		t.Errorf("outcome = %q, want silence_timeout (interrupt must not end the call)", rec.Outcome)
	}
	if rec.Turns != 1 {
		t.Errorf("turns = %d, want 1", rec.Turns)
	}
}

func TestHandleCall_CallerHangupMidListen(t *testing.T) {
	d := newTestDeps()
	o := newTestOrchestrator(t, d, Config{
		SilenceTimeout: 5 * time.Second,
		UtteranceHold:  10 * time.Millisecond,
	})
	b := bridgemock.New(bridge.CallInfo{CallID: "call-11", AccountID: "acct-1"})
	done := handleAsync(o, b)

	time.Sleep(20 * time.Millisecond)
	b.Hangup()
	<-done

	rec := d.archive.lastCall(t)
	if rec.Outcome != "hangup" {
		t.Errorf("outcome = %q, want hangup", rec.Outcome)
	}
}
