// Package types holds the shared data types that cross package boundaries in
// Talkwire: audio frames, transcripts, conversation messages, tool calls, and
// voice profiles. Provider packages (pkg/provider/...) and the pipeline core
// (internal/...) both depend on these types, so they live in a leaf package
// with no project-internal imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — delivered by the
// telephony bridge, fed into speech recognition, and emitted by synthesis.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for bridge Opus, 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo (bridge output).
	Channels int

	// Timestamp marks when this frame was captured, relative to call start.
	Timestamp time.Duration
}

// Transcript is a speech-to-text result for one complete utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the provider-reported recognition confidence (0.0–1.0).
	// Zero means the provider does not report confidence.
	Confidence float64

	// LowConfidence is set by the STT router when Confidence falls below the
	// configured acceptance threshold. A low-confidence transcript is a normal
	// result value — the orchestrator asks the caller to repeat instead of
	// feeding the text to the language model.
	LowConfidence bool

	// Language is the BCP-47 tag the provider recognised (e.g., "en-US").
	Language string

	// Duration is the length of the transcribed utterance.
	Duration time.Duration
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of the Role constants.
	Role Role

	// Content is the text content of the message.
	Content string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is RoleTool, identifying which tool call
	// this message responds to.
	ToolCallID string

	// Timestamp marks when the message was appended to the conversation.
	Timestamp time.Time
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate at once.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
