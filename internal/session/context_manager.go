// Package session holds per-call conversational state.
package session

import (
	"sync"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// defaultWindowSize is the number of messages retained in the rolling
// conversation window.
const defaultWindowSize = 10

// ContextManager maintains the rolling conversation window for one call.
// The system prompt is not part of the window; callers supply it separately
// when building a completion request. Safe for concurrent use.
//
// State lives only for the call; export-on-hangup is the archive's job.
type ContextManager struct {
	mu         sync.Mutex
	windowSize int
	messages   []types.Message
}

// NewContextManager creates a manager with the given window size.
// windowSize <= 0 selects the default.
func NewContextManager(windowSize int) *ContextManager {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &ContextManager{windowSize: windowSize}
}

// AppendTurn records a plain-text turn for the given role.
func (m *ContextManager) AppendTurn(role types.Role, text string) {
	m.AppendMessage(types.Message{
		Role:      role,
		Content:   text,
		Timestamp: time.Now(),
	})
}

// AppendMessage records a full message, used for tool-call turns where the
// message carries structure beyond role and text. Once the window exceeds its
// size the oldest message is evicted.
func (m *ContextManager) AppendMessage(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	if len(m.messages) > m.windowSize {
		over := len(m.messages) - m.windowSize
		m.messages = append(m.messages[:0], m.messages[over:]...)
	}
}

// Window returns a copy of the current window, oldest first.
func (m *ContextManager) Window() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages currently in the window.
func (m *ContextManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Reset discards the window.
func (m *ContextManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
