package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

func TestContextManager_AppendAndWindow(t *testing.T) {
	m := NewContextManager(10)
	m.AppendTurn(types.RoleUser, "hello")
	m.AppendTurn(types.RoleAssistant, "hi, how can I help?")

	w := m.Window()
	if len(w) != 2 {
		t.Fatalf("len(window) = %d, want 2", len(w))
	}
	if w[0].Role != types.RoleUser || w[0].Content != "hello" {
		t.Errorf("window[0] = %+v", w[0])
	}
	if w[1].Role != types.RoleAssistant {
		t.Errorf("window[1].Role = %q", w[1].Role)
	}
	if w[0].Timestamp.IsZero() {
		t.Error("AppendTurn should stamp the message")
	}
}

func TestContextManager_EvictsOldestFIFO(t *testing.T) {
	m := NewContextManager(10)
	for i := 0; i < 12; i++ {
		m.AppendTurn(types.RoleUser, fmt.Sprintf("msg-%d", i))
	}

	w := m.Window()
	if len(w) != 10 {
		t.Fatalf("len(window) = %d, want 10", len(w))
	}
	if w[0].Content != "msg-2" {
		t.Errorf("oldest surviving = %q, want msg-2", w[0].Content)
	}
	if w[9].Content != "msg-11" {
		t.Errorf("newest = %q, want msg-11", w[9].Content)
	}
}

func TestContextManager_DefaultWindowSize(t *testing.T) {
	m := NewContextManager(0)
	for i := 0; i < 15; i++ {
		m.AppendTurn(types.RoleUser, "x")
	}
	if m.Len() != 10 {
		t.Errorf("Len() = %d, want default cap of 10", m.Len())
	}
}

func TestContextManager_AppendMessageKeepsStructure(t *testing.T) {
	m := NewContextManager(10)
	m.AppendMessage(types.Message{
		Role:    types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call-1", Name: "get_weather", Arguments: `{"city":"Lisbon"}`},
		},
	})
	m.AppendMessage(types.Message{
		Role:       types.RoleTool,
		Content:    `{"temp":21}`,
		ToolCallID: "call-1",
	})

	w := m.Window()
	if len(w[0].ToolCalls) != 1 {
		t.Errorf("tool calls lost: %+v", w[0])
	}
	if w[1].ToolCallID != "call-1" {
		t.Errorf("ToolCallID = %q", w[1].ToolCallID)
	}
}

func TestContextManager_WindowReturnsCopy(t *testing.T) {
	m := NewContextManager(10)
	m.AppendTurn(types.RoleUser, "original")

	w := m.Window()
	w[0].Content = "mutated"

	if got := m.Window()[0].Content; got != "original" {
		t.Errorf("internal state mutated through the returned slice: %q", got)
	}
}

func TestContextManager_Reset(t *testing.T) {
	m := NewContextManager(10)
	m.AppendTurn(types.RoleUser, "hello")
	m.Reset()
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", m.Len())
	}
}

func TestContextManager_ConcurrentAppends(t *testing.T) {
	m := NewContextManager(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				m.AppendTurn(types.RoleUser, "x")
				m.Window()
			}
		}()
	}
	wg.Wait()
	if m.Len() != 50 {
		t.Errorf("Len() = %d, want 50 (window cap)", m.Len())
	}
}
