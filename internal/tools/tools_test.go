package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

func TestRegistry_RegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterBuiltin(
		types.ToolDefinition{Name: "echo"},
		func(_ context.Context, args string) (string, error) { return "echo: " + args, nil },
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := r.Execute(context.Background(), "echo", `{"x":1}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Content != `echo: {"x":1}` {
		t.Errorf("content = %q", res.Content)
	}
	if res.IsError {
		t.Error("IsError should be false")
	}
	if res.Duration < 0 {
		t.Error("Duration should be recorded")
	}
}

func TestRegistry_HandlerErrorBecomesResult(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterBuiltin(
		types.ToolDefinition{Name: "flaky"},
		func(_ context.Context, _ string) (string, error) { return "", errors.New("backend down") },
	)

	res, err := r.Execute(context.Background(), "flaky", "{}")
	if err != nil {
		t.Fatalf("handler errors should surface in the Result, got %v", err)
	}
	if !res.IsError {
		t.Error("IsError should be true")
	}
	if res.Content != "backend down" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", "{}")
	if err == nil {
		t.Fatal("unknown tool should be a Go error")
	}
}

func TestRegistry_RejectsInvalidBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterBuiltin(types.ToolDefinition{}, func(context.Context, string) (string, error) { return "", nil }); err == nil {
		t.Error("empty name should be rejected")
	}
	if err := r.RegisterBuiltin(types.ToolDefinition{Name: "x"}, nil); err == nil {
		t.Error("nil handler should be rejected")
	}
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	defs := r.Definitions()
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
	}
	for _, want := range []string{"end_call", "current_time", "get_weather"} {
		if !names[want] {
			t.Errorf("builtin %q missing from definitions", want)
		}
	}
}

// recordingControl captures hangup requests from end_call.
type recordingControl struct {
	reason string
	called bool
}

func (c *recordingControl) RequestHangup(reason string) {
	c.called = true
	c.reason = reason
}

func TestEndCall_RequestsHangup(t *testing.T) {
	r := NewRegistry()
	_ = RegisterBuiltins(r)

	cc := &recordingControl{}
	ctx := WithCallControl(context.Background(), cc)

	res, err := r.Execute(ctx, "end_call", `{"reason":"caller said goodbye"}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content)
	}
	if !cc.called {
		t.Fatal("RequestHangup was not invoked")
	}
	if cc.reason != "caller said goodbye" {
		t.Errorf("reason = %q", cc.reason)
	}
}

func TestEndCall_DefaultReason(t *testing.T) {
	r := NewRegistry()
	_ = RegisterBuiltins(r)

	cc := &recordingControl{}
	res, err := r.Execute(WithCallControl(context.Background(), cc), "end_call", "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content)
	}
	if cc.reason != "conversation complete" {
		t.Errorf("reason = %q, want the default", cc.reason)
	}
}

func TestEndCall_OutsideCall(t *testing.T) {
	r := NewRegistry()
	_ = RegisterBuiltins(r)

	res, err := r.Execute(context.Background(), "end_call", "{}")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.IsError {
		t.Error("end_call without call control should report a tool error")
	}
}

func TestCurrentTime(t *testing.T) {
	res, err := handleCurrentTime(context.Background(), "")
	if err != nil {
		t.Fatalf("handleCurrentTime: %v", err)
	}
	if res == "" {
		t.Error("empty result")
	}

	res, err = handleCurrentTime(context.Background(), `{"timezone":"Europe/Berlin"}`)
	if err != nil {
		t.Fatalf("with timezone: %v", err)
	}
	if !strings.Contains(res, "at") {
		t.Errorf("result = %q", res)
	}

	if _, err := handleCurrentTime(context.Background(), `{"timezone":"Mars/Olympus"}`); err == nil {
		t.Error("unknown timezone should error")
	}
}

func TestWeather_AgainstStubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") == "" {
			t.Error("latitude query parameter missing")
		}
		_, _ = w.Write([]byte(`{"current_weather":{"temperature":18.5,"windspeed":12.0,"weathercode":2}}`))
	}))
	defer srv.Close()

	old := weatherBaseURL
	weatherBaseURL = srv.URL
	defer func() { weatherBaseURL = old }()

	res, err := handleWeather(context.Background(), `{"latitude":52.52,"longitude":13.405}`)
	if err != nil {
		t.Fatalf("handleWeather: %v", err)
	}
	if !strings.Contains(res, "18.5") || !strings.Contains(res, "partly cloudy") {
		t.Errorf("result = %q", res)
	}
}

func TestWeather_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	old := weatherBaseURL
	weatherBaseURL = srv.URL
	defer func() { weatherBaseURL = old }()

	if _, err := handleWeather(context.Background(), `{"latitude":1,"longitude":2}`); err == nil {
		t.Error("non-200 response should error")
	}
}

func TestWeather_InvalidArguments(t *testing.T) {
	if _, err := handleWeather(context.Background(), "{broken"); err == nil {
		t.Error("invalid JSON arguments should error")
	}
}

func TestDescribeWeatherCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{0, "clear sky"},
		{2, "partly cloudy"},
		{45, "foggy"},
		{61, "rain"},
		{95, "thunderstorms"},
	}
	for _, tc := range cases {
		if got := describeWeatherCode(tc.code); got != tc.want {
			t.Errorf("describeWeatherCode(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}
