package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/types"
)

// CallControl lets a tool act on the call it was invoked from. The
// orchestrator injects one per call via [WithCallControl] before executing
// tool requests.
type CallControl interface {
	// RequestHangup asks the orchestrator to end the call gracefully after
	// the current turn finishes speaking.
	RequestHangup(reason string)
}

type callControlKey struct{}

// WithCallControl attaches per-call control to a tool execution context.
func WithCallControl(ctx context.Context, cc CallControl) context.Context {
	return context.WithValue(ctx, callControlKey{}, cc)
}

// callControlFrom extracts the control injected by the orchestrator.
func callControlFrom(ctx context.Context) (CallControl, bool) {
	cc, ok := ctx.Value(callControlKey{}).(CallControl)
	return cc, ok
}

// RegisterBuiltins adds the standard call tools to the registry.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		def     types.ToolDefinition
		handler Handler
	}{
		{endCallDefinition, handleEndCall},
		{currentTimeDefinition, handleCurrentTime},
		{weatherDefinition, handleWeather},
	}
	for _, b := range builtins {
		if err := r.RegisterBuiltin(b.def, b.handler); err != nil {
			return err
		}
	}
	return nil
}

var endCallDefinition = types.ToolDefinition{
	Name:        "end_call",
	Description: "End the phone call politely. Use when the caller says goodbye or the conversation has reached a natural conclusion.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Short reason the call is ending.",
			},
		},
	},
}

func handleEndCall(ctx context.Context, args string) (string, error) {
	cc, ok := callControlFrom(ctx)
	if !ok {
		return "", errors.New("end_call invoked outside a call")
	}

	var params struct {
		Reason string `json:"reason"`
	}
	if args != "" {
		_ = json.Unmarshal([]byte(args), &params)
	}
	if params.Reason == "" {
		params.Reason = "conversation complete"
	}

	cc.RequestHangup(params.Reason)
	return "The call will end after this response. Say a brief goodbye.", nil
}

var currentTimeDefinition = types.ToolDefinition{
	Name:        "current_time",
	Description: "Get the current date and time, optionally in a specific IANA timezone.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, e.g. \"Europe/Berlin\". Defaults to UTC.",
			},
		},
	},
}

func handleCurrentTime(_ context.Context, args string) (string, error) {
	var params struct {
		Timezone string `json:"timezone"`
	}
	if args != "" {
		_ = json.Unmarshal([]byte(args), &params)
	}

	loc := time.UTC
	if params.Timezone != "" {
		l, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", params.Timezone)
		}
		loc = l
	}
	return time.Now().In(loc).Format("Monday, January 2, 2006 at 3:04 PM (MST)"), nil
}

var weatherDefinition = types.ToolDefinition{
	Name:        "get_weather",
	Description: "Get the current weather for a location given its latitude and longitude.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"latitude":  map[string]any{"type": "number"},
			"longitude": map[string]any{"type": "number"},
		},
		"required": []any{"latitude", "longitude"},
	},
}

// weatherBaseURL is swappable in tests.
var weatherBaseURL = "https://api.open-meteo.com/v1/forecast"

func handleWeather(ctx context.Context, args string) (string, error) {
	var params struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("invalid weather arguments: %w", err)
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", params.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", params.Longitude))
	q.Set("current_weather", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, weatherBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("weather lookup failed: status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode weather response: %w", err)
	}

	cw := payload.CurrentWeather
	return fmt.Sprintf("Currently %.1f°C with wind at %.1f km/h (%s).",
		cw.Temperature, cw.WindSpeed, describeWeatherCode(cw.WeatherCode)), nil
}

// describeWeatherCode maps WMO weather codes to speakable phrases.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "foggy"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorms"
	}
}
