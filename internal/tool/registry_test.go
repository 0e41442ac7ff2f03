package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftpad-ai/draftpad-backend/internal/llm"
)

func toolNames(tools []Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

func TestActiveSets(t *testing.T) {
	r := NewRegistry()

	t.Run("document set", func(t *testing.T) {
		assert.Equal(t,
			[]string{"createDocument", "requestSuggestions", "updateDocument"},
			toolNames(r.Active("document")))
	})

	t.Run("weather set", func(t *testing.T) {
		assert.Equal(t, []string{"getWeather"}, toolNames(r.Active("weather")))
	})

	t.Run("union", func(t *testing.T) {
		assert.Equal(t,
			[]string{"createDocument", "getWeather", "requestSuggestions", "updateDocument"},
			toolNames(r.Active("document", "weather")))
	})

	t.Run("unknown set is empty", func(t *testing.T) {
		assert.Empty(t, r.Active("nonexistent"))
	})
}

func TestDefinitionsCarrySchemas(t *testing.T) {
	r := NewRegistry()
	defs := r.Definitions("document", "weather")
	require.Len(t, defs, 4)
	for _, def := range defs {
		assert.NotEmpty(t, def.Name)
		assert.NotEmpty(t, def.Description)
		require.NotNil(t, def.Parameters)
	}
}

func TestDispatchUnknownToolReturnsErrorResult(t *testing.T) {
	r := NewRegistry()
	deps, mux := newTestDeps(&fakeLLM{}, newFakeDocStore())
	defer drainMux(mux)

	result, err := r.Dispatch(context.Background(), deps, llm.ToolCall{
		ID:        "call_1",
		Name:      "launchMissiles",
		Arguments: "{}",
	})
	require.NoError(t, err)

	var errResult ErrorResult
	require.NoError(t, json.Unmarshal(result, &errResult))
	assert.Contains(t, errResult.Error, "launchMissiles")
}

func TestDispatchInvalidArgumentsReturnsErrorResult(t *testing.T) {
	r := NewRegistry()
	deps, mux := newTestDeps(&fakeLLM{}, newFakeDocStore())
	defer drainMux(mux)

	cases := []struct {
		name string
		call llm.ToolCall
	}{
		{
			name: "missing required key",
			call: llm.ToolCall{ID: "c1", Name: "getWeather", Arguments: `{"latitude":48.85}`},
		},
		{
			name: "wrong primitive kind",
			call: llm.ToolCall{ID: "c2", Name: "getWeather", Arguments: `{"latitude":"north","longitude":2.35}`},
		},
		{
			name: "not an object",
			call: llm.ToolCall{ID: "c3", Name: "createDocument", Arguments: `"just a string"`},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := r.Dispatch(context.Background(), deps, tc.call)
			require.NoError(t, err)

			var errResult ErrorResult
			require.NoError(t, json.Unmarshal(result, &errResult))
			assert.NotEmpty(t, errResult.Error)
		})
	}
}

func TestValidateArgsAcceptsUndeclaredKeys(t *testing.T) {
	r := NewRegistry()
	weather, ok := r.Get("getWeather")
	require.True(t, ok)

	err := validateArgs(weather.Parameters, json.RawMessage(`{"latitude":1,"longitude":2,"units":"metric"}`))
	assert.NoError(t, err)
}
