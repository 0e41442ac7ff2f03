package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai/jsonschema"
)

const weatherEndpoint = "https://api.open-meteo.com/v1/forecast"

func getWeatherTool() Tool {
	return Tool{
		Name:        "getWeather",
		Description: "Get the current weather at a location",
		Parameters: &jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"latitude":  {Type: jsonschema.Number},
				"longitude": {Type: jsonschema.Number},
			},
			Required: []string{"latitude", "longitude"},
		},
		Execute: getWeather,
	}
}

type weatherArgs struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// getWeather fetches current conditions from the external weather service
// and passes the provider payload through untouched. Provider failures are
// returned in-band so the model can react.
func getWeather(ctx context.Context, deps *Deps, raw json.RawMessage) (any, error) {
	var args weatherArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return ErrorResult{Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	url := fmt.Sprintf(
		"%s?latitude=%f&longitude=%f&current=temperature_2m&hourly=temperature_2m&daily=sunrise,sunset&timezone=auto",
		weatherEndpoint, args.Latitude, args.Longitude,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build weather request: %w", err)
	}

	client := deps.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return ErrorResult{Error: fmt.Sprintf("weather service unavailable: %v", err)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrorResult{Error: fmt.Sprintf("failed to read weather response: %v", err)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorResult{Error: fmt.Sprintf("weather service returned status %d", resp.StatusCode)}, nil
	}

	return json.RawMessage(body), nil
}
