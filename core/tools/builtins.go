package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// httpClient is shared by the builtin tools so outbound calls carry trace
// context.
var httpClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
	Timeout:   10 * time.Second,
}

// Builtins returns the stock tools. Weather availability depends on an API
// key being configured.
func Builtins() []Tool {
	return []Tool{
		DatetimeTool(),
		JokeTool(),
		WeatherTool(),
	}
}

func DatetimeTool() Tool {
	return Tool{
		Name:        "get_current_datetime",
		Description: "Get the current date and time, including the weekday.",
		Parameters:  ParametersFor[struct{}](),
		Handle: func(_ context.Context, _ json.RawMessage) (string, error) {
			now := time.Now()
			result, err := json.Marshal(map[string]string{
				"datetime": now.Format("Monday, 2 January 2006, 15:04"),
				"timezone": now.Format("MST"),
			})
			if err != nil {
				return "", err
			}
			return string(result), nil
		},
	}
}

var jokes = []string{
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"I told my computer I needed a break, and now it won't stop sending me KitKat ads.",
	"There are only 10 kinds of people: those who understand binary and those who don't.",
	"Why did the robot go on vacation? It needed to recharge its batteries.",
	"I would tell you a UDP joke, but you might not get it.",
}

func JokeTool() Tool {
	return Tool{
		Name:        "get_random_joke",
		Description: "Tell a random joke.",
		Parameters:  ParametersFor[struct{}](),
		Handle: func(_ context.Context, _ json.RawMessage) (string, error) {
			result, err := json.Marshal(map[string]string{
				"text": jokes[rand.Intn(len(jokes))],
			})
			if err != nil {
				return "", err
			}
			return string(result), nil
		},
	}
}

type weatherArguments struct {
	Location string `json:"location" jsonschema:"title=Location,description=City name to get the weather for"`
}

// WeatherTool reports current conditions for a city. It is only advertised
// when OPENWEATHER_API_KEY is set.
func WeatherTool() Tool {
	return Tool{
		Name:        "get_weather",
		Description: "Get the current weather for a location.",
		Parameters:  ParametersFor[weatherArguments](),
		Available: func() bool {
			_, ok := os.LookupEnv("OPENWEATHER_API_KEY")
			return ok
		},
		Handle: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			args, err := ParseArguments[weatherArguments](arguments)
			if err != nil {
				return "", err
			}
			if args.Location == "" {
				return `{"success":false,"error":"Please provide a location for the weather query."}`, nil
			}

			apiKey := os.Getenv("OPENWEATHER_API_KEY")
			query := url.Values{}
			query.Set("q", args.Location)
			query.Set("appid", apiKey)
			query.Set("units", "metric")

			request, err := http.NewRequestWithContext(ctx,
				http.MethodGet, "https://api.openweathermap.org/data/2.5/weather?"+query.Encode(), nil)
			if err != nil {
				return "", err
			}

			response, err := httpClient.Do(request)
			if err != nil {
				return "", fmt.Errorf("failed to fetch weather: %w", err)
			}
			defer response.Body.Close()

			body, err := io.ReadAll(response.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read weather response: %w", err)
			}

			var payload struct {
				Name    string `json:"name"`
				Message string `json:"message"`
				Weather []struct {
					Description string `json:"description"`
				} `json:"weather"`
				Main struct {
					Temp      float64 `json:"temp"`
					FeelsLike float64 `json:"feels_like"`
					Humidity  int     `json:"humidity"`
				} `json:"main"`
				Wind struct {
					Speed float64 `json:"speed"`
				} `json:"wind"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return "", fmt.Errorf("failed to parse weather response: %w", err)
			}
			if response.StatusCode != http.StatusOK {
				result, _ := json.Marshal(map[string]any{
					"success": false,
					"error":   fmt.Sprintf("failed to fetch weather: %s", payload.Message),
				})
				return string(result), nil
			}

			description := "unknown"
			if len(payload.Weather) > 0 {
				description = payload.Weather[0].Description
			}
			result, err := json.Marshal(map[string]any{
				"success":        true,
				"location":       payload.Name,
				"description":    description,
				"temperature_c":  payload.Main.Temp,
				"feels_like_c":   payload.Main.FeelsLike,
				"humidity_pct":   payload.Main.Humidity,
				"wind_speed_mps": payload.Wind.Speed,
			})
			if err != nil {
				return "", err
			}
			return string(result), nil
		},
	}
}
