package agent

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hrilab/voiceagent-core/core/realtime"
)

// Config carries the session settings. Zero fields fall back to defaults in
// Validate.
type Config struct {
	Provider realtime.Provider
	// Endpoint is the deployment host, required for the azure provider.
	Endpoint string
	APIKey   string
	Model    string

	Voice        string
	Instructions string
	Temperature  float64
}

const (
	defaultModel       = "gpt-realtime"
	defaultVoice       = "marin"
	defaultTemperature = 0.8
)

// ConfigFromEnv reads the session settings from the environment. The azure
// and openai key variables are both honored, preferring the one matching the
// configured provider.
func ConfigFromEnv() Config {
	config := Config{
		Provider:     realtime.ParseProvider(os.Getenv("REALTIME_PROVIDER")),
		Endpoint:     os.Getenv("AZURE_OPENAI_ENDPOINT"),
		Model:        os.Getenv("REALTIME_MODEL"),
		Voice:        os.Getenv("REALTIME_VOICE"),
		Instructions: os.Getenv("REALTIME_INSTRUCTIONS"),
	}

	switch config.Provider {
	case realtime.ProviderAzure:
		config.APIKey = firstEnv("AZURE_OPENAI_API_KEY", "OPENAI_API_KEY")
	default:
		config.APIKey = firstEnv("OPENAI_API_KEY", "AZURE_OPENAI_API_KEY")
	}

	if raw, ok := os.LookupEnv("REALTIME_TEMPERATURE"); ok {
		if temperature, err := strconv.ParseFloat(raw, 64); err == nil {
			config.Temperature = temperature
		}
	}

	return config
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
	}
	return ""
}

// Validate fills defaults and rejects configurations that cannot connect.
func (c *Config) Validate() error {
	if c.Provider == "" {
		c.Provider = realtime.ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}

	if c.APIKey == "" {
		return fmt.Errorf("api key not configured")
	}
	if c.Provider == realtime.ProviderAzure && c.Endpoint == "" {
		return fmt.Errorf("azure provider requires an endpoint")
	}
	return nil
}
