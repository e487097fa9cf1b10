package realtime

import (
	"fmt"
	"net/http"
	"net/url"
)

// Provider selects the remote endpoint variant. The variant decides how the
// websocket URL is constructed and which authentication header shape is used.
type Provider string

const (
	// ProviderAzure connects to an Azure-hosted deployment and authenticates
	// with a plain api-key header.
	ProviderAzure Provider = "azure"
	// ProviderOpenAI connects to the public endpoint and authenticates with a
	// bearer authorization header.
	ProviderOpenAI Provider = "openai"
)

const (
	azureAPIVersion = "2024-10-01-preview"
	openAIBaseURL   = "wss://api.openai.com/v1/realtime"

	// gaModel is the first model served without the beta opt-in header.
	gaModel = "gpt-realtime"
)

func ParseProvider(value string) Provider {
	switch Provider(value) {
	case ProviderOpenAI:
		return ProviderOpenAI
	case ProviderAzure:
		return ProviderAzure
	}

	logger.Warn("unknown provider, using azure", "provider", value)
	return ProviderAzure
}

// URL builds the websocket URL for the provider. endpoint is only used by the
// azure variant and names the deployment host.
func (p Provider) URL(endpoint, model string) (string, error) {
	switch p {
	case ProviderAzure:
		if endpoint == "" {
			return "", fmt.Errorf("azure provider requires an endpoint")
		}
		query := url.Values{}
		query.Set("api-version", azureAPIVersion)
		query.Set("deployment", model)
		return (&url.URL{Scheme: "wss", Host: endpoint, Path: "/openai/realtime", RawQuery: query.Encode()}).String(), nil

	case ProviderOpenAI:
		connectURL, _ := url.Parse(openAIBaseURL)
		query := connectURL.Query()
		query.Set("model", model)
		connectURL.RawQuery = query.Encode()
		return connectURL.String(), nil
	}

	return "", fmt.Errorf("unknown provider: %q", string(p))
}

// Headers builds the authentication headers for the provider. The header shape
// is a pure function of the provider and is otherwise opaque to the client.
func (p Provider) Headers(apiKey, model string) http.Header {
	headers := http.Header{}
	switch p {
	case ProviderAzure:
		headers.Set("api-key", apiKey)
	case ProviderOpenAI:
		headers.Set("Authorization", "Bearer "+apiKey)
	}

	if model != gaModel {
		headers.Set("OpenAI-Beta", "realtime=v1")
	}
	return headers
}
