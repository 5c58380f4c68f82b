// Package clientfactory selects the concrete vendor Client by provider
// type. It is kept separate from internal/completions/client so the vendor
// sub-packages (which implement client.Client) can import the contract
// package without creating an import cycle back through the factory.
package clientfactory

import (
	"fmt"
	"net/http"

	"chatforge/internal/completions/client"
	"chatforge/internal/completions/client/anthropic"
	"chatforge/internal/completions/client/google"
	"chatforge/internal/completions/client/openai"
	"chatforge/internal/config"
)

// For selects the concrete Client by provider type, defaulting to the
// OpenAI-compatible client — Azure is a configuration variant of it rather
// than a distinct implementation, matching the teacher's factory.
func For(providerType client.ProviderType, cfg config.Config, httpClient *http.Client) (client.Client, error) {
	switch providerType {
	case client.ProviderClaude:
		return anthropic.New(cfg.Anthropic, httpClient), nil
	case client.ProviderGemini:
		return google.New(cfg.Google, httpClient), nil
	case client.ProviderOpenAICompatible, client.ProviderAzureOpenAI, "":
		return openai.New(cfg.OpenAI, httpClient), nil
	default:
		return nil, fmt.Errorf("clientfactory: unknown provider type %q", providerType)
	}
}
