// Package nvidia registers NVIDIA NIM, which serves hosted open models
// behind an OpenAI-compatible chat completions endpoint.
package nvidia

import (
	"fmt"
	"net/http"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	openaiProvider "chatrelay/internal/provider/openai"
)

const (
	ID             = "nvidia"
	DefaultBaseURL = "https://integrate.api.nvidia.com/v1"
	APIKeyEnv      = "NVIDIA_API_KEY"
	ModelsEnv      = "NVIDIA_MODELS"
)

// New constructs the NVIDIA provider on top of the OpenAI wire protocol.
func New(cfg config.ProviderConfig, client *http.Client, timeouts provider.Timeouts, lookup models.LookupFunc) (*openaiProvider.Provider, error) {
	desc := models.ProviderDescriptor{
		ID:        ID,
		Name:      "NVIDIA NIM",
		APIKeyEnv: APIKeyEnv,
		ModelsEnv: ModelsEnv,
	}
	p, err := openaiProvider.NewCompatible(desc, DefaultBaseURL, cfg, client, timeouts, lookup)
	if err != nil {
		return nil, fmt.Errorf("initialize openai-compatible adapter: %w", err)
	}
	return p, nil
}
