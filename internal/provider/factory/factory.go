package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	anthropicProvider "chatrelay/internal/provider/anthropic"
	nvidiaProvider "chatrelay/internal/provider/nvidia"
	ollamaProvider "chatrelay/internal/provider/ollama"
	openaiProvider "chatrelay/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewRegistry constructs every known provider and returns them as a
// read-only registry. Providers are registered even when their credential is
// missing; enablement is decided per request from the environment.
func NewRegistry(cfg config.Config, lookup models.LookupFunc) (*provider.Registry, error) {
	timeouts := provider.Timeouts{
		Request: cfg.Timeouts.Request,
		Stream:  cfg.Timeouts.Stream,
	}

	openAI, err := openaiProvider.New(cfg.Providers.OpenAI, newHTTPClient(), timeouts, lookup)
	if err != nil {
		return nil, fmt.Errorf("initialise openai provider: %w", err)
	}

	anthropic, err := anthropicProvider.New(cfg.Providers.Anthropic, newHTTPClient(), timeouts, lookup)
	if err != nil {
		return nil, fmt.Errorf("initialise anthropic provider: %w", err)
	}

	ollama, err := ollamaProvider.New(cfg.Providers.Ollama, newHTTPClient(), timeouts, lookup)
	if err != nil {
		return nil, fmt.Errorf("initialise ollama provider: %w", err)
	}

	nvidia, err := nvidiaProvider.New(cfg.Providers.NVIDIA, newHTTPClient(), timeouts, lookup)
	if err != nil {
		return nil, fmt.Errorf("initialise nvidia provider: %w", err)
	}

	registry, err := provider.NewRegistry(openAI, anthropic, ollama, nvidia)
	if err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	return registry, nil
}

// newHTTPClient returns a pooled client without a global timeout; each call
// carries its own deadline so streams are not cut off by the client.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}
