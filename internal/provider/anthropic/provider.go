package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatrelay/internal/config"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/provider/sse"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "chatrelay/0.1"
	apiVersion      = "2023-06-01"

	// ID is the registry id of this provider.
	ID               = "anthropic"
	DefaultBaseURL   = "https://api.anthropic.com"
	APIKeyEnv        = "ANTHROPIC_API_KEY"
	ModelsEnv        = "ANTHROPIC_MODELS"
	defaultMaxTokens = 1024
)

// Provider implements Anthropic Messages API interactions.
type Provider struct {
	headers   map[string]string
	client    *http.Client
	timeouts  provider.Timeouts
	lookup    models.LookupFunc
	maxTokens int
	messages  string
}

// New constructs an Anthropic provider instance.
func New(cfg config.ProviderConfig, client *http.Client, timeouts provider.Timeouts, lookup models.LookupFunc) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if lookup == nil {
		lookup = models.EnvLookup
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Provider{
		headers:   cfg.Headers,
		client:    client,
		timeouts:  timeouts.WithDefaults(),
		lookup:    lookup,
		maxTokens: maxTokens,
		messages:  baseURL + "/v1/messages",
	}, nil
}

func (p *Provider) ID() string {
	return ID
}

func (p *Provider) Describe() models.ProviderDescriptor {
	return models.ProviderDescriptor{
		ID:        ID,
		Name:      "Anthropic",
		APIKeyEnv: APIKeyEnv,
		ModelsEnv: ModelsEnv,
	}
}

func (p *Provider) NewClient(modelID string) (provider.Client, error) {
	apiKey := models.Credential(p.lookup, APIKeyEnv)
	if apiKey == "" {
		return nil, provider.MissingCredential(ID, APIKeyEnv)
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, llmerr.New(llmerr.KindBadRequest, ID, errors.New("model id must not be empty"))
	}
	return &client{provider: p, model: modelID, apiKey: apiKey}, nil
}

func (p *Provider) MapError(err error) *llmerr.ServiceError {
	return llmerr.Classify(ID, err, classify)
}

type client struct {
	provider *Provider
	model    string
	apiKey   string
}

func (c *client) Complete(ctx context.Context, messages []models.Message) (*models.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.provider.timeouts.Request)
	defer cancel()

	payload, err := buildMessagePayload(c.model, c.provider.maxTokens, messages, false)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.provider.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp messageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return providerResp.toCompletion()
}

func (c *client) Stream(ctx context.Context, messages []models.Message) (provider.Stream, error) {
	payload, err := buildMessagePayload(c.model, c.provider.maxTokens, messages, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.provider.timeouts.Stream)

	httpReq, err := c.newRequest(ctx, payload)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.provider.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("anthropic stream request failed: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		defer cancel()
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return &stream{
		ctx:     ctx,
		cancel:  cancel,
		body:    httpResp.Body,
		decoder: sse.NewDecoder(httpResp.Body),
	}, nil
}

func (c *client) newRequest(ctx context.Context, payload messagePayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.messages, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	for k, v := range c.provider.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

type stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	decoder *sse.Decoder
	usage   models.Usage
	done    bool
}

func (s *stream) Recv() (models.Delta, error) {
	if s.done {
		return models.Delta{}, io.EOF
	}
	for {
		ev, err := s.decoder.Next()
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return models.Delta{}, ctxErr
			}
			if errors.Is(err, io.EOF) {
				return models.Delta{}, io.ErrUnexpectedEOF
			}
			return models.Delta{}, fmt.Errorf("read anthropic stream: %w", err)
		}

		var event streamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			return models.Delta{}, fmt.Errorf("decode anthropic stream event: %w", err)
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				s.usage.PromptTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				return models.Delta{Content: event.Delta.Text}, nil
			}
		case "message_delta":
			if event.Usage != nil {
				s.usage.CompletionTokens = event.Usage.OutputTokens
				s.usage.TotalTokens = s.usage.PromptTokens + s.usage.CompletionTokens
				usage := s.usage
				return models.Delta{Usage: &usage}, nil
			}
		case "message_stop":
			s.done = true
			return models.Delta{}, io.EOF
		case "error":
			if event.Error != nil {
				return models.Delta{}, &APIError{Type: event.Error.Type, Message: event.Error.Message}
			}
			return models.Delta{}, &APIError{Type: "api_error"}
		}
	}
}

func (s *stream) Close() error {
	s.cancel()
	return s.body.Close()
}
