package openai

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

	// ID is the registry id of this provider.
	ID             = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
	APIKeyEnv      = "OPENAI_API_KEY"
	ModelsEnv      = "OPENAI_MODELS"
)

// Provider implements the Provider interface for OpenAI-compatible APIs.
type Provider struct {
	desc     models.ProviderDescriptor
	baseURL  string
	headers  map[string]string
	client   *http.Client
	timeouts provider.Timeouts
	lookup   models.LookupFunc
	chatURL  string
}

// New creates a new OpenAI provider. The API key is read from the
// environment each time a client is created.
func New(cfg config.ProviderConfig, client *http.Client, timeouts provider.Timeouts, lookup models.LookupFunc) (*Provider, error) {
	desc := models.ProviderDescriptor{
		ID:        ID,
		Name:      "OpenAI",
		APIKeyEnv: APIKeyEnv,
		ModelsEnv: ModelsEnv,
	}
	return NewCompatible(desc, DefaultBaseURL, cfg, client, timeouts, lookup)
}

// NewCompatible creates a provider for another vendor that speaks the OpenAI
// chat completions protocol under its own identity and credential.
func NewCompatible(desc models.ProviderDescriptor, defaultBaseURL string, cfg config.ProviderConfig, client *http.Client, timeouts provider.Timeouts, lookup models.LookupFunc) (*Provider, error) {
	if desc.ID == "" || desc.APIKeyEnv == "" {
		return nil, errors.New("provider descriptor needs an id and a credential variable")
	}
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if lookup == nil {
		lookup = models.EnvLookup
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		desc:     desc,
		baseURL:  baseURL,
		headers:  cfg.Headers,
		client:   client,
		timeouts: timeouts.WithDefaults(),
		lookup:   lookup,
		chatURL:  baseURL + "/chat/completions",
	}, nil
}

func (p *Provider) ID() string {
	return p.desc.ID
}

func (p *Provider) Describe() models.ProviderDescriptor {
	return p.desc
}

func (p *Provider) NewClient(modelID string) (provider.Client, error) {
	apiKey := models.Credential(p.lookup, p.desc.APIKeyEnv)
	if apiKey == "" {
		return nil, provider.MissingCredential(p.desc.ID, p.desc.APIKeyEnv)
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, llmerr.New(llmerr.KindBadRequest, p.desc.ID, errors.New("model id must not be empty"))
	}
	return &client{provider: p, model: modelID, apiKey: apiKey}, nil
}

func (p *Provider) MapError(err error) *llmerr.ServiceError {
	return llmerr.Classify(p.desc.ID, err, classify)
}

type client struct {
	provider *Provider
	model    string
	apiKey   string
}

func (c *client) Complete(ctx context.Context, messages []models.Message) (*models.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.provider.timeouts.Request)
	defer cancel()

	httpReq, err := c.newRequest(ctx, buildChatPayload(c.model, messages, false))
	if err != nil {
		return nil, err
	}

	httpResp, err := c.provider.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat request failed: %w", c.provider.desc.ID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return providerResp.toCompletion()
}

func (c *client) Stream(ctx context.Context, messages []models.Message) (provider.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.provider.timeouts.Stream)

	httpReq, err := c.newRequest(ctx, buildChatPayload(c.model, messages, true))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.provider.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s stream request failed: %w", c.provider.desc.ID, err)
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

func (c *client) newRequest(ctx context.Context, payload chatPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
}

func (s *stream) Recv() (models.Delta, error) {
	for {
		ev, err := s.decoder.Next()
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return models.Delta{}, ctxErr
			}
			if errors.Is(err, io.EOF) {
				return models.Delta{}, io.EOF
			}
			return models.Delta{}, fmt.Errorf("read openai stream: %w", err)
		}

		data := bytes.TrimSpace(ev.Data)
		if string(data) == "[DONE]" {
			return models.Delta{}, io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return models.Delta{}, fmt.Errorf("decode openai stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return models.Delta{}, chunk.Error.toAPIError(0)
		}

		var delta models.Delta
		for _, choice := range chunk.Choices {
			delta.Content += choice.Delta.Content
		}
		if chunk.Usage != nil {
			delta.Usage = chunk.Usage.toUsage()
		}
		if delta.Content == "" && delta.Usage == nil {
			continue
		}
		return delta, nil
	}
}

func (s *stream) Close() error {
	s.cancel()
	return s.body.Close()
}
