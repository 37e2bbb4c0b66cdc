// Package ollama serves models from an Ollama server through the official
// API client. Ollama has no API key; the provider counts as configured when
// OLLAMA_HOST is set.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"chatrelay/internal/config"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
)

const (
	// ID is the registry id of this provider.
	ID        = "ollama"
	HostEnv   = "OLLAMA_HOST"
	ModelsEnv = "OLLAMA_CHAT_MODELS"
)

// Provider implements the Provider interface for Ollama.
type Provider struct {
	baseURL  string
	client   *http.Client
	timeouts provider.Timeouts
	lookup   models.LookupFunc
}

// New creates an Ollama provider. cfg.BaseURL, when set, takes precedence
// over the host in OLLAMA_HOST.
func New(cfg config.ProviderConfig, client *http.Client, timeouts provider.Timeouts, lookup models.LookupFunc) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if lookup == nil {
		lookup = models.EnvLookup
	}
	return &Provider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		timeouts: timeouts.WithDefaults(),
		lookup:   lookup,
	}, nil
}

func (p *Provider) ID() string {
	return ID
}

func (p *Provider) Describe() models.ProviderDescriptor {
	return models.ProviderDescriptor{
		ID:        ID,
		Name:      "Ollama",
		APIKeyEnv: HostEnv,
		ModelsEnv: ModelsEnv,
	}
}

func (p *Provider) NewClient(modelID string) (provider.Client, error) {
	host := models.Credential(p.lookup, HostEnv)
	if host == "" {
		return nil, provider.MissingCredential(ID, HostEnv)
	}
	if p.baseURL != "" {
		host = p.baseURL
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	base, err := url.Parse(host)
	if err != nil {
		return nil, llmerr.New(llmerr.KindAuthentication, ID, fmt.Errorf("invalid ollama host: %w", err))
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, llmerr.New(llmerr.KindBadRequest, ID, errors.New("model id must not be empty"))
	}

	return &client{
		api:      api.NewClient(base, p.client),
		model:    modelID,
		timeouts: p.timeouts,
	}, nil
}

func (p *Provider) MapError(err error) *llmerr.ServiceError {
	return llmerr.Classify(ID, err, classify)
}

// classify is the Ollama error table; the server reports failures only
// through HTTP status codes.
func classify(err error) (llmerr.Kind, bool) {
	status := 0
	var (
		statusErr    api.StatusError
		statusErrPtr *api.StatusError
	)
	switch {
	case errors.As(err, &statusErr):
		status = statusErr.StatusCode
	case errors.As(err, &statusErrPtr):
		status = statusErrPtr.StatusCode
	default:
		return "", false
	}

	if kind, ok := llmerr.FromStatus(status); ok {
		return kind, true
	}
	return llmerr.KindGeneric, true
}

type client struct {
	api      *api.Client
	model    string
	timeouts provider.Timeouts
}

func (c *client) Complete(ctx context.Context, messages []models.Message) (*models.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Request)
	defer cancel()

	req := c.chatRequest(messages, false)

	var (
		content  strings.Builder
		response api.ChatResponse
	)
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat request failed: %w", err)
	}

	return &models.Completion{
		Content:      content.String(),
		FinishReason: response.DoneReason,
		Usage: models.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
			TotalTokens:      response.PromptEvalCount + response.EvalCount,
		},
	}, nil
}

type result struct {
	delta models.Delta
	err   error
}

// Stream adapts the callback-based client to a pull stream. The request runs
// in its own goroutine and stops when the stream is closed.
func (c *client) Stream(ctx context.Context, messages []models.Message) (provider.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Stream)
	req := c.chatRequest(messages, true)
	results := make(chan result)

	go func() {
		defer close(results)

		err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
			delta := models.Delta{Content: resp.Message.Content}
			if resp.Done {
				delta.Usage = &models.Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				}
			}
			if delta.Content == "" && delta.Usage == nil {
				return nil
			}
			select {
			case results <- result{delta: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil {
			err = io.EOF
		}
		select {
		case results <- result{err: err}:
		case <-ctx.Done():
		}
	}()

	return &stream{ctx: ctx, cancel: cancel, results: results}, nil
}

func (c *client) chatRequest(messages []models.Message, stream bool) *api.ChatRequest {
	out := make([]api.Message, len(messages))
	for i, msg := range messages {
		out[i] = api.Message{Role: msg.Role, Content: msg.Content}
	}
	return &api.ChatRequest{
		Model:    c.model,
		Messages: out,
		Stream:   &stream,
	}
}

type stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	results chan result
}

func (s *stream) Recv() (models.Delta, error) {
	r, ok := <-s.results
	if !ok {
		if err := s.ctx.Err(); err != nil {
			return models.Delta{}, err
		}
		return models.Delta{}, io.EOF
	}
	if r.err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return models.Delta{}, ctxErr
		}
		return models.Delta{}, r.err
	}
	return r.delta, nil
}

func (s *stream) Close() error {
	s.cancel()
	for range s.results {
	}
	return nil
}
