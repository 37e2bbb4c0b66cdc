// Package providertest provides an in-memory provider for tests of code
// that sits above the vendor integrations.
package providertest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
)

// Error is a vendor-style failure that classifies as Kind.
type Error struct {
	Kind llmerr.Kind
	Msg  string
}

func (e *Error) Error() string { return "fake vendor error: " + e.Msg }

// Provider is a scripted provider. Every client it creates shares Script.
type Provider struct {
	Name string
	// NewClientErr, when set, is returned from NewClient.
	NewClientErr error
	Script       Script

	mu       sync.Mutex
	requests []Request
	opened   atomic.Int32
	closed   atomic.Int32
}

// Script controls what clients return.
type Script struct {
	Reply     string
	Fragments []string
	Usage     *models.Usage
	// Err fails Complete, or Stream after ErrAfter fragments.
	Err      error
	ErrAfter int
	// OpenErr fails Stream before any fragment.
	OpenErr error
	// Block makes a stream wait for cancellation after its fragments.
	Block bool
}

// Request records one call made through a client.
type Request struct {
	Model    string
	Messages []models.Message
	Stream   bool
}

// New returns a provider with the given id and script.
func New(id string, script Script) *Provider {
	return &Provider{Name: id, Script: script}
}

func (p *Provider) ID() string { return p.Name }

func (p *Provider) Describe() models.ProviderDescriptor {
	prefix := strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_"))
	return models.ProviderDescriptor{
		ID:        p.Name,
		Name:      p.Name,
		APIKeyEnv: prefix + "_API_KEY",
		ModelsEnv: prefix + "_MODELS",
	}
}

func (p *Provider) NewClient(modelID string) (provider.Client, error) {
	if p.NewClientErr != nil {
		return nil, p.NewClientErr
	}
	return &client{provider: p, model: modelID}, nil
}

func (p *Provider) MapError(err error) *llmerr.ServiceError {
	return llmerr.Classify(p.Name, err, func(err error) (llmerr.Kind, bool) {
		var fe *Error
		if errors.As(err, &fe) {
			return fe.Kind, true
		}
		return "", false
	})
}

// Requests returns every call made so far.
func (p *Provider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// OpenStreams reports streams opened and not yet closed.
func (p *Provider) OpenStreams() int {
	return int(p.opened.Load() - p.closed.Load())
}

func (p *Provider) record(r Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, r)
}

type client struct {
	provider *Provider
	model    string
}

func (c *client) Complete(ctx context.Context, messages []models.Message) (*models.Completion, error) {
	c.provider.record(Request{Model: c.model, Messages: messages})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.provider.Script
	if s.Err != nil {
		return nil, s.Err
	}
	completion := &models.Completion{Content: s.Reply}
	if s.Usage != nil {
		completion.Usage = *s.Usage
	}
	return completion, nil
}

func (c *client) Stream(ctx context.Context, messages []models.Message) (provider.Stream, error) {
	c.provider.record(Request{Model: c.model, Messages: messages, Stream: true})
	s := c.provider.Script
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	c.provider.opened.Add(1)
	return &stream{ctx: ctx, script: s, provider: c.provider}, nil
}

type stream struct {
	ctx       context.Context
	script    Script
	provider  *Provider
	next      int
	usageSent bool
	closeOnce sync.Once
}

func (s *stream) Recv() (models.Delta, error) {
	if err := s.ctx.Err(); err != nil {
		return models.Delta{}, err
	}
	if s.script.Err != nil && s.next == s.script.ErrAfter {
		return models.Delta{}, s.script.Err
	}
	if s.next < len(s.script.Fragments) {
		fragment := s.script.Fragments[s.next]
		s.next++
		return models.Delta{Content: fragment}, nil
	}
	if s.script.Block {
		<-s.ctx.Done()
		return models.Delta{}, s.ctx.Err()
	}
	if s.script.Usage != nil && !s.usageSent {
		s.usageSent = true
		usage := *s.script.Usage
		return models.Delta{Usage: &usage}, nil
	}
	return models.Delta{}, io.EOF
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { s.provider.closed.Add(1) })
	return nil
}
