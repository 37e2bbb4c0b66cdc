package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/catalog"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
)

// Router dispatches chat requests to the provider serving the resolved model.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	catalog  *catalog.Catalog
	registry *provider.Registry
	logger   *slog.Logger
	newID    func() string
}

// Option customises a Router.
type Option func(*Router)

// WithLogger sets the logger used for provider failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIDGenerator replaces the message id source.
func WithIDGenerator(newID func() string) Option {
	return func(r *Router) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// New constructs a router backed by the catalog and registry.
func New(cat *catalog.Catalog, registry *provider.Registry, opts ...Option) *Router {
	r := &Router{
		catalog:  cat,
		registry: registry,
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request is a chat request after validation.
type Request struct {
	Message string
	History []ChatTurn
	// Model is optional; the catalog default is used when empty.
	Model string
}

// Reply is a complete model answer.
type Reply struct {
	Text  string
	Model string
	Usage models.Usage
}

// Chat sends the request to its model once and returns the full reply.
// Failures are *llmerr.ServiceError.
func (r *Router) Chat(ctx context.Context, req Request) (*Reply, error) {
	model, client, err := r.prepare(req.Model)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	completion, err := client.Complete(ctx, BuildMessages(req.History, req.Message))
	if err != nil {
		return nil, r.fail(model, err)
	}

	r.logger.Debug("chat completed",
		"provider", model.Provider,
		"model", model.ID,
		"duration", time.Since(started),
		"tokens", completion.Usage.Total(),
	)
	return &Reply{Text: completion.Content, Model: model.ID, Usage: completion.Usage}, nil
}

// Stream returns the reply as a lazy event sequence. The start event is
// yielded before the vendor is contacted. Vendor failures end the sequence
// with an error event rather than an error return. When ctx is cancelled or
// the consumer stops pulling, the vendor stream is closed and nothing more
// is yielded.
func (r *Router) Stream(ctx context.Context, req Request) iter.Seq[StreamEvent] {
	return func(yield func(StreamEvent) bool) {
		id := r.newID()
		if !yield(startEvent(id)) {
			return
		}

		model, client, err := r.prepare(req.Model)
		if err != nil {
			yield(errorEvent(id, asServiceError(err)))
			return
		}

		stream, err := client.Stream(ctx, BuildMessages(req.History, req.Message))
		if err != nil {
			if !cancelled(ctx) {
				yield(errorEvent(id, r.fail(model, err)))
			}
			return
		}
		defer stream.Close()

		var usage models.Usage
		for {
			delta, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if !cancelled(ctx) {
					yield(errorEvent(id, r.fail(model, err)))
				}
				return
			}
			if delta.Usage != nil {
				usage = *delta.Usage
			}
			if delta.Content == "" {
				continue
			}
			if !yield(chunkEvent(id, delta.Content)) {
				return
			}
		}

		yield(doneEvent(id, model.ID, usage.Total()))
	}
}

func (r *Router) prepare(modelID string) (models.ModelDescriptor, provider.Client, error) {
	model, err := r.catalog.Resolve(modelID)
	if err != nil {
		return models.ModelDescriptor{}, nil, llmerr.New(llmerr.KindBadRequest, "", err)
	}

	p, ok := r.registry.Lookup(model.Provider)
	if !ok {
		return model, nil, llmerr.New(llmerr.KindGeneric, model.Provider,
			fmt.Errorf("no provider registered for %q", model.Provider))
	}

	client, err := p.NewClient(model.ID)
	if err != nil {
		return model, nil, r.fail(model, err)
	}
	return model, client, nil
}

func (r *Router) fail(model models.ModelDescriptor, err error) *llmerr.ServiceError {
	se := r.registry.MapError(model.Provider, err)
	r.logger.Warn("provider call failed",
		"provider", model.Provider,
		"model", model.ID,
		"kind", se.Kind,
		"error", llmerr.RedactError(se.Cause),
	)
	return se
}

func asServiceError(err error) *llmerr.ServiceError {
	if se, ok := llmerr.As(err); ok {
		return se
	}
	return llmerr.New(llmerr.KindGeneric, "", err)
}

// cancelled reports whether the caller went away, as opposed to a deadline
// firing.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
