package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
)

// ErrDuplicateProvider indicates an attempt to register the same provider twice.
var ErrDuplicateProvider = errors.New("provider already registered")

// Timeouts applied to vendor calls.
const (
	DefaultRequestTimeout = 120 * time.Second
	DefaultStreamTimeout  = 30 * time.Second
)

var providerIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Provider is one vendor integration.
type Provider interface {
	ID() string
	Describe() models.ProviderDescriptor
	// NewClient binds a client to modelID. It fails with an Authentication
	// ServiceError, without touching the network, when the credential is unset.
	NewClient(modelID string) (Client, error)
	MapError(err error) *llmerr.ServiceError
}

// Client talks to one model of one vendor.
type Client interface {
	Complete(ctx context.Context, messages []models.Message) (*models.Completion, error)
	Stream(ctx context.Context, messages []models.Message) (Stream, error)
}

// Stream yields deltas in vendor order until io.EOF.
type Stream interface {
	Recv() (models.Delta, error)
	Close() error
}

// Registry is the read-only set of providers built at startup.
type Registry struct {
	order []string
	byID  map[string]Provider
}

// NewRegistry builds a registry from providers, preserving their order.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{byID: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("provider must not be nil")
		}
		id := p.ID()
		if !providerIDPattern.MatchString(id) {
			return nil, fmt.Errorf("provider id %q must be lowercase alphanumerics and hyphens", id)
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
		}
		r.byID[id] = p
		r.order = append(r.order, id)
	}
	return r, nil
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Descriptors returns every provider descriptor in registration order.
func (r *Registry) Descriptors() []models.ProviderDescriptor {
	out := make([]models.ProviderDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Describe())
	}
	return out
}

// MapError classifies err with the table of the provider that produced it.
// Unknown providers yield a Generic error carrying err as its cause.
func (r *Registry) MapError(providerID string, err error) *llmerr.ServiceError {
	if err == nil {
		return nil
	}
	if se, ok := llmerr.As(err); ok {
		return se
	}
	p, ok := r.byID[providerID]
	if !ok {
		return llmerr.New(llmerr.KindGeneric, providerID, err)
	}
	return p.MapError(err)
}

// Timeouts bounds how long a client waits on its vendor.
type Timeouts struct {
	Request time.Duration
	Stream  time.Duration
}

// WithDefaults fills unset timeouts with the package defaults.
func (t Timeouts) WithDefaults() Timeouts {
	if t.Request <= 0 {
		t.Request = DefaultRequestTimeout
	}
	if t.Stream <= 0 {
		t.Stream = DefaultStreamTimeout
	}
	return t
}

// MissingCredential is the error NewClient returns when envKey is blank.
func MissingCredential(providerID, envKey string) *llmerr.ServiceError {
	return llmerr.New(llmerr.KindAuthentication, providerID, fmt.Errorf("%s is not set", envKey))
}
