package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
)

type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls++
	return nil, errors.New("network must not be used")
}

func envWith(values map[string]string) models.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func newTestProvider(t *testing.T, baseURL string, timeouts provider.Timeouts) *Provider {
	t.Helper()
	p, err := New(config.ProviderConfig{BaseURL: baseURL}, http.DefaultClient, timeouts, envWith(map[string]string{APIKeyEnv: "sk-test-123456789"}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestNewClientMissingCredential(t *testing.T) {
	for _, value := range []string{"", "   ", "\t\n"} {
		transport := &countingTransport{}
		env := map[string]string{}
		if value != "" {
			env[APIKeyEnv] = value
		}
		p, err := New(config.ProviderConfig{}, &http.Client{Transport: transport}, provider.Timeouts{}, envWith(env))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		_, err = p.NewClient("gpt-4")
		se, ok := llmerr.As(err)
		if !ok || se.Kind != llmerr.KindAuthentication {
			t.Fatalf("NewClient() error = %v, want authentication ServiceError", err)
		}
		if transport.calls != 0 {
			t.Errorf("NewClient() made %d network calls", transport.calls)
		}
		if strings.Contains(se.Message, "sk-") {
			t.Errorf("message leaks key prefix: %q", se.Message)
		}
	}
}

func TestCompleteSendsHistoryAndReturnsText(t *testing.T) {
	var got chatPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test-123456789" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	c, err := newTestProvider(t, srv.URL, provider.Timeouts{}).NewClient("gpt-4")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "earlier"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleUser, Content: "Hello"},
	}
	completion, err := c.Complete(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Content != "Hi there!" {
		t.Errorf("content = %q", completion.Content)
	}
	if completion.Usage.Total() != 5 {
		t.Errorf("usage total = %d, want 5", completion.Usage.Total())
	}
	if got.Model != "gpt-4" || len(got.Messages) != 3 || got.Messages[1].Role != "assistant" || got.Stream {
		t.Errorf("payload = %+v", got)
	}
}

func TestStreamPreservesFragmentOrder(t *testing.T) {
	fragments := []string{"🚀", " Hello ", "世界", " @#$%"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if !payload.Stream || payload.StreamOptions == nil || !payload.StreamOptions.IncludeUsage {
			t.Errorf("stream payload = %+v", payload)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"\"}}]}\n\n")
		for _, f := range fragments {
			b, _ := json.Marshal(f)
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%s}}]}\n\n", b)
		}
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":4,\"total_tokens\":8}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := newTestProvider(t, srv.URL, provider.Timeouts{}).NewClient("gpt-4")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	s, err := c.Stream(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	var (
		text  strings.Builder
		count int
		usage *models.Usage
	)
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if d.Usage != nil {
			usage = d.Usage
		}
		if d.Content != "" {
			if d.Content != fragments[count] {
				t.Errorf("fragment %d = %q, want %q", count, d.Content, fragments[count])
			}
			count++
			text.WriteString(d.Content)
		}
	}
	if text.String() != "🚀 Hello 世界 @#$%" {
		t.Errorf("reassembled = %q", text.String())
	}
	if usage == nil || usage.Total() != 8 {
		t.Errorf("usage = %+v, want total 8", usage)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   llmerr.Kind
	}{
		{"unauthorized", 401, `{"error":{"message":"Incorrect API key provided: sk-abc","type":"invalid_request_error","code":"invalid_api_key"}}`, llmerr.KindAuthentication},
		{"permission denied", 403, `{"error":{"message":"no access","type":"permission_error"}}`, llmerr.KindAuthentication},
		{"rate limited", 429, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, llmerr.KindRateLimit},
		{"bad request", 400, `{"error":{"message":"bad","type":"invalid_request_error"}}`, llmerr.KindBadRequest},
		{"model not found", 404, `{"error":{"message":"missing","type":"invalid_request_error","code":"model_not_found"}}`, llmerr.KindBadRequest},
		{"server error", 500, `{"error":{"message":"boom","type":"server_error"}}`, llmerr.KindGeneric},
		{"plain text body", 502, `bad gateway`, llmerr.KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := newTestProvider(t, srv.URL, provider.Timeouts{})
			c, err := p.NewClient("gpt-4")
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			_, err = c.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
			if err == nil {
				t.Fatal("Complete() expected error")
			}
			se := p.MapError(err)
			if se.Kind != tt.want {
				t.Errorf("MapError() kind = %s, want %s", se.Kind, tt.want)
			}
			if strings.Contains(se.Message, "sk-") || strings.Contains(se.Message, srv.URL) {
				t.Errorf("message leaks details: %q", se.Message)
			}
		})
	}
}

func TestStreamErrorObjectMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"one\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"too many\",\"type\":\"rate_limit_error\",\"code\":\"rate_limit_exceeded\"}}\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, provider.Timeouts{})
	c, _ := p.NewClient("gpt-4")
	s, err := c.Stream(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	if d, err := s.Recv(); err != nil || d.Content != "one" {
		t.Fatalf("first Recv() = %+v, %v", d, err)
	}
	_, err = s.Recv()
	if got := p.MapError(err).Kind; got != llmerr.KindRateLimit {
		t.Errorf("mid-stream error kind = %s, want rate_limit", got)
	}
}

func TestStreamTimeoutIsClassifiedAsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"slow\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newTestProvider(t, srv.URL, provider.Timeouts{Stream: 100 * time.Millisecond})
	c, _ := p.NewClient("gpt-4")
	s, err := c.Stream(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Recv(); err != nil {
		t.Fatalf("first Recv() error = %v", err)
	}
	_, err = s.Recv()
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := p.MapError(err).Kind; got != llmerr.KindTimeout {
		t.Errorf("kind = %s, want timeout (err=%v)", got, err)
	}
}

func TestConnectionRefusedIsConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestProvider(t, url, provider.Timeouts{})
	c, _ := p.NewClient("gpt-4")
	_, err := c.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if got := p.MapError(err).Kind; got != llmerr.KindConnection {
		t.Errorf("kind = %s, want connection (err=%v)", got, err)
	}
}
