package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"chatrelay/internal/catalog"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/provider"
	"chatrelay/internal/provider/providertest"
)

const testModels = `[
	{"id":"default-model","name":"Default","description":"","provider":"fake","default":true},
	{"id":"gpt-4","name":"GPT-4","description":"","provider":"fake","default":false}
]`

func newTestRouter(t *testing.T, fake *providertest.Provider) *Router {
	t.Helper()

	registry, err := provider.NewRegistry(fake)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	vars := map[string]string{"FAKE_API_KEY": "k", "MODELS": testModels}
	cat, err := catalog.Load(registry.Descriptors(), func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	return New(cat, registry, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func collect(seq func(func(StreamEvent) bool)) []StreamEvent {
	var events []StreamEvent
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func checkFraming(t *testing.T, events []StreamEvent) {
	t.Helper()
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least start and terminal", len(events))
	}
	if events[0].Type != EventStart {
		t.Errorf("first event = %s, want start", events[0].Type)
	}
	last := events[len(events)-1]
	if !last.Terminal() {
		t.Errorf("last event = %s, want terminal", last.Type)
	}
	for i, ev := range events {
		if ev.MessageID != events[0].MessageID {
			t.Errorf("event %d messageId = %q, want %q", i, ev.MessageID, events[0].MessageID)
		}
		if i > 0 && i < len(events)-1 && ev.Type != EventChunk {
			t.Errorf("event %d = %s, want chunk", i, ev.Type)
		}
	}
}

func TestChatUsesRequestedModel(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{Reply: "Hi there!"})
	r := newTestRouter(t, fake)

	reply, err := r.Chat(context.Background(), Request{
		Message: "Hello",
		Model:   "gpt-4",
		History: []ChatTurn{{Sender: "user", Text: "earlier"}, {Sender: "system", Text: "answer"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Text != "Hi there!" || reply.Model != "gpt-4" {
		t.Errorf("Chat() = %+v", reply)
	}

	reqs := fake.Requests()
	if len(reqs) != 1 || reqs[0].Model != "gpt-4" {
		t.Fatalf("requests = %+v", reqs)
	}
	want := []models.Message{
		{Role: models.RoleUser, Content: "earlier"},
		{Role: models.RoleAssistant, Content: "answer"},
		{Role: models.RoleUser, Content: "Hello"},
	}
	if fmt.Sprint(reqs[0].Messages) != fmt.Sprint(want) {
		t.Errorf("messages = %+v, want %+v", reqs[0].Messages, want)
	}
}

func TestChatFallsBackToDefault(t *testing.T) {
	r := newTestRouter(t, providertest.New("fake", providertest.Script{Reply: "ok"}))

	reply, err := r.Chat(context.Background(), Request{Message: "Hello"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Model != "default-model" {
		t.Errorf("Model = %q, want default-model", reply.Model)
	}
}

func TestChatUnknownModel(t *testing.T) {
	r := newTestRouter(t, providertest.New("fake", providertest.Script{}))

	_, err := r.Chat(context.Background(), Request{Message: "Hello", Model: "nope"})
	se, ok := llmerr.As(err)
	if !ok || se.Kind != llmerr.KindBadRequest {
		t.Fatalf("Chat() error = %v, want bad_request", err)
	}
	if !errors.Is(err, catalog.ErrUnknownModel) {
		t.Error("error should wrap catalog.ErrUnknownModel")
	}
}

func TestChatMissingCredentialIsSafe(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{})
	fake.NewClientErr = provider.MissingCredential("fake", "FAKE_API_KEY")
	r := newTestRouter(t, fake)

	_, err := r.Chat(context.Background(), Request{Message: "Hello"})
	se, ok := llmerr.As(err)
	if !ok || se.Kind != llmerr.KindAuthentication || se.Status != 503 {
		t.Fatalf("Chat() error = %v, want 503 authentication", err)
	}
	if strings.Contains(se.Message, "sk-") || strings.Contains(se.Message, "FAKE_API_KEY") {
		t.Errorf("message leaks detail: %q", se.Message)
	}
	if len(fake.Requests()) != 0 {
		t.Error("no call should reach the vendor")
	}
}

func TestChatMapsVendorError(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{
		Err: &providertest.Error{Kind: llmerr.KindTimeout, Msg: "slow"},
	})
	r := newTestRouter(t, fake)

	_, err := r.Chat(context.Background(), Request{Message: "Hello"})
	se, ok := llmerr.As(err)
	if !ok || se.Kind != llmerr.KindTimeout || se.Status != 504 {
		t.Fatalf("Chat() error = %v, want 504 timeout", err)
	}
}

func TestStreamPreservesFragments(t *testing.T) {
	fragments := []string{"🚀", " Hello ", "世界", " @#$%"}
	fake := providertest.New("fake", providertest.Script{
		Fragments: fragments,
		Usage:     &models.Usage{PromptTokens: 3, CompletionTokens: 4},
	})
	r := newTestRouter(t, fake)

	events := collect(r.Stream(context.Background(), Request{Message: "Hello", Model: "gpt-4"}))
	checkFraming(t, events)

	var b strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		b.WriteString(ev.Content)
	}
	if b.String() != "🚀 Hello 世界 @#$%" {
		t.Errorf("concatenated = %q", b.String())
	}
	if got := len(events) - 2; got != len(fragments) {
		t.Errorf("got %d chunks, want %d", got, len(fragments))
	}

	done := events[len(events)-1]
	if done.Type != EventDone || done.Model != "gpt-4" || done.TotalTokens != 7 {
		t.Errorf("done = %+v", done)
	}
	if fake.OpenStreams() != 0 {
		t.Error("vendor stream left open")
	}
}

func TestStreamRateLimitAfterTwoFragments(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{
		Fragments: []string{"one", "two", "three"},
		Err:       &providertest.Error{Kind: llmerr.KindRateLimit, Msg: "429"},
		ErrAfter:  2,
	})
	r := newTestRouter(t, fake)

	events := collect(r.Stream(context.Background(), Request{Message: "Hello"}))
	checkFraming(t, events)

	if len(events) != 4 {
		t.Fatalf("got %d events, want start + 2 chunks + error: %+v", len(events), events)
	}
	if events[1].Content != "one" || events[2].Content != "two" {
		t.Errorf("chunks = %q, %q", events[1].Content, events[2].Content)
	}
	last := events[3]
	if last.Type != EventError || last.Code != llmerr.KindRateLimit {
		t.Errorf("terminal = %+v, want rate_limit error", last)
	}
	if last.Message != llmerr.KindRateLimit.Message() {
		t.Errorf("message = %q, want table message", last.Message)
	}
	if fake.OpenStreams() != 0 {
		t.Error("vendor stream left open")
	}
}

func TestStreamStartPrecedesSetupFailure(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{})
	fake.NewClientErr = provider.MissingCredential("fake", "FAKE_API_KEY")
	r := newTestRouter(t, fake)

	events := collect(r.Stream(context.Background(), Request{Message: "Hello"}))
	if len(events) != 2 || events[0].Type != EventStart || events[1].Type != EventError {
		t.Fatalf("events = %+v, want start then error", events)
	}
	if events[1].Code != llmerr.KindAuthentication {
		t.Errorf("code = %s, want authentication", events[1].Code)
	}
}

func TestStreamOpenTimeout(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{OpenErr: context.DeadlineExceeded})
	r := newTestRouter(t, fake)

	events := collect(r.Stream(context.Background(), Request{Message: "Hello"}))
	checkFraming(t, events)
	if last := events[len(events)-1]; last.Code != llmerr.KindTimeout {
		t.Errorf("terminal = %+v, want timeout", last)
	}
}

func TestStreamUniqueMessageIDs(t *testing.T) {
	r := newTestRouter(t, providertest.New("fake", providertest.Script{Fragments: []string{"a"}}))
	req := Request{Message: "same"}

	first := collect(r.Stream(context.Background(), req))
	second := collect(r.Stream(context.Background(), req))
	if first[0].MessageID == "" || first[0].MessageID == second[0].MessageID {
		t.Errorf("message ids %q and %q should differ", first[0].MessageID, second[0].MessageID)
	}
}

func TestStreamConcurrent(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{Fragments: []string{"a", "b", "c"}})
	r := newTestRouter(t, fake)

	const n = 10
	results := make([][]StreamEvent, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = collect(r.Stream(context.Background(), Request{Message: fmt.Sprintf("m%d", i)}))
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i, events := range results {
		checkFraming(t, events)
		if len(events) != 5 {
			t.Errorf("stream %d has %d events, want 5", i, len(events))
		}
		id := events[0].MessageID
		if seen[id] {
			t.Errorf("stream %d reused message id %q", i, id)
		}
		seen[id] = true
	}
	if fake.OpenStreams() != 0 {
		t.Errorf("%d vendor streams left open", fake.OpenStreams())
	}
}

func TestStreamCancellationStopsSilently(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{Fragments: []string{"a"}, Block: true})
	r := newTestRouter(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []StreamEvent
	for ev := range r.Stream(ctx, Request{Message: "Hello"}) {
		events = append(events, ev)
		if ev.Type == EventChunk {
			cancel()
		}
	}

	if len(events) != 2 {
		t.Fatalf("events = %+v, want start and one chunk only", events)
	}
	if fake.OpenStreams() != 0 {
		t.Error("vendor stream should be closed after cancellation")
	}
}

func TestStreamConsumerBreakClosesVendor(t *testing.T) {
	fake := providertest.New("fake", providertest.Script{Fragments: []string{"a", "b", "c"}})
	r := newTestRouter(t, fake)

	for ev := range r.Stream(context.Background(), Request{Message: "Hello"}) {
		if ev.Type == EventChunk {
			break
		}
	}
	if fake.OpenStreams() != 0 {
		t.Error("vendor stream should be closed when the consumer stops")
	}
}

func TestStreamEventJSON(t *testing.T) {
	tests := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{"start", startEvent("m1"), `{"type":"start","messageId":"m1"}`},
		{"empty chunk keeps content", chunkEvent("m1", ""), `{"type":"chunk","messageId":"m1","content":""}`},
		{"done without usage", doneEvent("m1", "gpt-4", 0), `{"type":"done","messageId":"m1","model":"gpt-4"}`},
		{"done with usage", doneEvent("m1", "gpt-4", 12), `{"type":"done","messageId":"m1","model":"gpt-4","totalTokens":12}`},
		{"error", errorEvent("m1", llmerr.New(llmerr.KindTimeout, "x", errors.New("sk-secret"))),
			`{"type":"error","messageId":"m1","code":"timeout","message":"` + llmerr.KindTimeout.Message() + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildMessagesEmptyHistory(t *testing.T) {
	got := BuildMessages(nil, "hi")
	if len(got) != 1 || got[0].Role != models.RoleUser || got[0].Content != "hi" {
		t.Errorf("BuildMessages(nil) = %+v", got)
	}
}
