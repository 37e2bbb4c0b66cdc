package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/router"
)

func TestChatRequestValidation(t *testing.T) {
	longHistory := make([]map[string]string, MaxHistoryTurns+1)
	for i := range longHistory {
		longHistory[i] = map[string]string{"sender": "user", "text": "x"}
	}
	longHistoryJSON, _ := json.Marshal(map[string]any{"message": "hi", "history": longHistory})

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "valid minimal", body: `{"message":"Hello"}`},
		{name: "valid full", body: `{"message":"Hello","model":" gpt-4 ","history":[{"sender":"user","text":"a"},{"sender":"system","text":"b"}]}`},
		{name: "ollama style model", body: `{"message":"Hello","model":"llama3.2:latest"}`},
		{name: "missing message", body: `{}`, wantField: "message"},
		{name: "whitespace message", body: `{"message":"  \n\t"}`, wantField: "message"},
		{name: "message too long", body: `{"message":"` + strings.Repeat("a", MaxMessageLength+1) + `"}`, wantField: "message"},
		{name: "bad sender", body: `{"message":"hi","history":[{"sender":"assistant","text":"a"}]}`, wantField: "history[0].sender"},
		{name: "blank history text", body: `{"message":"hi","history":[{"sender":"user","text":"ok"},{"sender":"user","text":" "}]}`, wantField: "history[1].text"},
		{name: "history too long", body: string(longHistoryJSON), wantField: "history"},
		{name: "bad model", body: `{"message":"hi","model":"gpt 4; drop"}`, wantField: "model"},
		{name: "wrong type", body: `{"message":42}`, wantField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Unmarshal() error = %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Unmarshal() error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestChatRequestKeepsMessageVerbatim(t *testing.T) {
	var req ChatRequest
	if err := json.Unmarshal([]byte(`{"message":"  🚀 Hello 世界  ","model":" gpt-4 "}`), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	r := req.ToRouter()
	if r.Message != "  🚀 Hello 世界  " {
		t.Errorf("Message = %q, want verbatim", r.Message)
	}
	if r.Model != "gpt-4" {
		t.Errorf("Model = %q, want trimmed", r.Model)
	}
}

func TestTimestampFormat(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 123456789, time.FixedZone("X", 3600))
	if got := Timestamp(ts); got != "2024-03-05T06:08:09.123Z" {
		t.Errorf("Timestamp() = %q", got)
	}
	if got := Timestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); got != "2024-01-01T00:00:00.000Z" {
		t.Errorf("Timestamp() = %q, want three fractional digits", got)
	}
}

func TestFromReply(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := json.Marshal(FromReply(&router.Reply{Text: "Hi", Model: "gpt-4"}, now))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"success","message":"Hi","model":"gpt-4","timestamp":"2024-01-01T00:00:00.000Z"}`
	if string(got) != want {
		t.Errorf("FromReply() = %s, want %s", got, want)
	}
}

func TestNewErrorOmitsEmptyFields(t *testing.T) {
	got, err := json.Marshal(NewError("nope", "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"error","error":"nope","timestamp":"2024-01-01T00:00:00.000Z"}`
	if string(got) != want {
		t.Errorf("NewError() = %s, want %s", got, want)
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvent(&buf, map[string]string{"type": "chunk", "content": "世界"}); err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	want := "data: {\"content\":\"世界\",\"type\":\"chunk\"}\n\n"
	if buf.String() != want {
		t.Errorf("WriteEvent() = %q, want %q", buf.String(), want)
	}
}

func TestConversationRequest(t *testing.T) {
	var req ConversationRequest
	body := `{"messages":[{"sender":"system","text":"welcome"},{"sender":"user","text":"How do   I configure\nthe relay for several providers at once please?"}]}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	conv := req.ToConversation("abc")
	if conv.ID != "abc" || len(conv.Messages) != 2 {
		t.Fatalf("ToConversation() = %+v", conv)
	}
	if conv.Title != "How do I configure the relay for several providers..." {
		t.Errorf("Title = %q", conv.Title)
	}

	var empty ConversationRequest
	if err := json.Unmarshal([]byte(`{}`), &empty); err != nil {
		t.Fatalf("Unmarshal({}) error = %v", err)
	}
	if got := empty.ToConversation("x").Title; got != defaultConversationTitle {
		t.Errorf("Title = %q, want default", got)
	}

	var bad ConversationRequest
	err := json.Unmarshal([]byte(`{"messages":[{"sender":"bot","text":"x"}]}`), &bad)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "messages[0].sender" {
		t.Errorf("Unmarshal() error = %v, want sender validation error", err)
	}
}
