package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
)

type chatPayload struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(model string, messages []models.Message, stream bool) chatPayload {
	out := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openAIMessage{Role: msg.Role, Content: msg.Content})
	}

	payload := chatPayload{
		Model:    model,
		Messages: out,
		Stream:   stream,
	}
	if stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return payload
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usageBlock) toUsage() *models.Usage {
	if u == nil {
		return nil
	}
	return &models.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (r chatResponse) toCompletion() (*models.Completion, error) {
	if len(r.Choices) == 0 {
		return nil, errors.New("openai response did not include choices")
	}

	choice := r.Choices[0]
	completion := &models.Completion{
		ID:           r.ID,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if usage := r.Usage.toUsage(); usage != nil {
		completion.Usage = *usage
	}
	return completion, nil
}

type streamChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageBlock     `json:"usage,omitempty"`
	Error *apiErrorObject `json:"error,omitempty"`
}

// APIError is a failure reported by an OpenAI-compatible endpoint, either as
// an HTTP error status or as an error object inside a stream.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("openai error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (o apiErrorObject) toAPIError(status int) *APIError {
	return &APIError{
		StatusCode: status,
		Type:       o.Type,
		Code:       stringify(o.Code),
		Message:    o.Message,
	}
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.toAPIError(resp.StatusCode)
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// classify is the OpenAI error table. Vendor codes are checked before the
// HTTP status; in-stream errors carry no status and fall back to their type.
func classify(err error) (llmerr.Kind, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}

	switch apiErr.Code {
	case "invalid_api_key":
		return llmerr.KindAuthentication, true
	case "rate_limit_exceeded", "insufficient_quota":
		return llmerr.KindRateLimit, true
	case "model_not_found", "context_length_exceeded":
		return llmerr.KindBadRequest, true
	}

	if apiErr.StatusCode != 0 {
		if kind, ok := llmerr.FromStatus(apiErr.StatusCode); ok {
			return kind, true
		}
		return llmerr.KindGeneric, true
	}

	switch apiErr.Type {
	case "invalid_request_error":
		return llmerr.KindBadRequest, true
	case "authentication_error", "permission_error":
		return llmerr.KindAuthentication, true
	case "rate_limit_error", "insufficient_quota":
		return llmerr.KindRateLimit, true
	}
	return llmerr.KindGeneric, true
}
