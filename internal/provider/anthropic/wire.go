package anthropic

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

type messagePayload struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// buildMessagePayload lifts system-role messages into the top-level system
// prompt, which is where the Messages API expects them.
func buildMessagePayload(model string, maxTokens int, msgs []models.Message, stream bool) (messagePayload, error) {
	messages := make([]message, 0, len(msgs))
	var systemParts []string

	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, message{
				Role:    msg.Role,
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})
		default:
			return messagePayload{}, fmt.Errorf("anthropic provider does not support role %q", msg.Role)
		}
	}

	if len(messages) == 0 {
		return messagePayload{}, errors.New("anthropic request requires at least one message")
	}

	payload := messagePayload{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
	if len(systemParts) > 0 {
		payload.System = strings.Join(systemParts, "\n\n")
	}
	return payload, nil
}

type messageResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Usage      usageBlock     `json:"usage"`
	StopReason string         `json:"stop_reason"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (r messageResponse) toCompletion() (*models.Completion, error) {
	if len(r.Content) == 0 {
		return nil, errors.New("anthropic response missing content blocks")
	}

	var text strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &models.Completion{
		ID:           r.ID,
		Content:      text.String(),
		FinishReason: r.StopReason,
		Usage: models.Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
	}, nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage usageBlock `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Usage *usageBlock `json:"usage,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

// APIError is a failure reported by the Messages API, either as an HTTP
// error status or as an error event inside a stream.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("anthropic error")
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
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Type != "" {
		return &APIError{StatusCode: resp.StatusCode, Type: apiErr.Error.Type, Message: apiErr.Error.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// classify is the Anthropic error table. The error type is authoritative;
// the status code is only consulted when the type is missing or unknown.
func classify(err error) (llmerr.Kind, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}

	switch apiErr.Type {
	case "authentication_error", "permission_error":
		return llmerr.KindAuthentication, true
	case "rate_limit_error":
		return llmerr.KindRateLimit, true
	case "timeout_error":
		return llmerr.KindTimeout, true
	case "invalid_request_error", "not_found_error", "request_too_large":
		return llmerr.KindBadRequest, true
	case "api_error", "overloaded_error":
		return llmerr.KindGeneric, true
	}

	if kind, ok := llmerr.FromStatus(apiErr.StatusCode); ok {
		return kind, true
	}
	return llmerr.KindGeneric, true
}
