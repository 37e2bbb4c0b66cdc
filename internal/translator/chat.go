// Package translator converts between the frontend's JSON payloads and the
// relay's internal request and reply types.
package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"chatrelay/internal/router"
)

// Request limits.
const (
	MaxMessageLength = 10000
	MaxHistoryTurns  = 200
)

var (
	errEmptyMessage   = errors.New("must not be empty")
	errTooLong        = fmt.Errorf("must be at most %d characters", MaxMessageLength)
	errHistoryTooLong = fmt.Errorf("must contain at most %d turns", MaxHistoryTurns)
	errInvalidSender  = errors.New(`must be "user" or "system"`)
	errInvalidModel   = errors.New("must be 1-100 characters of letters, digits and . _ : / -")
)

var modelPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]{1,100}$`)

// ValidationError reports a well-formed body whose fields break a rule.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message string
	History []router.ChatTurn
	Model   string
}

// UnmarshalJSON decodes and validates the request. The message text is kept
// verbatim; only the model id is trimmed.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type turn struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}
	type alias struct {
		Message string `json:"message"`
		History []turn `json:"history"`
		Model   string `json:"model"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalid("body", err)
	}

	r.Message = raw.Message
	r.Model = strings.TrimSpace(raw.Model)
	r.History = make([]router.ChatTurn, 0, len(raw.History))
	for _, t := range raw.History {
		r.History = append(r.History, router.ChatTurn{Sender: strings.TrimSpace(t.Sender), Text: t.Text})
	}

	return r.validate()
}

func (r *ChatRequest) validate() error {
	if err := validateText(r.Message); err != nil {
		return invalid("message", err)
	}
	if len(r.History) > MaxHistoryTurns {
		return invalid("history", errHistoryTooLong)
	}
	for i, t := range r.History {
		if t.Sender != router.SenderUser && t.Sender != router.SenderSystem {
			return invalid(fmt.Sprintf("history[%d].sender", i), errInvalidSender)
		}
		if err := validateText(t.Text); err != nil {
			return invalid(fmt.Sprintf("history[%d].text", i), err)
		}
	}
	if r.Model != "" && !modelPattern.MatchString(r.Model) {
		return invalid("model", errInvalidModel)
	}
	return nil
}

// ToRouter converts the request for the router.
func (r ChatRequest) ToRouter() router.Request {
	return router.Request{
		Message: r.Message,
		History: append([]router.ChatTurn(nil), r.History...),
		Model:   r.Model,
	}
}

func validateText(s string) error {
	if strings.TrimSpace(s) == "" {
		return errEmptyMessage
	}
	if utf8.RuneCountInString(s) > MaxMessageLength {
		return errTooLong
	}
	return nil
}
