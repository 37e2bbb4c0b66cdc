package router

import (
	"encoding/json"

	"chatrelay/internal/llmerr"
)

// EventType discriminates stream events on the wire.
type EventType string

const (
	EventStart EventType = "start"
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one unit of a streamed reply. A stream is one start event,
// any number of chunks, then exactly one done or error event, all sharing
// MessageID.
type StreamEvent struct {
	Type      EventType
	MessageID string
	Content   string
	Model     string
	// TotalTokens is zero when the vendor did not report usage.
	TotalTokens int
	Code        llmerr.Kind
	Message     string
}

// Terminal reports whether e ends its stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventChunk:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			MessageID string    `json:"messageId"`
			Content   string    `json:"content"`
		}{e.Type, e.MessageID, e.Content})
	case EventDone:
		return json.Marshal(struct {
			Type        EventType `json:"type"`
			MessageID   string    `json:"messageId"`
			Model       string    `json:"model"`
			TotalTokens int       `json:"totalTokens,omitempty"`
		}{e.Type, e.MessageID, e.Model, e.TotalTokens})
	case EventError:
		return json.Marshal(struct {
			Type      EventType   `json:"type"`
			MessageID string      `json:"messageId"`
			Code      llmerr.Kind `json:"code"`
			Message   string      `json:"message"`
		}{e.Type, e.MessageID, e.Code, e.Message})
	default:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			MessageID string    `json:"messageId"`
		}{e.Type, e.MessageID})
	}
}

func startEvent(id string) StreamEvent {
	return StreamEvent{Type: EventStart, MessageID: id}
}

func chunkEvent(id, content string) StreamEvent {
	return StreamEvent{Type: EventChunk, MessageID: id, Content: content}
}

func doneEvent(id, model string, totalTokens int) StreamEvent {
	return StreamEvent{Type: EventDone, MessageID: id, Model: model, TotalTokens: totalTokens}
}

func errorEvent(id string, se *llmerr.ServiceError) StreamEvent {
	return StreamEvent{Type: EventError, MessageID: id, Code: se.Kind, Message: se.Message}
}
