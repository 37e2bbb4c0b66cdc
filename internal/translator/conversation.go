package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatrelay/internal/router"
	"chatrelay/internal/storage"
)

const (
	maxTitleLength           = 200
	maxStoredMessages        = 1000
	derivedTitleLength       = 50
	defaultConversationTitle = "New conversation"
)

// ConversationRequest is the body for creating or replacing a conversation.
type ConversationRequest struct {
	Title    string
	Messages []storage.Message
}

// UnmarshalJSON decodes and validates the request.
func (r *ConversationRequest) UnmarshalJSON(data []byte) error {
	type message struct {
		ID        string     `json:"id"`
		Sender    string     `json:"sender"`
		Text      string     `json:"text"`
		Timestamp *time.Time `json:"timestamp"`
	}
	type alias struct {
		Title    string    `json:"title"`
		Messages []message `json:"messages"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalid("body", err)
	}

	r.Title = strings.TrimSpace(raw.Title)
	r.Messages = make([]storage.Message, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		msg := storage.Message{ID: m.ID, Sender: strings.TrimSpace(m.Sender), Text: m.Text}
		if m.Timestamp != nil {
			msg.Timestamp = m.Timestamp.UTC()
		}
		r.Messages = append(r.Messages, msg)
	}

	return r.validate()
}

func (r *ConversationRequest) validate() error {
	if utf8.RuneCountInString(r.Title) > maxTitleLength {
		return invalid("title", fmt.Errorf("must be at most %d characters", maxTitleLength))
	}
	if len(r.Messages) > maxStoredMessages {
		return invalid("messages", fmt.Errorf("must contain at most %d messages", maxStoredMessages))
	}
	for i, m := range r.Messages {
		if m.Sender != router.SenderUser && m.Sender != router.SenderSystem {
			return invalid(fmt.Sprintf("messages[%d].sender", i), errInvalidSender)
		}
		if err := validateText(m.Text); err != nil {
			return invalid(fmt.Sprintf("messages[%d].text", i), err)
		}
	}
	return nil
}

// ToConversation builds the stored form under id. Without a title, the
// first user message is used.
func (r ConversationRequest) ToConversation(id string) storage.Conversation {
	title := r.Title
	if title == "" {
		title = deriveTitle(r.Messages)
	}
	return storage.Conversation{
		ID:       id,
		Title:    title,
		Messages: append([]storage.Message(nil), r.Messages...),
	}
}

func deriveTitle(messages []storage.Message) string {
	for _, m := range messages {
		if m.Sender != router.SenderUser {
			continue
		}
		text := strings.Join(strings.Fields(m.Text), " ")
		if utf8.RuneCountInString(text) <= derivedTitleLength {
			return text
		}
		runes := []rune(text)
		return strings.TrimSpace(string(runes[:derivedTitleLength])) + "..."
	}
	return defaultConversationTitle
}
