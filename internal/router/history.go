package router

import "chatrelay/internal/models"

// History senders accepted from callers.
const (
	SenderUser   = "user"
	SenderSystem = "system"
)

// ChatTurn is one prior message as the frontend records it.
type ChatTurn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// BuildMessages converts history into provider messages and appends current
// as the final user message. Turns sent by "system" are earlier replies from
// the model and become assistant messages.
func BuildMessages(history []ChatTurn, current string) []models.Message {
	messages := make([]models.Message, 0, len(history)+1)
	for _, turn := range history {
		role := models.RoleUser
		if turn.Sender == SenderSystem {
			role = models.RoleAssistant
		}
		messages = append(messages, models.Message{Role: role, Content: turn.Text})
	}
	return append(messages, models.Message{Role: models.RoleUser, Content: current})
}
