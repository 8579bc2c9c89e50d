package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Source attributes an answer to a document.
type Source struct {
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Year       string   `json:"year"`
	DocumentID string   `json:"id"`
}

type ChatTurn struct {
	UserID    string    `json:"user_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`
}

// ChatRequest is one user message. A nil History means the stored session
// should be used instead.
type ChatRequest struct {
	UserID  string
	Message string
	History []ChatTurn
}

type ChatReply struct {
	Message string   `json:"message"`
	Sources []Source `json:"sources"`
}

const ApologyMessage = "I apologize, but I encountered an error while processing your request."
