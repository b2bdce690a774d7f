package session

import "time"

// Agent is the character a session talks to.
type Agent struct {
	ID          string   `json:"id" yaml:"-"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Motivation  string   `json:"motivation" yaml:"motivation"`
	Knowledge   []string `json:"knowledge,omitempty" yaml:"knowledge"`
}

// Role tags a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadRequest is the payload of a session load.
type LoadRequest struct {
	Agent    *Agent `json:"agent"`
	UserName string `json:"userName"`
}

// LoadResponse returns the agent with its generated id.
type LoadResponse struct {
	Agent Agent `json:"agent"`
}
