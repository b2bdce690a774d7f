// Package transcript persists completed conversation turns so a session's
// exchange can be read back after the fact.
package transcript

import (
	"context"
	"time"
)

// Record is one user or assistant turn of an interaction.
type Record struct {
	ID            string    `json:"id"`
	SessionKey    string    `json:"sessionKey"`
	InteractionID string    `json:"interactionId"`
	AgentID       string    `json:"agentId"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

// DefaultLimit caps List when the caller passes a non-positive limit.
const DefaultLimit = 100

// Store persists and retrieves transcript records.
type Store interface {
	Save(ctx context.Context, records ...Record) error
	// List returns up to limit of the most recent records for a session in
	// chronological order.
	List(ctx context.Context, sessionKey string, limit int) ([]Record, error)
	Close() error
}
