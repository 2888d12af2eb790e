package mail

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Category tags the intent of a mail. The set is open; the constants below
// are the categories used by mailmesh itself.
type Category string

const (
	// CategoryStart is the single mail that kicks off an agent cycle.
	CategoryStart Category = "start"
	// CategoryMessage carries conversational content between participants.
	CategoryMessage Category = "message"
	// CategoryNode carries a workflow node handed from a structure to an executable.
	CategoryNode Category = "node"
	// CategoryCondition carries a condition check request or verdict.
	CategoryCondition Category = "condition"
	// CategoryEnd signals that the sender has no more work to hand out.
	CategoryEnd Category = "end"
)

// Package keys used by the start mail.
const (
	KeyContext     = "context"
	KeyStructureID = "structure_id"
)

// Mail is an addressed envelope routed between participants. Treat values as
// immutable once created; NewMail copies the payload map so later mutation of
// the caller's map cannot leak into the envelope.
type Mail struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id"`
	Category    Category       `json:"category"`
	Package     map[string]any `json:"package,omitempty"`
	Created     time.Time      `json:"created"`
}

// NewMail creates a mail with a fresh unique id.
func NewMail(senderID, recipientID string, category Category, pkg map[string]any) Mail {
	return Mail{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Category:    category,
		Package:     maps.Clone(pkg),
		Created:     time.Now().UTC(),
	}
}

// Value returns a payload entry.
func (m Mail) Value(key string) (any, bool) {
	v, ok := m.Package[key]
	return v, ok
}
