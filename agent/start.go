package agent

import (
	"github.com/google/uuid"

	"github.com/hupe1980/mailmesh/mail"
)

// Start is the trigger participant that opens an agent cycle.
type Start struct {
	id      string
	mailbox *mail.Mailbox
}

// NewStart creates a trigger with a fresh id.
func NewStart() *Start {
	return &Start{id: uuid.NewString(), mailbox: mail.NewMailbox()}
}

// ID implements mail.Participant.
func (s *Start) ID() string { return s.id }

// Mailbox implements mail.Participant.
func (s *Start) Mailbox() *mail.Mailbox { return s.mailbox }

// Trigger enqueues one start mail for executableID carrying the context and
// the structure id. Every call produces a new mail.
func (s *Start) Trigger(context any, structureID, executableID string) mail.Mail {
	m := mail.NewMail(s.id, executableID, mail.CategoryStart, map[string]any{
		mail.KeyContext:     context,
		mail.KeyStructureID: structureID,
	})
	s.mailbox.Send(m)
	return m
}
