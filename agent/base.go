package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/mail"
)

// Component is a long-running unit an Agent drives: an executor that can
// also receive mail.
type Component interface {
	core.Executor
	Mailbox() *mail.Mailbox
}

// BaseExecutor bundles identity, mailbox and stop flag. Embed it in concrete
// Structure / Executable implementations and supply an Execute method to
// satisfy Component. Copies share the same mailbox and flag.
type BaseExecutor struct {
	id      string
	name    string
	mailbox *mail.Mailbox
	stop    *core.StopFlag
}

// NewBaseExecutor constructs a BaseExecutor with a fresh unique id.
func NewBaseExecutor(name string) BaseExecutor {
	return BaseExecutor{
		id:      uuid.NewString(),
		name:    name,
		mailbox: mail.NewMailbox(),
		stop:    core.NewStopFlag(),
	}
}

// ID returns the routing address.
func (b *BaseExecutor) ID() string { return b.id }

// Name returns the human-readable name.
func (b *BaseExecutor) Name() string { return b.name }

// Mailbox returns the participant's mailbox.
func (b *BaseExecutor) Mailbox() *mail.Mailbox { return b.mailbox }

// StopFlag returns the completion flag.
func (b *BaseExecutor) StopFlag() *core.StopFlag { return b.stop }

// Send enqueues a new mail from this executor and returns it.
func (b *BaseExecutor) Send(recipientID string, category mail.Category, pkg map[string]any) mail.Mail {
	m := mail.NewMail(b.id, recipientID, category, pkg)
	b.mailbox.Send(m)
	return m
}

// Next blocks until inbound mail is available and pops the oldest one.
func (b *BaseExecutor) Next(ctx context.Context) (mail.Mail, error) {
	for {
		if m, ok := b.mailbox.ReceiveAny(); ok {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return mail.Mail{}, ctx.Err()
		case <-b.mailbox.Arrived():
		}
	}
}
