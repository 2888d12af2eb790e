package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/mail"
)

// Handler processes one inbound mail. Returning done=true sets the stop flag
// and ends Execute.
type Handler func(ctx context.Context, e *Executor, m mail.Mail) (done bool, err error)

// Executor is a scripted structure / executable. A nil handler completes
// immediately on every Execute.
type Executor struct {
	id      string
	mailbox *mail.Mailbox
	stop    *core.StopFlag
	handler Handler

	mu       sync.Mutex
	received []mail.Mail
	runs     int
}

// NewExecutor creates a scripted executor with a fresh id.
func NewExecutor(h Handler) *Executor {
	return &Executor{
		id:      uuid.NewString(),
		mailbox: mail.NewMailbox(),
		stop:    core.NewStopFlag(),
		handler: h,
	}
}

// NewExecutorWithID is NewExecutor with a fixed id.
func NewExecutorWithID(id string, h Handler) *Executor {
	e := NewExecutor(h)
	e.id = id
	return e
}

func (e *Executor) ID() string               { return e.id }
func (e *Executor) Mailbox() *mail.Mailbox   { return e.mailbox }
func (e *Executor) StopFlag() *core.StopFlag { return e.stop }

// Send enqueues mail from this executor.
func (e *Executor) Send(recipientID string, category mail.Category, pkg map[string]any) {
	e.mailbox.Send(mail.NewMail(e.id, recipientID, category, pkg))
}

// Received returns every mail handled so far, across runs.
func (e *Executor) Received() []mail.Mail {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]mail.Mail(nil), e.received...)
}

// Runs returns how many times Execute was called.
func (e *Executor) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// Execute feeds inbound mail to the handler until it reports done.
func (e *Executor) Execute(ctx context.Context) error {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()

	if e.handler == nil {
		e.stop.Set()
		return nil
	}

	for {
		for {
			m, ok := e.mailbox.ReceiveAny()
			if !ok {
				break
			}

			e.mu.Lock()
			e.received = append(e.received, m)
			e.mu.Unlock()

			done, err := e.handler(ctx, e, m)
			if err != nil {
				return err
			}
			if done {
				e.stop.Set()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.mailbox.Arrived():
		}
	}
}

// FinishOn returns a handler that completes on the first mail of category.
func FinishOn(category mail.Category) Handler {
	return func(_ context.Context, _ *Executor, m mail.Mail) (bool, error) {
		return m.Category == category, nil
	}
}

// Never returns a handler that consumes mail but never completes.
func Never() Handler {
	return func(context.Context, *Executor, mail.Mail) (bool, error) { return false, nil }
}
