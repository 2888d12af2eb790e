package core

import "context"

// Executor is the contract implemented by the long-running units an agent
// drives to joint completion (its Structure and its Executable).
//
// Implementations must:
//   - Return a stable, unique identity from ID (used as the routing address)
//   - Consume inbound mail and emit outbound mail through the mailbox they
//     register with the router (see mail.Participant)
//   - Set their StopFlag once their work is exhausted, then return from Execute
//   - Respect ctx cancellation and return promptly with ctx.Err()
type Executor interface {
	ID() string
	Execute(ctx context.Context) error
	StopFlag() *StopFlag
}
