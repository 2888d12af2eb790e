// Package agent contains the two coordination engines of mailmesh:
//
//  1. Agent, an orchestrator that drives a Structure and an Executable to
//     joint completion through asynchronous mail exchange. A Start trigger
//     emits exactly one start mail per cycle, a mail.Router delivers mail
//     between the participants, and a supervisor stops the router once both
//     components have set their stop flags. Agents are reusable: every
//     cycle ends with the flags reset and the state back at READY.
//  2. ParallelUnit, a fan-out dispatcher that expands one-or-many
//     instructions against one-or-many contexts (Expand) into branch
//     descriptors, runs one isolated branch.Branch per descriptor
//     concurrently, and aggregates the results in planned slot order. The
//     whole call is retried with exponential backoff.
//
// Structure and Executable implementations embed BaseExecutor for identity,
// mailbox and stop flag plumbing and supply their own Execute method.
//
// Errors:
//   - *mail.RegistrationError from New on duplicate participant ids
//   - ErrLiveness when a cycle misses its deadline
//   - *ExpansionError for malformed instruction / context shapes
//   - *BranchError for a failed branch (slot marker or fail-fast escalation)
//   - *RetryExhaustedError once the dispatch retry budget is spent
package agent
