// Package branch implements the isolated conversation context used by the
// parallel dispatcher.
//
// A Branch owns its own message history and a cloned configuration (model,
// system instructions, optional tool set, optional transcript store). It
// exposes a single request/response operation, Chat, which renders the
// instruction against its context, queries the model, optionally executes
// model requested tool calls, and returns the output (raw text or a map of
// requested fields extracted from JSON output).
//
// Finished branches are collected in a Registry keyed by branch id. Each id is
// written at most once.
package branch
