// Package core provides the foundational domain types and contracts shared by
// the mailmesh packages. It defines:
//
//   - Content / Part (role-based conversation segments exchanged with models)
//   - StopFlag (a resettable, broadcast completion signal)
//   - Executor (the contract for long-running Structure / Executable units)
//   - ModelLimiter (per-branch model call budget)
//   - ToolContext (scoped surface handed to tool implementations)
//
// The package deliberately has no dependency on routing, dispatch or model
// backends so that every other package can import it without cycles.
package core
