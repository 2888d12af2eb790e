// Package model defines the provider-agnostic request/response abstraction a
// branch uses to talk to a language model.
//
// Core goals:
//   - One blocking Generate call per branch turn (no streaming surface)
//   - Normalized tool / function call representation (ToolDefinition)
//   - Minimal, transport independent request and response shapes
//   - Lightweight mocking for tests and offline runs (MockModel)
//
// Providers (model/openai, model/anthropic) implement Model so the branch and
// dispatcher layers stay decoupled from vendor SDKs.
package model
