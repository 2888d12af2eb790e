package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/model"
)

// ModelFunc answers the n-th call (1-based) to a ScriptedModel.
type ModelFunc func(ctx context.Context, n int, req model.Request) (*model.Response, error)

// ScriptedModel is a model.Model backed by a callback. It is safe for
// concurrent use.
type ScriptedModel struct {
	fn ModelFunc

	mu    sync.Mutex
	calls int
}

// NewScriptedModel wraps fn.
func NewScriptedModel(fn ModelFunc) *ScriptedModel {
	return &ScriptedModel{fn: fn}
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.fn(ctx, n, req)
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "mock"}
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// TextResponse builds an assistant text response.
func TextResponse(text string) *model.Response {
	return &model.Response{Content: core.NewTextContent(core.RoleAssistant, text), FinishReason: "stop"}
}

// Prompt returns the text of the last user content of req.
func Prompt(req model.Request) string {
	for i := len(req.Contents) - 1; i >= 0; i-- {
		if req.Contents[i].Role == core.RoleUser {
			return req.Contents[i].Text()
		}
	}
	return ""
}
