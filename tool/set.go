package tool

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/model"
)

// Set is a named collection of tools. Branches created with shared tool
// access hold the same *Set, so it is safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewSet builds a set from tools; later duplicates replace earlier ones.
func NewSet(tools ...Tool) *Set {
	s := &Set{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		s.tools[t.Name()] = t
	}
	return s
}

// Add registers a tool, failing if the name is taken.
func (s *Set) Add(t Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.Name()]; ok {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	s.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for n := range s.tools {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of tools.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools)
}

// Definitions renders the set as model tool definitions, sorted by name.
func (s *Set) Definitions() []model.ToolDefinition {
	names := s.Names()
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, n := range names {
		t, ok := s.Get(n)
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Invoke decodes the call's JSON arguments and runs the named tool. The
// returned FunctionResponse always carries the call id; failures are reported
// in its Error field as well as returned.
func (s *Set) Invoke(toolCtx *core.ToolContext, call core.FunctionCall) (core.FunctionResponse, error) {
	resp := core.FunctionResponse{ID: call.ID, Name: call.Name}

	t, ok := s.Get(call.Name)
	if !ok {
		err := NewToolError(call.Name, "tool not found", CodeNotFound)
		resp.Error = err.Error()
		return resp, err
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			terr := &ToolError{Tool: call.Name, Message: fmt.Sprintf("decode arguments: %v", err), Code: CodeBadInput}
			resp.Error = terr.Error()
			return resp, terr
		}
	}

	result, err := t.Call(toolCtx, args)
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	resp.Response = result
	return resp, nil
}
