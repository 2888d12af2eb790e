package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "branch-1", "fc-1", logging.NoOpLogger{})
}

func sumTool() *FunctionTool {
	return NewFunctionTool("sum", "Add numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionTool_Success(t *testing.T) {
	result, err := sumTool().Call(toolCtx(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := sumTool().Call(toolCtx(), map[string]any{"a": 1.0})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("fail", "Fails", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := failing.Call(toolCtx(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Error(), "boom")
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("quota", "exhausted", "QUOTA")
	tl := NewFunctionTool("quota", "", map[string]any{}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, custom
	})
	_, err := tl.Call(toolCtx(), nil)
	assert.Same(t, custom, err)
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	type args struct {
		City string `json:"city"`
	}
	tl := NewFunctionToolFromStruct("weather", "Weather lookup", args{}, func(_ *core.ToolContext, a map[string]any) (any, error) {
		return "sunny in " + a["city"].(string), nil
	})
	assert.Equal(t, []string{"city"}, tl.Parameters()["required"])
}

func TestSet_DefinitionsAndInvoke(t *testing.T) {
	s := NewSet(sumTool())
	require.Error(t, s.Add(sumTool()))
	require.NoError(t, s.Add(NewFunctionTool("echo", "Echo", map[string]any{}, func(_ *core.ToolContext, a map[string]any) (any, error) {
		return a["text"], nil
	})))

	assert.Equal(t, []string{"echo", "sum"}, s.Names())
	assert.Equal(t, 2, s.Len())
	defs := s.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Function.Name)
	assert.Equal(t, "function", defs[1].Type)

	resp, err := s.Invoke(toolCtx(), core.FunctionCall{ID: "c1", Name: "sum", Arguments: `{"a":1,"b":2}`})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.ID)
	assert.Equal(t, 3.0, resp.Response)

	resp, err = s.Invoke(toolCtx(), core.FunctionCall{ID: "c2", Name: "missing"})
	assert.Error(t, err)
	assert.NotEmpty(t, resp.Error)

	_, err = s.Invoke(toolCtx(), core.FunctionCall{ID: "c3", Name: "sum", Arguments: `{not json`})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeBadInput, toolErr.Code)
}
