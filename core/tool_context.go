package core

import (
	"context"

	"github.com/hupe1980/mailmesh/logging"
)

// ToolContext is the scoped surface handed to tool implementations invoked by
// a branch: the caller's context, the owning branch id, the originating
// function call id and a logger that tags every record with both ids.
type ToolContext struct {
	ctx            context.Context
	branchID       string
	functionCallID string
	logger         logging.Logger
}

// NewToolContext constructs a tool context for one function call. A nil
// logger discards output.
func NewToolContext(ctx context.Context, branchID, functionCallID string, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{
		ctx:            ctx,
		branchID:       branchID,
		functionCallID: functionCallID,
		logger:         &callLogger{next: logger, attrs: []any{"branch_id", branchID, "call_id", functionCallID}},
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// BranchID returns the id of the branch that requested the call.
func (tc *ToolContext) BranchID() string { return tc.branchID }

// FunctionCallID returns the function call ID associated with the invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the call-scoped logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// callLogger appends the branch and call ids to every record.
type callLogger struct {
	next  logging.Logger
	attrs []any
}

func (l *callLogger) with(args []any) []any {
	out := make([]any, 0, len(args)+len(l.attrs))
	return append(append(out, args...), l.attrs...)
}

func (l *callLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.with(args)...) }
func (l *callLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.with(args)...) }
func (l *callLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.with(args)...) }
func (l *callLogger) Error(msg string, args ...any) { l.next.Error(msg, l.with(args)...) }
