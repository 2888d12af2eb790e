package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mailmesh/branch"
	"github.com/hupe1980/mailmesh/logging"
)

// DefaultResultKey names the result field of a rendered Record.
const DefaultResultKey = "response"

var (
	// ErrBranchFailure is matched by *BranchError.
	ErrBranchFailure = errors.New("branch failed")
	// ErrRetryExhausted is matched by *RetryExhaustedError.
	ErrRetryExhausted = errors.New("dispatch retry budget exhausted")
)

// BranchError records the failure of one slot.
type BranchError struct {
	Slot     int
	BranchID string
	Err      error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("slot %d (branch %s): %v", e.Slot, e.BranchID, e.Err)
}

func (e *BranchError) Unwrap() []error { return []error{ErrBranchFailure, e.Err} }

// RetryExhaustedError is returned after the last dispatch attempt failed.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("dispatch failed after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() []error { return []error{ErrRetryExhausted, e.Last} }

// RetryOptions configures the whole-call retry.
type RetryOptions struct {
	// MaxAttempts including the first one.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Deadline bounds all attempts together (0 = none).
	Deadline time.Duration
}

// ParallelOptions configures a ParallelUnit.
type ParallelOptions struct {
	Retry RetryOptions
	// FailFast aborts the attempt on the first branch failure instead of
	// recording a per-slot error marker.
	FailFast bool
	// BranchTimeout bounds each branch call (0 = none).
	BranchTimeout time.Duration
	// MaxConcurrency limits running branches (0 = unlimited).
	MaxConcurrency int
	// DefaultKey names the result field of Records.
	DefaultKey string
	// Registry receives every successful branch. Defaults to a new registry.
	Registry *branch.Registry
	Logger   logging.Logger
}

// DispatchRequest describes one fan-out call.
type DispatchRequest struct {
	Instruction Input
	Context     Input
	// Replicas per instruction/context pair; 0 means 1.
	Replicas int
	// Explode crosses instruction and context sequences instead of zipping.
	Explode bool
	// IncludeMapping attaches instruction, context and branch id to results.
	IncludeMapping bool
	// ShareTools hands the default tool set to every branch.
	ShareTools bool
	// ShareMessages seeds every branch with the default message history.
	ShareMessages bool

	Sender string
	Tools  bool
	Invoke bool
	// DiscardOutput runs every branch for its side effects only: values are
	// nil while mappings and registration are kept.
	DiscardOutput   bool
	RequestedFields []string
	Extra           map[string]any
}

// Mapping ties a result to the work that produced it.
type Mapping struct {
	Instruction any
	Context     any
	BranchID    string
}

// Result is the outcome of one slot.
type Result struct {
	Slot    int
	Value   any
	Err     error
	Mapping *Mapping
}

// Record renders the result as a map with the value under key (or
// DefaultResultKey), plus mapping fields and an "error" entry if present.
func (r Result) Record(key string) map[string]any {
	if key == "" {
		key = DefaultResultKey
	}
	rec := map[string]any{key: r.Value}
	if r.Mapping != nil {
		rec["instruction"] = r.Mapping.Instruction
		rec["context"] = r.Mapping.Context
		rec["branch_id"] = r.Mapping.BranchID
	}
	if r.Err != nil {
		rec["error"] = r.Err.Error()
	}
	return rec
}

// Values flattens results to raw values, with the error as the value of a
// failed slot.
func Values(results []Result) []any {
	out := make([]any, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = r.Err
			continue
		}
		out[i] = r.Value
	}
	return out
}

// ParallelUnit dispatches expanded work to concurrent branches created from
// a default branch configuration.
type ParallelUnit struct {
	defaults branch.Config
	opts     ParallelOptions
	registry *branch.Registry
	logger   logging.Logger
}

// NewParallelUnit creates a dispatcher. defaults is cloned, so later changes
// by the caller do not affect dispatches.
func NewParallelUnit(defaults branch.Config, optFns ...func(o *ParallelOptions)) *ParallelUnit {
	opts := ParallelOptions{
		Retry: RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		DefaultKey: DefaultResultKey,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.DefaultKey == "" {
		opts.DefaultKey = DefaultResultKey
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Registry == nil {
		opts.Registry = branch.NewRegistry()
	}

	return &ParallelUnit{
		defaults: defaults.Clone(),
		opts:     opts,
		registry: opts.Registry,
		logger:   opts.Logger,
	}
}

// Registry returns the shared branch registry.
func (p *ParallelUnit) Registry() *branch.Registry { return p.registry }

// Records renders results with the configured default key.
func (p *ParallelUnit) Records(results []Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = r.Record(p.opts.DefaultKey)
	}
	return out
}

// Dispatch plans the work, runs one branch per descriptor and returns the
// results in slot order. The whole call is retried with exponential backoff;
// expansion errors and caller cancellation are not retried. Without
// FailFast, failed branches leave a *BranchError in their slot and only an
// attempt in which every slot failed is retried.
func (p *ParallelUnit) Dispatch(ctx context.Context, req DispatchRequest) ([]Result, error) {
	start := time.Now()

	callCtx := ctx
	if d := p.opts.Retry.Deadline; d > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var (
		results  []Result
		attempts int
		policy   Policy
		planned  int
		lastErr  error
	)

	operation := func() error {
		attempts++

		replicas := req.Replicas
		if replicas == 0 {
			replicas = 1
		}
		plan, err := Expand(req.Instruction, req.Context, replicas, req.Explode)
		if err != nil {
			return backoff.Permanent(err)
		}
		policy, _ = PolicyFor(req.Instruction, req.Context, req.Explode)
		planned = len(plan)

		res, err := p.run(callCtx, plan, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if attempts < p.opts.Retry.MaxAttempts {
				p.logger.Warn("dispatch.retry", "attempt", attempts, "max_attempts", p.opts.Retry.MaxAttempts, "error", err.Error())
			}
			return err
		}
		results = res
		return nil
	}

	err := backoff.Retry(operation, p.backoff(callCtx))

	if err != nil && !errors.Is(err, ErrExpansion) && ctx.Err() == nil {
		if lastErr == nil {
			lastErr = err
		}
		err = &RetryExhaustedError{Attempts: attempts, Last: lastErr}
	}

	if ml, ok := p.logger.(*logging.MeshLogger); ok {
		ml.LogDispatch(policy.String(), planned, attempts, time.Since(start), err == nil, err)
	}

	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *ParallelUnit) backoff(ctx context.Context) backoff.BackOff {
	r := p.opts.Retry

	b := backoff.NewExponentialBackOff()
	if r.InitialDelay > 0 {
		b.InitialInterval = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		b.MaxInterval = r.MaxDelay
	}
	if r.Multiplier > 0 {
		b.Multiplier = r.Multiplier
	}
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.MaxAttempts-1)), ctx)
}

// run executes one attempt of the plan. Branches are registered only once
// the attempt as a whole has succeeded, so a retried attempt leaves nothing
// behind in the registry.
func (p *ParallelUnit) run(ctx context.Context, plan []Descriptor, req DispatchRequest) ([]Result, error) {
	results := make([]Result, len(plan))
	branches := make([]*branch.Branch, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	if p.opts.MaxConcurrency > 0 {
		g.SetLimit(p.opts.MaxConcurrency)
	}

	for _, d := range plan {
		d := d
		g.Go(func() error {
			res, b := p.runBranch(gctx, d, req)
			results[d.Slot], branches[d.Slot] = res, b
			if res.Err != nil && p.opts.FailFast {
				return res.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	var first error
	for _, r := range results {
		if r.Err != nil {
			failed++
			if first == nil {
				first = r.Err
			}
		}
	}
	if failed > 0 && failed == len(results) {
		return nil, first
	}

	for slot, b := range branches {
		if b == nil {
			continue
		}
		if err := p.registry.Add(b); err != nil {
			results[slot].Value = nil
			results[slot].Err = &BranchError{Slot: slot, BranchID: b.ID(), Err: err}
		}
	}

	return results, nil
}

// runBranch creates a fresh branch for d and runs its chat call. The branch
// is returned only when the call succeeded.
func (p *ParallelUnit) runBranch(ctx context.Context, d Descriptor, req DispatchRequest) (Result, *branch.Branch) {
	cfg := p.defaults.Clone()
	if !req.ShareTools {
		cfg.Tools = nil
	}
	if !req.ShareMessages {
		cfg.Messages = nil
	}

	res := Result{Slot: d.Slot}

	b, err := branch.New(cfg)
	if err != nil {
		res.Err = &BranchError{Slot: d.Slot, Err: err}
		return res, nil
	}

	if req.IncludeMapping {
		res.Mapping = &Mapping{Instruction: d.Instruction, Context: d.Context, BranchID: b.ID()}
	}

	callCtx := ctx
	if p.opts.BranchTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opts.BranchTimeout)
		defer cancel()
	}

	out, err := b.Chat(callCtx, branch.Request{
		Instruction:     instructionText(d.Instruction),
		Context:         d.Context,
		Sender:          req.Sender,
		Tools:           req.Tools,
		Invoke:          req.Invoke,
		DiscardOutput:   req.DiscardOutput,
		RequestedFields: req.RequestedFields,
		Extra:           maps.Clone(req.Extra),
	})
	if err != nil {
		p.logger.Debug("dispatch.branch.failed", "slot", d.Slot, "branch_id", b.ID(), "error", err.Error())
		res.Err = &BranchError{Slot: d.Slot, BranchID: b.ID(), Err: err}
		return res, nil
	}

	res.Value = out
	return res, b
}

func instructionText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
