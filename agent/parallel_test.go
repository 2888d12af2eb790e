package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mailmesh/branch"
	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/internal/testutil"
	"github.com/hupe1980/mailmesh/model"
	"github.com/hupe1980/mailmesh/tool"
)

func echoModel() *testutil.ScriptedModel {
	return testutil.NewScriptedModel(func(_ context.Context, _ int, req model.Request) (*model.Response, error) {
		return testutil.TextResponse("echo: " + testutil.Prompt(req)), nil
	})
}

func fastRetry(attempts int) func(o *ParallelOptions) {
	return func(o *ParallelOptions) {
		o.Retry.MaxAttempts = attempts
		o.Retry.InitialDelay = time.Millisecond
		o.Retry.MaxDelay = 2 * time.Millisecond
	}
}

func TestDispatch_ReplicasRegisterDistinctBranches(t *testing.T) {
	m := echoModel()
	p := NewParallelUnit(branch.Config{Model: m})

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction:    One("summarize"),
		Context:        One("doc"),
		Replicas:       3,
		IncludeMapping: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	seen := map[string]bool{}
	for i, r := range results {
		assert.Equal(t, i, r.Slot)
		require.NoError(t, r.Err)
		assert.Equal(t, "echo: summarize\n\nContext:\ndoc", r.Value)
		require.NotNil(t, r.Mapping)

		_, ok := p.Registry().Get(r.Mapping.BranchID)
		assert.True(t, ok, "branch %s registered", r.Mapping.BranchID)
		seen[r.Mapping.BranchID] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 3, p.Registry().Len())
	assert.Equal(t, 3, m.Calls())
}

func TestDispatch_OrderFollowsPlanNotCompletion(t *testing.T) {
	// Earlier slots answer slower so completion order is reversed.
	m := testutil.NewScriptedModel(func(ctx context.Context, _ int, req model.Request) (*model.Response, error) {
		prompt := testutil.Prompt(req)
		delay := 5 * time.Millisecond
		if strings.HasPrefix(prompt, "a") {
			delay = 30 * time.Millisecond
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return testutil.TextResponse(prompt), nil
	})
	p := NewParallelUnit(branch.Config{Model: m})

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction:    Strings("a", "b"),
		Context:        Many("x", "y"),
		Explode:        true,
		IncludeMapping: true,
	})
	require.NoError(t, err)

	var got []pair
	for _, r := range results {
		got = append(got, pair{r.Mapping.Instruction, r.Mapping.Context})
	}
	assert.Equal(t, []pair{{"a", "x"}, {"a", "y"}, {"b", "x"}, {"b", "y"}}, got)
	assert.Equal(t, "b\n\nContext:\ny", results[3].Value)
}

func TestDispatch_ZipWithoutExplode(t *testing.T) {
	p := NewParallelUnit(branch.Config{Model: echoModel()})

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction: Strings("a", "b"),
		Context:     Many("x", "y"),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"echo: a\n\nContext:\nx", "echo: b\n\nContext:\ny"}, Values(results))
	assert.Nil(t, results[0].Mapping)
}

func TestDispatch_EmptySequenceLaunchesNothing(t *testing.T) {
	m := echoModel()
	p := NewParallelUnit(branch.Config{Model: m}, fastRetry(3))

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction: Strings(),
		Context:     One("x"),
	})
	assert.Nil(t, results)

	var expErr *ExpansionError
	require.ErrorAs(t, err, &expErr)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 0, m.Calls())
	assert.Equal(t, 0, p.Registry().Len())
}

func failOnBad() *testutil.ScriptedModel {
	return testutil.NewScriptedModel(func(_ context.Context, _ int, req model.Request) (*model.Response, error) {
		prompt := testutil.Prompt(req)
		if strings.Contains(prompt, "bad") {
			return nil, errors.New("model refused")
		}
		return testutil.TextResponse("ok: " + prompt), nil
	})
}

func TestDispatch_PartialResultsWithMarkers(t *testing.T) {
	p := NewParallelUnit(branch.Config{Model: failOnBad()}, fastRetry(1))

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction: Strings("good", "bad", "fine"),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "ok: good", results[0].Value)
	assert.Equal(t, "ok: fine", results[2].Value)

	var branchErr *BranchError
	require.ErrorAs(t, results[1].Err, &branchErr)
	assert.Equal(t, 1, branchErr.Slot)
	assert.ErrorIs(t, results[1].Err, ErrBranchFailure)
	assert.ErrorContains(t, results[1].Err, "model refused")

	assert.Equal(t, 2, p.Registry().Len(), "failed branches are not registered")
	assert.Equal(t, results[1].Err, Values(results)[1])

	records := p.Records(results)
	assert.Equal(t, "ok: good", records[0][DefaultResultKey])
	assert.Contains(t, records[1], "error")
}

func TestDispatch_FailFast(t *testing.T) {
	p := NewParallelUnit(branch.Config{Model: failOnBad()}, fastRetry(1), func(o *ParallelOptions) {
		o.FailFast = true
	})

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction: Strings("good", "bad"),
	})
	assert.Nil(t, results)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrBranchFailure)
	assert.ErrorContains(t, err, "model refused")
}

func TestDispatch_FailFastRetryRegistersOnlyFinalAttempt(t *testing.T) {
	var badCalls atomic.Int32
	m := testutil.NewScriptedModel(func(ctx context.Context, _ int, req model.Request) (*model.Response, error) {
		prompt := testutil.Prompt(req)
		if prompt == "bad" && badCalls.Add(1) == 1 {
			return nil, errors.New("flaky")
		}
		if prompt == "bad" {
			return testutil.TextResponse("ok: bad"), nil
		}
		return testutil.TextResponse("ok: " + prompt), nil
	})
	p := NewParallelUnit(branch.Config{Model: m}, fastRetry(2), func(o *ParallelOptions) {
		o.FailFast = true
		o.MaxConcurrency = 1
	})

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction:    Strings("good", "bad"),
		IncludeMapping: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"ok: good", "ok: bad"}, Values(results))

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Mapping.BranchID
	}
	assert.Equal(t, ids, p.Registry().IDs(), "only branches of the returned results are registered")
}

func TestDispatch_DiscardOutput(t *testing.T) {
	m := echoModel()
	p := NewParallelUnit(branch.Config{Model: m})

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction:    One("note"),
		Context:        Strings("x", "y"),
		IncludeMapping: true,
		DiscardOutput:  true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Nil(t, r.Value)
		require.NotNil(t, r.Mapping)
		_, ok := p.Registry().Get(r.Mapping.BranchID)
		assert.True(t, ok)
	}
	assert.Equal(t, "x", results[0].Mapping.Context)
	assert.Equal(t, 2, m.Calls())
}

func TestDispatch_RetriesWholeCall(t *testing.T) {
	m := testutil.NewScriptedModel(func(_ context.Context, n int, req model.Request) (*model.Response, error) {
		if n < 3 {
			return nil, errors.New("temporarily unavailable")
		}
		return testutil.TextResponse("done"), nil
	})
	p := NewParallelUnit(branch.Config{Model: m}, fastRetry(3))

	results, err := p.Dispatch(context.Background(), DispatchRequest{Instruction: One("go")})
	require.NoError(t, err)
	assert.Equal(t, []any{"done"}, Values(results))
	assert.Equal(t, 3, m.Calls())
}

func TestDispatch_RetryExhausted(t *testing.T) {
	sentinel := errors.New("always down")
	m := testutil.NewScriptedModel(func(context.Context, int, model.Request) (*model.Response, error) {
		return nil, sentinel
	})
	p := NewParallelUnit(branch.Config{Model: m}, fastRetry(2))

	_, err := p.Dispatch(context.Background(), DispatchRequest{Instruction: One("go"), Replicas: 2})

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, m.Calls())
}

func TestDispatch_RetryDeadline(t *testing.T) {
	m := testutil.NewScriptedModel(func(context.Context, int, model.Request) (*model.Response, error) {
		return nil, errors.New("down")
	})
	p := NewParallelUnit(branch.Config{Model: m}, func(o *ParallelOptions) {
		o.Retry.MaxAttempts = 100
		o.Retry.InitialDelay = 20 * time.Millisecond
		o.Retry.Deadline = 50 * time.Millisecond
	})

	start := time.Now()
	_, err := p.Dispatch(context.Background(), DispatchRequest{Instruction: One("go")})
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_BranchTimeout(t *testing.T) {
	m := testutil.NewScriptedModel(func(ctx context.Context, _ int, req model.Request) (*model.Response, error) {
		if strings.Contains(testutil.Prompt(req), "slow") {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return testutil.TextResponse("quick"), nil
	})
	p := NewParallelUnit(branch.Config{Model: m}, fastRetry(1), func(o *ParallelOptions) {
		o.BranchTimeout = 20 * time.Millisecond
	})

	results, err := p.Dispatch(context.Background(), DispatchRequest{Instruction: Strings("slow", "fast")})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.ErrorIs(t, results[0].Err, ErrBranchFailure)
	assert.Equal(t, "quick", results[1].Value)
}

func TestDispatch_CallerCancellation(t *testing.T) {
	m := testutil.NewScriptedModel(func(ctx context.Context, _ int, _ model.Request) (*model.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := NewParallelUnit(branch.Config{Model: m}, fastRetry(5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Dispatch(ctx, DispatchRequest{Instruction: One("wait")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, m.Calls())
}

func TestDispatch_MaxConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	m := testutil.NewScriptedModel(func(context.Context, int, model.Request) (*model.Response, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return testutil.TextResponse("ok"), nil
	})
	p := NewParallelUnit(branch.Config{Model: m}, func(o *ParallelOptions) { o.MaxConcurrency = 2 })

	results, err := p.Dispatch(context.Background(), DispatchRequest{Instruction: One("x"), Replicas: 6})
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatch_ShareToolsAndMessages(t *testing.T) {
	tools := tool.NewSet(tool.NewFunctionTool("noop", "", map[string]any{}, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, nil
	}))
	defaults := branch.Config{
		Model:    echoModel(),
		Tools:    tools,
		Messages: []core.Content{core.NewTextContent(core.RoleUser, "seed")},
	}
	registry := branch.NewRegistry()
	p := NewParallelUnit(defaults, func(o *ParallelOptions) { o.Registry = registry })
	assert.Same(t, registry, p.Registry())

	results, err := p.Dispatch(context.Background(), DispatchRequest{
		Instruction: One("a"), IncludeMapping: true,
	})
	require.NoError(t, err)
	b, _ := registry.Get(results[0].Mapping.BranchID)
	assert.Nil(t, b.Tools())
	assert.Len(t, b.Messages(), 2)

	results, err = p.Dispatch(context.Background(), DispatchRequest{
		Instruction: One("a"), IncludeMapping: true, ShareTools: true, ShareMessages: true,
	})
	require.NoError(t, err)
	b, _ = registry.Get(results[0].Mapping.BranchID)
	assert.Same(t, tools, b.Tools())
	assert.Len(t, b.Messages(), 3)
	assert.Len(t, defaults.Messages, 1)
}

func TestResult_Record(t *testing.T) {
	r := Result{Slot: 0, Value: "v", Mapping: &Mapping{Instruction: "i", Context: "c", BranchID: "b"}}
	assert.Equal(t, map[string]any{"response": "v", "instruction": "i", "context": "c", "branch_id": "b"}, r.Record(""))
	assert.Equal(t, map[string]any{"answer": "v", "instruction": "i", "context": "c", "branch_id": "b"}, r.Record("answer"))

	p := NewParallelUnit(branch.Config{}, func(o *ParallelOptions) { o.DefaultKey = "out" })
	assert.Equal(t, []map[string]any{{"out": 1}}, p.Records([]Result{{Value: 1}}))
}

func TestInstructionText(t *testing.T) {
	assert.Equal(t, "", instructionText(nil))
	assert.Equal(t, "plain", instructionText("plain"))
	assert.Equal(t, `{"task":"x"}`, instructionText(map[string]any{"task": "x"}))
}
