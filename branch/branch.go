package branch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/internal/util"
	"github.com/hupe1980/mailmesh/logging"
	"github.com/hupe1980/mailmesh/model"
	"github.com/hupe1980/mailmesh/tool"
	"github.com/hupe1980/mailmesh/transcript"
)

// ErrNoModel is returned by New when the config carries no model.
var ErrNoModel = errors.New("branch: model is required")

// Request is the input of one Chat call.
type Request struct {
	Instruction string
	// Context is appended to the prompt; a map also feeds {{.key}} markers
	// in Instruction.
	Context any
	// Sender identifies the caller in the logs and transcript metadata.
	Sender string
	// Tools advertises the branch tool set to the model.
	Tools bool
	// Invoke executes model requested tool calls and re-queries the model.
	Invoke bool
	// DiscardOutput makes Chat return nil after a successful call.
	DiscardOutput bool
	// RequestedFields extracts these gjson paths from JSON output and
	// returns them as a map instead of the raw text.
	RequestedFields []string
	// Extra overrides model options for this call only.
	Extra map[string]any
}

// Branch is an isolated conversation. It is owned by a single task until
// registered; the mutex only guards readers of Messages.
type Branch struct {
	id     string
	cfg    Config
	store  transcript.Store
	logger logging.Logger

	mu       sync.Mutex
	messages []core.Content
}

// New creates a branch from a cloned config with a fresh id.
func New(cfg Config) (*Branch, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}

	cfg = cfg.Clone()

	id := uuid.NewString()
	if cfg.Name == "" {
		cfg.Name = id
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	store := cfg.Transcripts
	if store == nil && cfg.PersistPath != "" {
		js, err := transcript.NewJSONStore(cfg.PersistPath)
		if err != nil {
			return nil, err
		}
		store = js
	}

	return &Branch{
		id:       id,
		cfg:      cfg,
		store:    store,
		logger:   logger,
		messages: cfg.Messages,
	}, nil
}

// ID returns the unique branch id.
func (b *Branch) ID() string { return b.id }

// Name returns the branch name (the id unless configured).
func (b *Branch) Name() string { return b.cfg.Name }

// Tools returns the branch tool set, possibly nil.
func (b *Branch) Tools() *tool.Set { return b.cfg.Tools }

// Messages returns a copy of the conversation history.
func (b *Branch) Messages() []core.Content {
	b.mu.Lock()
	defer b.mu.Unlock()
	return core.CloneContents(b.messages)
}

func (b *Branch) append(c ...core.Content) {
	b.mu.Lock()
	b.messages = append(b.messages, c...)
	b.mu.Unlock()
}

// Chat runs one request/response exchange. With Invoke and Tools set, tool
// calls requested by the model are executed and the model is queried again
// until it answers without calls or MaxModelCalls is hit.
func (b *Branch) Chat(ctx context.Context, req Request) (any, error) {
	start := time.Now()
	modelName := b.cfg.Model.Info().Name

	out, err := b.chat(ctx, req)

	if ml, ok := b.logger.(*logging.MeshLogger); ok {
		ml.LogBranchCall(b.id, modelName, time.Since(start), err == nil, err)
	} else {
		b.logger.Debug("branch.chat", "branch_id", b.id, "sender", req.Sender, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
	}

	if b.store != nil {
		t := transcript.FromContents(b.id, b.Messages())
		t.Name, t.Model = b.cfg.Name, modelName
		if serr := b.store.Save(ctx, t); serr != nil {
			b.logger.Warn("branch.transcript.save_failed", "branch_id", b.id, "error", serr.Error())
			if err == nil {
				err = fmt.Errorf("save transcript: %w", serr)
			}
		}
	}

	if err != nil {
		return nil, err
	}
	if req.DiscardOutput {
		return nil, nil
	}
	return out, nil
}

func (b *Branch) chat(ctx context.Context, req Request) (any, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	b.append(core.NewTextContent(core.RoleUser, prompt))

	options := b.cfg.ModelOptions
	if len(req.Extra) > 0 {
		options = maps.Clone(options)
		if options == nil {
			options = make(map[string]any, len(req.Extra))
		}
		maps.Copy(options, req.Extra)
	}

	var defs []model.ToolDefinition
	useTools := req.Tools && b.cfg.Tools != nil && b.cfg.Tools.Len() > 0
	if useTools {
		defs = b.cfg.Tools.Definitions()
	}

	limiter := core.NewModelLimiter(b.id, b.cfg.MaxModelCalls)

	var resp *model.Response
	for {
		if err := limiter.Acquire(); err != nil {
			return nil, err
		}

		resp, err = b.cfg.Model.Generate(ctx, model.Request{
			Instructions: b.cfg.Instructions,
			Contents:     b.Messages(),
			Tools:        defs,
			Options:      options,
		})
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		b.append(resp.Content)

		calls := resp.Content.FunctionCalls()
		if !useTools || !req.Invoke || len(calls) == 0 {
			break
		}

		b.append(b.invokeTools(ctx, calls))
	}

	text := resp.Content.Text()
	if len(req.RequestedFields) == 0 {
		return text, nil
	}
	return extractFields(text, req.RequestedFields)
}

// invokeTools executes calls sequentially; failures become error responses
// for the model to read rather than chat errors.
func (b *Branch) invokeTools(ctx context.Context, calls []core.FunctionCall) core.Content {
	parts := make([]core.Part, 0, len(calls))
	for _, fc := range calls {
		toolCtx := core.NewToolContext(ctx, b.id, fc.ID, b.logger)

		var resp core.FunctionResponse
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("branch.tool.panic", "branch_id", b.id, "tool", fc.Name, "recover", r, "stack", string(debug.Stack()))
					resp = core.FunctionResponse{ID: fc.ID, Name: fc.Name, Error: fmt.Sprintf("panic: %v", r)}
				}
			}()
			resp, _ = b.cfg.Tools.Invoke(toolCtx, fc)
		}()

		parts = append(parts, core.FunctionResponsePart{FunctionResponse: resp})
	}
	return core.Content{Role: core.RoleTool, Parts: parts}
}

func buildPrompt(req Request) (string, error) {
	instruction := req.Instruction
	if data, ok := req.Context.(map[string]any); ok && strings.Contains(instruction, "{{") {
		rendered, err := util.RenderTemplate(instruction, data)
		if err != nil {
			return "", fmt.Errorf("render instruction: %w", err)
		}
		instruction = rendered
	}

	if req.Context == nil {
		return instruction, nil
	}

	var ctxText string
	switch v := req.Context.(type) {
	case string:
		ctxText = v
	default:
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode context: %w", err)
		}
		ctxText = string(raw)
	}

	if instruction == "" {
		return "Context:\n" + ctxText, nil
	}
	return instruction + "\n\nContext:\n" + ctxText, nil
}

// extractFields reads the requested paths from the first JSON object in text.
// Missing paths map to nil.
func extractFields(text string, fields []string) (map[string]any, error) {
	doc := text
	if !gjson.Valid(doc) {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start || !gjson.Valid(text[start:end+1]) {
			return nil, fmt.Errorf("requested fields %v: output is not JSON", fields)
		}
		doc = text[start : end+1]
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		r := gjson.Get(doc, f)
		if !r.Exists() {
			out[f] = nil
			continue
		}
		out[f] = r.Value()
	}
	return out, nil
}
