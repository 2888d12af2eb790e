// Package mailmesh provides a high-level façade over the mail-driven agent
// orchestrator and the parallel branch dispatcher. Most applications interact
// with this package by:
//  1. Creating a Mesh via New() (optionally from a loaded config.Config)
//  2. Building agents around their own Structure / Executable components
//     (NewAgent) or fanning work out to branches (Dispatch)
//  3. Inspecting finished branches through the shared Registry
//
// The façade copies configuration values into each component at construction;
// nothing is shared mutably between a Mesh and the components it builds.
package mailmesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/mailmesh/agent"
	"github.com/hupe1980/mailmesh/branch"
	"github.com/hupe1980/mailmesh/config"
	"github.com/hupe1980/mailmesh/logging"
	"github.com/hupe1980/mailmesh/model"
	"github.com/hupe1980/mailmesh/model/anthropic"
	"github.com/hupe1980/mailmesh/model/openai"
	"github.com/hupe1980/mailmesh/tool"
	"github.com/hupe1980/mailmesh/transcript"
)

// Version is the mailmesh release.
const Version = "0.1.0"

// Options configures the Mesh instance.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	// Model overrides the model built from Config.Model.
	Model model.Model
	// Transcripts overrides the store built from Config.Transcript.
	Transcripts transcript.Store
	// Tools are handed to branches of dispatches with ShareTools.
	Tools *tool.Set
	// Instructions is the system prompt of every branch.
	Instructions string
	// Logger defaults to a logger built from Config.Logging.
	Logger logging.Logger
	// LogOutput is where the default logger writes (stderr if nil).
	LogOutput io.Writer
}

// Mesh aggregates the model, stores, registry and logger shared by the
// components it creates.
type Mesh struct {
	cfg         config.Config
	model       model.Model
	transcripts transcript.Store
	tools       *tool.Set
	instr       string
	registry    *branch.Registry
	logger      logging.Logger
	closers     []io.Closer
}

// New creates a Mesh. Any unset dependency is built from the configuration.
func New(ctx context.Context, optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := config.Default()
	if opts.Config != nil {
		c := *opts.Config
		cfg = &c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Mesh{
		cfg:      *cfg,
		tools:    opts.Tools,
		instr:    opts.Instructions,
		registry: branch.NewRegistry(),
		logger:   opts.Logger,
	}

	if m.logger == nil {
		l, err := NewLogger(cfg.Logging, opts.LogOutput)
		if err != nil {
			return nil, err
		}
		m.logger = l
	}

	m.model = opts.Model
	if m.model == nil {
		mdl, err := NewModel(ctx, cfg.Model)
		if err != nil {
			return nil, err
		}
		m.model = mdl
	}

	m.transcripts = opts.Transcripts
	if m.transcripts == nil {
		store, closer, err := NewTranscriptStore(cfg.Transcript)
		if err != nil {
			return nil, err
		}
		m.transcripts = store
		if closer != nil {
			m.closers = append(m.closers, closer)
		}
	}

	return m, nil
}

// Config returns a copy of the effective configuration.
func (m *Mesh) Config() config.Config { return m.cfg }

// Model returns the shared model.
func (m *Mesh) Model() model.Model { return m.model }

// Registry returns the branch registry shared by all dispatchers.
func (m *Mesh) Registry() *branch.Registry { return m.registry }

// Logger returns the mesh logger.
func (m *Mesh) Logger() logging.Logger { return m.logger }

// BranchConfig returns the default branch configuration.
func (m *Mesh) BranchConfig() branch.Config {
	return branch.Config{
		Model:         m.model,
		Instructions:  m.instr,
		Transcripts:   m.transcripts,
		Tools:         m.tools,
		ModelOptions:  map[string]any{"temperature": m.cfg.Model.Temperature},
		MaxModelCalls: m.cfg.Dispatch.MaxModelCalls,
		Logger:        m.logger,
	}
}

// NewParallelUnit builds a dispatcher from the dispatch config. optFns are
// applied after the configured values.
func (m *Mesh) NewParallelUnit(optFns ...func(o *agent.ParallelOptions)) *agent.ParallelUnit {
	d := m.cfg.Dispatch
	fns := append([]func(o *agent.ParallelOptions){func(o *agent.ParallelOptions) {
		o.Retry = agent.RetryOptions{
			MaxAttempts:  d.Retry.MaxAttempts,
			InitialDelay: d.Retry.InitialDelay,
			MaxDelay:     d.Retry.MaxDelay,
			Multiplier:   d.Retry.Multiplier,
			Deadline:     d.Retry.Deadline,
		}
		o.FailFast = d.FailFast
		o.BranchTimeout = d.BranchTimeout
		o.MaxConcurrency = d.MaxConcurrency
		o.DefaultKey = d.DefaultKey
		o.Registry = m.registry
		o.Logger = m.logger
	}}, optFns...)

	return agent.NewParallelUnit(m.BranchConfig(), fns...)
}

// NewRequest builds a dispatch request with the configured replicas, explode
// and mapping settings.
func (m *Mesh) NewRequest(instruction, contexts agent.Input) agent.DispatchRequest {
	return agent.DispatchRequest{
		Instruction:    instruction,
		Context:        contexts,
		Replicas:       m.cfg.Dispatch.Replicas,
		Explode:        m.cfg.Dispatch.Explode,
		IncludeMapping: m.cfg.Dispatch.IncludeMapping,
		ShareTools:     m.tools != nil,
		Tools:          m.tools != nil,
		Invoke:         m.tools != nil,
	}
}

// Dispatch runs req on a dispatcher built from the configuration.
func (m *Mesh) Dispatch(ctx context.Context, req agent.DispatchRequest) ([]agent.Result, error) {
	return m.NewParallelUnit().Dispatch(ctx, req)
}

// NewAgent builds an orchestrator with the configured router interval,
// deadline and logger.
func (m *Mesh) NewAgent(structure, executable agent.Component, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	fns := append([]func(o *agent.Options){func(o *agent.Options) {
		o.RouterInterval = m.cfg.Router.Interval
		o.Deadline = m.cfg.Agent.Deadline
		o.Logger = m.logger
	}}, optFns...)
	return agent.New(structure, executable, fns...)
}

// Close releases stores opened by New.
func (m *Mesh) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	m.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds a MeshLogger from the logging config.
func NewLogger(cfg config.LoggingConfig, out io.Writer) (*logging.MeshLogger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	lc := logging.DefaultLoggerConfig()
	lc.Level = level
	lc.Format = cfg.Format
	lc.Output = out
	lc.Component = "mailmesh"
	return logging.NewLogger(lc), nil
}

// NewModel builds the configured model backend.
func NewModel(ctx context.Context, cfg config.ModelConfig) (model.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return model.NewMockModel(cfg.Name), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = cfg.APIKey
		}), nil
	case "anthropic":
		return anthropic.NewModel(ctx, func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = cfg.APIKey
			o.Bedrock = anthropic.BedrockOptions{
				Enabled: cfg.Bedrock.Enabled,
				Region:  cfg.Bedrock.Region,
				Profile: cfg.Bedrock.Profile,
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// NewTranscriptStore opens the configured store. The closer is non-nil for
// stores holding resources.
func NewTranscriptStore(cfg config.TranscriptConfig) (transcript.Store, io.Closer, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil, nil
	case "json":
		s, err := transcript.NewJSONStore(cfg.Path)
		return s, nil, err
	case "sqlite":
		s, err := transcript.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcript backend %q", cfg.Backend)
	}
}
