package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mailmesh/logging"
	"github.com/hupe1980/mailmesh/mail"
)

var (
	// ErrAlreadyRunning is returned by Execute while a cycle is in progress.
	ErrAlreadyRunning = errors.New("agent is already running")
	// ErrLiveness is returned when structure and executable do not both
	// complete within the configured deadline.
	ErrLiveness = errors.New("agent did not reach joint completion before deadline")
)

// State is the orchestrator lifecycle state.
type State int

const (
	StateReady State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OutputParser turns a finished agent into a result value.
type OutputParser func(a *Agent) (any, error)

// Options configures an Agent.
type Options struct {
	// OutputParser, when set, produces Execute's return value.
	OutputParser OutputParser
	// Router to register with. Defaults to a new router using RouterInterval.
	Router *mail.Router
	// RouterInterval is the pause between delivery passes of the default router.
	RouterInterval time.Duration
	// Deadline bounds one Execute cycle (0 = none).
	Deadline time.Duration
	Logger   logging.Logger
}

// Agent drives a structure and an executable to joint completion.
type Agent struct {
	structure  Component
	executable Component
	start      *Start
	router     *mail.Router
	parser     OutputParser
	deadline   time.Duration
	logger     logging.Logger

	mu       sync.Mutex
	state    State
	startCtx any
}

// New wires structure, executable and a fresh start trigger into the router.
// A *mail.RegistrationError is returned if an id is already registered.
func New(structure, executable Component, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{
		RouterInterval: mail.DefaultRouterInterval,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	router := opts.Router
	if router == nil {
		router = mail.NewRouter(func(o *mail.RouterOptions) {
			o.Interval = opts.RouterInterval
			o.Logger = opts.Logger
		})
	}

	start := NewStart()
	if err := router.Register(start, structure, executable); err != nil {
		return nil, err
	}

	return &Agent{
		structure:  structure,
		executable: executable,
		start:      start,
		router:     router,
		parser:     opts.OutputParser,
		deadline:   opts.Deadline,
		logger:     opts.Logger,
		state:      StateReady,
	}, nil
}

// Structure returns the workflow structure component.
func (a *Agent) Structure() Component { return a.structure }

// Executable returns the executable component.
func (a *Agent) Executable() Component { return a.executable }

// Router returns the router delivering the agent's mail.
func (a *Agent) Router() *mail.Router { return a.router }

// Start returns the start trigger participant.
func (a *Agent) Start() *Start { return a.start }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// StartContext returns the context passed to the most recent Execute.
func (a *Agent) StartContext() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startCtx
}

// Execute runs one cycle: it triggers the start mail, runs structure,
// executable, router and supervisor concurrently, and returns after all four
// finished. The first failure of any task is returned once every task has
// unwound. Stop flags are reset and the state is back at READY before the
// output parser runs, successful or not, so the agent can be executed again.
func (a *Agent) Execute(ctx context.Context, input any) (any, error) {
	a.mu.Lock()
	if a.state == StateRunning {
		a.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	a.state = StateRunning
	a.startCtx = input
	a.mu.Unlock()

	a.logger.Debug("agent.state", "from", StateReady.String(), "to", StateRunning.String())
	started := time.Now()

	runCtx := ctx
	if a.deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, a.deadline, ErrLiveness)
		defer cancel()
	}

	a.start.Trigger(input, a.structure.ID(), a.executable.ID())

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.runComponent(gctx, "structure", a.structure) })
	g.Go(func() error { return a.runComponent(gctx, "executable", a.executable) })
	g.Go(func() error { return a.router.Execute(gctx) })
	g.Go(func() error { return a.supervise(gctx) })

	err := g.Wait()
	a.finalize(err != nil)

	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(runCtx), ErrLiveness) {
			err = fmt.Errorf("%w (%s)", ErrLiveness, a.deadline)
		}
		a.logger.Error("agent.execute.failed", "error", err.Error(), "duration_ms", time.Since(started).Milliseconds())
		return nil, err
	}

	a.logger.Info("agent.execute.complete", "duration_ms", time.Since(started).Milliseconds())

	if a.parser == nil {
		return nil, nil
	}
	return a.parser(a)
}

// runComponent runs c and marks it stopped when it returns cleanly, so a
// component that forgets its flag cannot stall the supervisor.
func (a *Agent) runComponent(ctx context.Context, role string, c Component) error {
	if err := c.Execute(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", role, c.ID(), err)
	}
	c.StopFlag().Set()
	return nil
}

// supervise waits for both component flags and then stops the router.
func (a *Agent) supervise(ctx context.Context) error {
	structureDone := a.structure.StopFlag().Done()
	executableDone := a.executable.StopFlag().Done()

	for structureDone != nil || executableDone != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-structureDone:
			structureDone = nil
		case <-executableDone:
			executableDone = nil
		}
	}

	a.router.StopFlag().Set()
	return nil
}

// finalize resets the flags and returns to READY. After a failed cycle the
// agent's undelivered and unconsumed mail is discarded, so the next cycle
// starts with exactly one start mail.
func (a *Agent) finalize(failed bool) {
	if failed {
		if n := a.router.Purge(a.start.ID(), a.structure.ID(), a.executable.ID()); n > 0 {
			a.logger.Debug("agent.mail.purged", "count", n)
		}
	}

	a.structure.StopFlag().Reset()
	a.executable.StopFlag().Reset()
	a.router.StopFlag().Reset()

	a.mu.Lock()
	a.state = StateReady
	a.mu.Unlock()

	a.logger.Debug("agent.state", "from", StateRunning.String(), "to", StateReady.String())
}
