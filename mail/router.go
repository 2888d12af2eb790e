package mail

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/logging"
)

// DefaultRouterInterval is the pause between two delivery passes.
const DefaultRouterInterval = 10 * time.Millisecond

// RouterOptions configures a Router.
type RouterOptions struct {
	// Interval between delivery passes. Defaults to DefaultRouterInterval.
	Interval time.Duration
	// DiagnosticsBuffer sizes the RoutingError channel. Errors reported while
	// the buffer is full are logged and discarded.
	DiagnosticsBuffer int
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Router (the mail manager) delivers mail between registered participants.
// Registration is expected up front; Execute may run concurrently with
// Register / Unregister.
type Router struct {
	id       string
	interval time.Duration
	logger   logging.Logger

	mu       sync.RWMutex
	registry map[string]Participant
	order    []string

	stop        *core.StopFlag
	diagnostics chan RoutingError
}

// NewRouter creates a router with an empty registry.
func NewRouter(optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{
		Interval:          DefaultRouterInterval,
		DiagnosticsBuffer: 64,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultRouterInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.DiagnosticsBuffer < 0 {
		opts.DiagnosticsBuffer = 0
	}

	return &Router{
		id:          uuid.NewString(),
		interval:    opts.Interval,
		logger:      opts.Logger,
		registry:    map[string]Participant{},
		stop:        core.NewStopFlag(),
		diagnostics: make(chan RoutingError, opts.DiagnosticsBuffer),
	}
}

// ID returns the router's own identity.
func (r *Router) ID() string { return r.id }

// StopFlag returns the flag an external controller sets to end Execute.
func (r *Router) StopFlag() *core.StopFlag { return r.stop }

// Diagnostics returns the channel on which undeliverable mail is reported.
func (r *Router) Diagnostics() <-chan RoutingError { return r.diagnostics }

// Register adds participants to the registry. The call is atomic: if any id
// is already registered (or repeated within ps) nothing is added and a
// *RegistrationError is returned.
func (r *Router) Register(ps ...Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		id := p.ID()
		if _, ok := r.registry[id]; ok {
			return &RegistrationError{ID: id}
		}
		if _, ok := seen[id]; ok {
			return &RegistrationError{ID: id}
		}
		seen[id] = struct{}{}
	}

	for _, p := range ps {
		r.registry[p.ID()] = p
		r.order = append(r.order, p.ID())
	}

	return nil
}

// Unregister removes a participant. Pending outbound mail of that
// participant is no longer drained; mail addressed to it is dropped.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.registry[id]; !ok {
		return
	}
	delete(r.registry, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

// Participants returns registered ids in registration order.
func (r *Router) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Purge empties the mailboxes of the given registered participants and
// returns how many mails were discarded. Unknown ids are ignored. Call it
// only while Execute is not running.
func (r *Router) Purge(ids ...string) int {
	r.mu.RLock()
	boxes := make([]*Mailbox, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.registry[id]; ok {
			boxes = append(boxes, p.Mailbox())
		}
	}
	r.mu.RUnlock()

	purged := 0
	for _, b := range boxes {
		purged += b.reset()
	}
	if purged > 0 {
		r.logger.Debug("mail purged", "count", purged)
	}
	return purged
}

// Execute runs delivery passes until the stop flag is set (returns nil) or
// ctx is cancelled (returns ctx.Err()). A final pass runs after the stop flag
// is observed so mail emitted just before completion is still delivered.
func (r *Router) Execute(ctx context.Context) error {
	stopped := r.stop.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Pass()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			r.Pass()
			return nil
		case <-ticker.C:
		}
	}
}

// Pass performs one delivery sweep over all registered participants and
// returns the number of delivered and dropped mails.
func (r *Router) Pass() (delivered, dropped int) {
	start := time.Now()

	r.mu.RLock()
	senders := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		senders = append(senders, r.registry[id])
	}
	r.mu.RUnlock()

	for _, sender := range senders {
		for _, m := range sender.Mailbox().drainOutbound() {
			r.mu.RLock()
			recipient, ok := r.registry[m.RecipientID]
			r.mu.RUnlock()

			if !ok {
				dropped++
				r.report(RoutingError{Mail: m})
				continue
			}

			recipient.Mailbox().deliver(m)
			delivered++
		}
	}

	if delivered+dropped > 0 {
		if ml, ok := r.logger.(*logging.MeshLogger); ok {
			ml.LogDelivery(delivered, dropped, time.Since(start))
		}
	}

	return delivered, dropped
}

func (r *Router) report(e RoutingError) {
	r.logger.Warn("mail dropped", "mail_id", e.Mail.ID, "sender_id", e.Mail.SenderID, "recipient_id", e.Mail.RecipientID, "category", string(e.Mail.Category))

	select {
	case r.diagnostics <- e:
	default:
		r.logger.Debug("diagnostics buffer full", "mail_id", e.Mail.ID)
	}
}
