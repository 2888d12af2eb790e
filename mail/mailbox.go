package mail

import "sync"

// Participant is anything the router can deliver to: a stable id plus the
// mailbox owned by that id.
type Participant interface {
	ID() string
	Mailbox() *Mailbox
}

// Mailbox is a participant's outbound + inbound queue pair. The owner writes
// the outbound queue (Send) and reads the inbound queue (Receive*); the router
// is the only other party, draining outbound and appending inbound. The zero
// value is ready to use.
type Mailbox struct {
	mu       sync.Mutex
	outbound []Mail
	inbound  []Mail
	arrived  chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

func (b *Mailbox) arrivedLocked() chan struct{} {
	if b.arrived == nil {
		b.arrived = make(chan struct{}, 1)
	}
	return b.arrived
}

// Send enqueues mail for delivery by the router.
func (b *Mailbox) Send(m Mail) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound = append(b.outbound, m)
}

// Receive pops the oldest inbound mail from senderID.
func (b *Mailbox) Receive(senderID string) (Mail, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.inbound {
		if m.SenderID == senderID {
			b.inbound = append(b.inbound[:i], b.inbound[i+1:]...)
			return m, true
		}
	}
	return Mail{}, false
}

// ReceiveAny pops the oldest inbound mail regardless of sender.
func (b *Mailbox) ReceiveAny() (Mail, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbound) == 0 {
		return Mail{}, false
	}
	m := b.inbound[0]
	b.inbound = b.inbound[1:]
	return m, true
}

// Arrived returns a channel that receives a token whenever the router
// delivers new mail. Tokens coalesce; always drain with Receive* afterwards.
func (b *Mailbox) Arrived() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrivedLocked()
}

// PendingOut reports how many mails await delivery.
func (b *Mailbox) PendingOut() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outbound)
}

// PendingIn reports how many delivered mails await consumption.
func (b *Mailbox) PendingIn() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inbound)
}

// drainOutbound removes and returns every outbound mail in enqueue order.
func (b *Mailbox) drainOutbound() []Mail {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outbound) == 0 {
		return nil
	}
	out := b.outbound
	b.outbound = nil
	return out
}

// deliver appends mail to the inbound queue and signals Arrived.
func (b *Mailbox) deliver(ms ...Mail) {
	if len(ms) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = append(b.inbound, ms...)
	select {
	case b.arrivedLocked() <- struct{}{}:
	default:
	}
}

// reset discards both queues and any pending arrival token. It returns the
// number of discarded mails.
func (b *Mailbox) reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.outbound) + len(b.inbound)
	b.outbound, b.inbound = nil, nil
	if b.arrived != nil {
		select {
		case <-b.arrived:
		default:
		}
	}
	return n
}
