// Package mail implements addressed mail exchange between cooperating
// components.
//
// A Mail is an immutable envelope (sender, recipient, category, payload).
// Every participant owns one Mailbox holding an outbound queue (produced, not
// yet delivered) and an inbound queue (delivered, not yet consumed). The
// Router keeps a registry of participants keyed by id and repeatedly moves
// each participant's outbound mail into the addressed recipient's inbound
// queue until its stop flag is set.
//
// Ordering: the router drains a sender's outbound queue in enqueue order and
// appends to the recipient's inbound queue in the same order, so a single
// sender's stream to a given recipient is never reordered.
//
// Mail addressed to an unregistered id is dropped and reported on the
// router's Diagnostics channel; it never stops the routing loop.
package mail
