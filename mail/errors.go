package mail

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateParticipant is matched by *RegistrationError.
	ErrDuplicateParticipant = errors.New("participant already registered")
	// ErrUnknownRecipient is matched by RoutingError.
	ErrUnknownRecipient = errors.New("recipient not registered")
)

// RegistrationError is returned when a participant id is registered twice.
type RegistrationError struct {
	ID string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register participant %s: %v", e.ID, ErrDuplicateParticipant)
}

func (e *RegistrationError) Unwrap() error { return ErrDuplicateParticipant }

// RoutingError reports mail that could not be delivered because its recipient
// is not registered. It is recovered locally: the mail is dropped and the
// router keeps running.
type RoutingError struct {
	Mail Mail
}

func (e RoutingError) Error() string {
	return fmt.Sprintf("route mail %s from %s to %s: %v", e.Mail.ID, e.Mail.SenderID, e.Mail.RecipientID, ErrUnknownRecipient)
}

func (e RoutingError) Unwrap() error { return ErrUnknownRecipient }
