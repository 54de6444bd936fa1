package pipeline

import "errors"

var (
	// ErrNotFound is returned when a message is absent or owned by
	// another user. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidState is returned for illegal lifecycle transitions,
	// e.g. cancelling a message that is not scheduled.
	ErrInvalidState = errors.New("invalid message state")
	// ErrNoRecipients is returned when contact/group resolution yields
	// an empty recipient list.
	ErrNoRecipients = errors.New("no recipients resolved")
)
