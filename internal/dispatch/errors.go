package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches any rate-limit rejection via errors.Is.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitedError carries the absolute time at which the phone's send
// window resets.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
