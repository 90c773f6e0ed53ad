package breakglass

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested grant does not exist.
var ErrNotFound = errors.New("breakglass: grant not found")

// ErrRateLimited is returned when a user exceeds the per-hour request cap.
var ErrRateLimited = errors.New("breakglass: rate limit exceeded")

// ValidationError reports a malformed break-glass request. It is recoverable:
// the caller corrects the request and retries.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExpiredGrantError is returned when access is recorded against a grant that
// is revoked or past its expiry. Callers treat it as a fresh denial and
// re-evaluate, not as a fault.
type ExpiredGrantError struct {
	GrantID uuid.UUID
	State   State
	At      time.Time
}

func (e *ExpiredGrantError) Error() string {
	return fmt.Sprintf("grant %s is %s at %s", e.GrantID, e.State, e.At.Format(time.RFC3339))
}
