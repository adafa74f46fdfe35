package queue

import (
	"errors"
	"fmt"
)

// ErrSendLimitExceeded rejects a bulk enqueue larger than the account's
// per-batch send limit, independently of the credit balance.
var ErrSendLimitExceeded = errors.New("account send limit exceeded")

// ValidationError rejects malformed input before anything is queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
