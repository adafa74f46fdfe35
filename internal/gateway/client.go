package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is what callers see when the circuit is open: the gateway
// is deemed down and no network attempt was made.
var ErrUnavailable = errors.New("gateway temporarily unavailable")

// Error is a failed gateway response.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: unexpected status code: %d body=%q", e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying: server-side
// errors and throttling are, client errors are not.
func (e *Error) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsRetryable classifies an error for the retry policy. Network-level
// failures (no *Error) count as transient.
func IsRetryable(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// Template is an approved message template as reported by the gateway.
type Template struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Status   string `json:"status"`
}

// Client is the outbound messaging gateway (carrier SMS or WhatsApp
// Business Cloud).
type Client interface {
	// SendMessage delivers one message and returns the gateway-assigned
	// message id.
	SendMessage(ctx context.Context, recipient, payload string) (string, error)
	// Templates lists the approved templates.
	Templates(ctx context.Context) ([]Template, error)
	// UploadMedia stores a media asset and returns its gateway id.
	UploadMedia(ctx context.Context, contentType string, data []byte) (string, error)
}
