package model

import (
	"fmt"
	"math"
	"time"
)

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
	Cancelled  Status = "cancelled"
)

// Terminal reports whether the status can never transition again.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed || s == Cancelled
}

type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

const DefaultMaxAttempts = 5

// SenderIdentity is the logical sender a message goes out as.
type SenderIdentity struct {
	Name    string
	Address string
}

// QueueItem is one outbound message waiting in, or finished with, the
// delivery queue.
type QueueItem struct {
	ID        int64
	Recipient string
	Payload   string

	AccountID *int64 // nil = unmetered (system notifications)
	SegmentID *int64
	BatchID   string

	Sender   SenderIdentity
	Priority Priority

	Status      Status
	Attempts    int
	MaxAttempts int

	CreatedAt     time.Time
	LastAttemptAt *time.Time
	NextAttemptAt time.Time
	SentAt        *time.Time

	GatewayMessageID *string
	LastError        *string
}

// Backoff computes the delay before a retry attempt.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns min(Base * Multiplier^(attempt-1), Max) for a 1-based
// attempt number.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1)))
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}

// TransitionError is returned when a lifecycle event is applied to an item
// in a state that does not allow it.
type TransitionError struct {
	From  Status
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("queue item: cannot %s from %s", e.Event, e.From)
}

// Claim moves a pending item into processing. Only the claim path may set
// lastAttemptAt; stuck-item recovery keys off it.
func (i *QueueItem) Claim(now time.Time) error {
	if i.Status != Pending {
		return &TransitionError{From: i.Status, Event: "claim"}
	}
	i.Status = Processing
	t := now.UTC()
	i.LastAttemptAt = &t
	return nil
}

// Succeed marks a processing item sent. Sent is terminal.
func (i *QueueItem) Succeed(gatewayMessageID string, now time.Time) error {
	if i.Status != Processing {
		return &TransitionError{From: i.Status, Event: "succeed"}
	}
	t := now.UTC()
	i.Status = Sent
	i.SentAt = &t
	i.GatewayMessageID = &gatewayMessageID
	i.LastError = nil
	return nil
}

// Fail records a failed attempt. The item goes back to pending with a
// backed-off nextAttemptAt while attempts remain, and to failed once
// attempts are exhausted.
func (i *QueueItem) Fail(reason string, backoff Backoff, now time.Time) error {
	if i.Status != Processing {
		return &TransitionError{From: i.Status, Event: "fail"}
	}
	i.Attempts++
	if i.Attempts > i.MaxAttempts {
		// Attempts never exceed maxAttempts.
		i.Attempts = i.MaxAttempts
	}
	i.LastError = &reason

	if i.Attempts >= i.MaxAttempts {
		i.Status = Failed
		return nil
	}
	i.Status = Pending
	i.NextAttemptAt = now.UTC().Add(backoff.Delay(i.Attempts))
	return nil
}

// Cancel withdraws a pending item. Items already claimed, sent, failed or
// cancelled are not touched.
func (i *QueueItem) Cancel(reason string, now time.Time) error {
	if i.Status != Pending {
		return &TransitionError{From: i.Status, Event: "cancel"}
	}
	i.Status = Cancelled
	i.LastError = &reason
	return nil
}
