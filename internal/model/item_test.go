package model

import (
	"errors"
	"testing"
	"time"
)

var testBackoff = Backoff{Base: time.Minute, Multiplier: 2.0, Max: time.Hour}

func newPendingItem() *QueueItem {
	return &QueueItem{
		ID:          1,
		Recipient:   "+36201234567",
		Payload:     "hello",
		Status:      Pending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestClaim_OnlyFromPending(t *testing.T) {
	t.Parallel()

	now := time.Now()

	it := newPendingItem()
	if err := it.Claim(now); err != nil {
		t.Fatalf("Claim() from pending: %v", err)
	}
	if it.Status != Processing {
		t.Fatalf("expected processing, got %s", it.Status)
	}
	if it.LastAttemptAt == nil {
		t.Fatalf("expected lastAttemptAt set on claim")
	}

	for _, s := range []Status{Processing, Sent, Failed, Cancelled} {
		it := newPendingItem()
		it.Status = s
		err := it.Claim(now)
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("Claim() from %s: expected TransitionError, got %v", s, err)
		}
	}
}

func TestSucceed_SetsTerminalState(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	it := newPendingItem()
	reason := "boom"
	it.LastError = &reason
	if err := it.Claim(now); err != nil {
		t.Fatalf("Claim(): %v", err)
	}
	if err := it.Succeed("wamid.123", now); err != nil {
		t.Fatalf("Succeed(): %v", err)
	}

	if it.Status != Sent {
		t.Fatalf("expected sent, got %s", it.Status)
	}
	if it.GatewayMessageID == nil || *it.GatewayMessageID != "wamid.123" {
		t.Fatalf("expected gateway message id recorded, got %v", it.GatewayMessageID)
	}
	if it.SentAt == nil || !it.SentAt.Equal(now) {
		t.Fatalf("expected sentAt=%v, got %v", now, it.SentAt)
	}
	if it.LastError != nil {
		t.Fatalf("expected lastError cleared on success, got %q", *it.LastError)
	}

	// Sent is terminal.
	if err := it.Fail("late failure", testBackoff, now); err == nil {
		t.Fatalf("expected Fail() on sent item to be rejected")
	}
	if err := it.Cancel("too late", now); err == nil {
		t.Fatalf("expected Cancel() on sent item to be rejected")
	}
}

func TestFail_RequeuesWithBackoffUntilExhausted(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	it := newPendingItem()
	it.MaxAttempts = 3

	// Attempt 1: back to pending, +1m.
	_ = it.Claim(now)
	if err := it.Fail("gateway timeout", testBackoff, now); err != nil {
		t.Fatalf("Fail() #1: %v", err)
	}
	if it.Status != Pending {
		t.Fatalf("expected pending after first failure, got %s", it.Status)
	}
	if it.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", it.Attempts)
	}
	if want := now.Add(time.Minute); !it.NextAttemptAt.Equal(want) {
		t.Fatalf("expected nextAttemptAt=%v, got %v", want, it.NextAttemptAt)
	}

	// Attempt 2: back to pending, +2m.
	_ = it.Claim(now)
	if err := it.Fail("gateway timeout", testBackoff, now); err != nil {
		t.Fatalf("Fail() #2: %v", err)
	}
	if want := now.Add(2 * time.Minute); !it.NextAttemptAt.Equal(want) {
		t.Fatalf("expected nextAttemptAt=%v, got %v", want, it.NextAttemptAt)
	}

	// Attempt 3: exhausted.
	_ = it.Claim(now)
	if err := it.Fail("gateway timeout", testBackoff, now); err != nil {
		t.Fatalf("Fail() #3: %v", err)
	}
	if it.Status != Failed {
		t.Fatalf("expected failed after max attempts, got %s", it.Status)
	}
	if it.Attempts != it.MaxAttempts {
		t.Fatalf("failed item must have attempts==maxAttempts, got %d/%d", it.Attempts, it.MaxAttempts)
	}
	if it.LastError == nil || *it.LastError != "gateway timeout" {
		t.Fatalf("expected lastError recorded, got %v", it.LastError)
	}
}

func TestCancel_OnlyFromPending(t *testing.T) {
	t.Parallel()

	now := time.Now()

	it := newPendingItem()
	if err := it.Cancel("batch cancelled", now); err != nil {
		t.Fatalf("Cancel() from pending: %v", err)
	}
	if it.Status != Cancelled {
		t.Fatalf("expected cancelled, got %s", it.Status)
	}

	it2 := newPendingItem()
	_ = it2.Claim(now)
	if err := it2.Cancel("batch cancelled", now); err == nil {
		t.Fatalf("expected Cancel() on processing item to be rejected")
	}
	if it2.Status != Processing {
		t.Fatalf("cancel must not roll back an in-flight send, got %s", it2.Status)
	}
}

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Multiplier: 2.0, Max: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{20, 10 * time.Second},
		{0, time.Second}, // clamped to first attempt
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d)=%v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	for s, want := range map[Status]bool{
		Pending:    false,
		Processing: false,
		Sent:       true,
		Failed:     true,
		Cancelled:  true,
	} {
		if got := s.Terminal(); got != want {
			t.Fatalf("%s.Terminal()=%v, want %v", s, got, want)
		}
	}
}
