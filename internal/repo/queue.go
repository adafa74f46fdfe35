package repo

import (
	"context"
	"errors"
	"time"

	"github.com/bulkwave/dispatch/internal/model"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrSegmentNotFound     = errors.New("segment not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// QueueRepository is the durable store for queue items.
type QueueRepository interface {
	// Save inserts a single item and assigns its ID.
	Save(ctx context.Context, item *model.QueueItem) error
	// SaveBatch inserts all items in one statement; all or nothing.
	SaveBatch(ctx context.Context, items []*model.QueueItem) error
	// Update persists the mutable fields of an existing item.
	Update(ctx context.Context, item *model.QueueItem) error

	// ClaimNextBatch atomically selects up to limit pending items that are
	// due (nextAttemptAt <= now), ordered by priority descending then
	// creation time ascending, and marks them processing. No two concurrent
	// calls may claim the same item.
	ClaimNextBatch(ctx context.Context, limit int, now time.Time) ([]*model.QueueItem, error)

	// FindExpiredProcessing returns processing items whose last attempt
	// started before cutoff.
	FindExpiredProcessing(ctx context.Context, cutoff time.Time) ([]*model.QueueItem, error)

	FindByBatchID(ctx context.Context, batchID string) ([]*model.QueueItem, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)

	// CancelPendingByBatchID cancels all still-pending items of a batch and
	// returns how many were cancelled.
	CancelPendingByBatchID(ctx context.Context, batchID, reason string) (int, error)

	// DeleteOldEntries removes terminal items created before cutoff.
	DeleteOldEntries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Account is the billing entity a metered item is charged against.
type Account struct {
	ID        int64
	Name      string
	Credits   int
	SendLimit int // max recipients per bulk enqueue; 0 = unlimited
}

// AccountRepository is the credit ledger.
type AccountRepository interface {
	// GetAccount returns ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id int64) (*Account, error)
	// Debit atomically deducts amount credits, returning
	// ErrInsufficientCredits when the balance cannot cover it.
	Debit(ctx context.Context, id int64, amount int) error
}

// ContactRepository resolves recipient sets. Contact CRUD itself lives
// elsewhere; the queue only reads phone numbers.
type ContactRepository interface {
	// PhonesBySegment returns ErrSegmentNotFound for unknown segments.
	PhonesBySegment(ctx context.Context, segmentID int64) ([]string, error)
	PhonesByAccount(ctx context.Context, accountID int64) ([]string, error)
}
