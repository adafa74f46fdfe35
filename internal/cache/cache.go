package cache

import (
	"context"
	"time"
)

// SentCache records gateway message ids for sent items so inbound delivery
// reports can be correlated without hitting the queue table.
type SentCache interface {
	StoreSent(ctx context.Context, itemID int64, gatewayMessageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, itemID int64) (gatewayMessageID string, ok bool, err error)
}
