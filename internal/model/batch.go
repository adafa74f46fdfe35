package model

type BatchState string

const (
	BatchNotFound   BatchState = "not_found"
	BatchPending    BatchState = "pending"
	BatchInProgress BatchState = "in_progress"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
	BatchCancelled  BatchState = "cancelled"
)

// BatchStatus aggregates per-status counts for the items sharing a batch id.
type BatchStatus struct {
	BatchID    string
	Total      int
	Pending    int
	Processing int
	Sent       int
	Failed     int
	Cancelled  int
}

// Overall derives one label from the counts: completed when everything went
// out, cancelled/failed when the whole batch ended that way, in_progress as
// soon as anything has moved, pending otherwise.
func (b BatchStatus) Overall() BatchState {
	switch {
	case b.Total == 0:
		return BatchNotFound
	case b.Sent == b.Total:
		return BatchCompleted
	case b.Cancelled == b.Total:
		return BatchCancelled
	case b.Failed == b.Total:
		return BatchFailed
	case b.Sent > 0 || b.Failed > 0 || b.Processing > 0 || b.Cancelled > 0:
		return BatchInProgress
	}
	return BatchPending
}

// Consistent reports whether the per-status counts add up to the total.
func (b BatchStatus) Consistent() bool {
	return b.Total == b.Pending+b.Processing+b.Sent+b.Failed+b.Cancelled
}
