package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bulkwave/dispatch/internal/gateway"
	"github.com/bulkwave/dispatch/internal/model"
	"github.com/bulkwave/dispatch/internal/repo"
)

// memQueueRepo is an in-memory QueueRepository with the same claim semantics
// the Postgres implementation gets from FOR UPDATE SKIP LOCKED: claiming is
// exclusive under the lock and items are handed out as copies, so only
// Update writes anything back.
type memQueueRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*model.QueueItem

	updateErr error
	saveErr   error
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{items: make(map[int64]*model.QueueItem)}
}

func cloneItem(it *model.QueueItem) *model.QueueItem {
	c := *it
	return &c
}

func (m *memQueueRepo) Save(ctx context.Context, item *model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.nextID++
	item.ID = m.nextID
	m.items[item.ID] = cloneItem(item)
	return nil
}

func (m *memQueueRepo) SaveBatch(ctx context.Context, items []*model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, it := range items {
		m.nextID++
		it.ID = m.nextID
		m.items[it.ID] = cloneItem(it)
	}
	return nil
}

func (m *memQueueRepo) Update(ctx context.Context, item *model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.items[item.ID]; !ok {
		return fmt.Errorf("queue item %d not found", item.ID)
	}
	m.items[item.ID] = cloneItem(item)
	return nil
}

func (m *memQueueRepo) ClaimNextBatch(ctx context.Context, limit int, now time.Time) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*model.QueueItem
	for _, it := range m.items {
		if it.Status == model.Pending && !it.NextAttemptAt.After(now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.QueueItem, 0, len(due))
	for _, it := range due {
		it.Status = model.Processing
		t := now.UTC()
		it.LastAttemptAt = &t
		out = append(out, cloneItem(it))
	}
	return out, nil
}

func (m *memQueueRepo) FindExpiredProcessing(ctx context.Context, cutoff time.Time) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.QueueItem
	for _, it := range m.items {
		if it.Status == model.Processing && it.LastAttemptAt != nil && it.LastAttemptAt.Before(cutoff) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memQueueRepo) FindByBatchID(ctx context.Context, batchID string) ([]*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.QueueItem
	for _, it := range m.items {
		if it.BatchID == batchID {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memQueueRepo) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[model.Status]int)
	for _, it := range m.items {
		out[it.Status]++
	}
	return out, nil
}

func (m *memQueueRepo) CancelPendingByBatchID(ctx context.Context, batchID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, it := range m.items {
		if it.BatchID == batchID && it.Status == model.Pending {
			it.Status = model.Cancelled
			r := reason
			it.LastError = &r
			n++
		}
	}
	return n, nil
}

func (m *memQueueRepo) DeleteOldEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, it := range m.items {
		if it.Status.Terminal() && it.CreatedAt.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *memQueueRepo) get(id int64) *model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok {
		return cloneItem(it)
	}
	return nil
}

func (m *memQueueRepo) byStatus(st model.Status) []*model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.QueueItem
	for _, it := range m.items {
		if it.Status == st {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memQueueRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// memAccounts is an in-memory credit ledger with the conditional-decrement
// debit semantics of the Postgres implementation.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*repo.Account
	debits   int
}

func newMemAccounts(accounts ...*repo.Account) *memAccounts {
	m := &memAccounts{accounts: make(map[int64]*repo.Account)}
	for _, a := range accounts {
		c := *a
		m.accounts[a.ID] = &c
	}
	return m
}

func (m *memAccounts) GetAccount(ctx context.Context, id int64) (*repo.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, repo.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (m *memAccounts) Debit(ctx context.Context, id int64, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return repo.ErrAccountNotFound
	}
	if a.Credits < amount {
		return repo.ErrInsufficientCredits
	}
	a.Credits -= amount
	m.debits += amount
	return nil
}

func (m *memAccounts) balance(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return a.Credits
	}
	return -1
}

// memContacts resolves segments and account broadcasts from fixed maps.
type memContacts struct {
	segments  map[int64][]string
	byAccount map[int64][]string
}

func (m *memContacts) PhonesBySegment(ctx context.Context, segmentID int64) ([]string, error) {
	phones, ok := m.segments[segmentID]
	if !ok {
		return nil, repo.ErrSegmentNotFound
	}
	return phones, nil
}

func (m *memContacts) PhonesByAccount(ctx context.Context, accountID int64) ([]string, error) {
	return m.byAccount[accountID], nil
}

// fakeGateway scripts send outcomes; the default is success.
type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	sends   []string // recipients, in send order
	replies map[string][]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{replies: make(map[string][]error)}
}

// failNext queues errs for a recipient; each send consumes one entry, a nil
// entry means success.
func (g *fakeGateway) failNext(recipient string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[recipient] = append(g.replies[recipient], errs...)
}

func (g *fakeGateway) SendMessage(ctx context.Context, recipient, payload string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sends = append(g.sends, recipient)
	if q := g.replies[recipient]; len(q) > 0 {
		err := q[0]
		g.replies[recipient] = q[1:]
		if err != nil {
			return "", err
		}
	}
	g.nextID++
	return fmt.Sprintf("gw-%d", g.nextID), nil
}

func (g *fakeGateway) Templates(ctx context.Context) ([]gateway.Template, error) {
	return nil, nil
}

func (g *fakeGateway) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	return "media-1", nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

func (g *fakeGateway) sentRecipients() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sends...)
}
