package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/bulkwave/dispatch/internal/cache"
	"github.com/bulkwave/dispatch/internal/gateway"
	"github.com/bulkwave/dispatch/internal/metrics"
	"github.com/bulkwave/dispatch/internal/model"
	"github.com/bulkwave/dispatch/internal/repo"
)

// Config tunes the delivery queue.
type Config struct {
	MaxAttempts     int
	Backoff         model.Backoff
	StuckAfter      time.Duration // processing items older than this are recovered
	MaxPayloadRunes int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = model.DefaultMaxAttempts
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = time.Minute
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = 2.0
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = time.Hour
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 10 * time.Minute
	}
	if c.MaxPayloadRunes <= 0 {
		c.MaxPayloadRunes = 4096
	}
	return c
}

// Service owns admission, scheduling, retrying and credit accounting for
// outbound messages. All collaborators are constructor-injected.
type Service struct {
	repo     repo.QueueRepository
	accounts repo.AccountRepository
	contacts repo.ContactRepository
	gw       gateway.Client
	sent     cache.SentCache
	met      *metrics.Metrics
	clk      clock.Clock
	log      *slog.Logger
	cfg      Config
}

func NewService(queueRepo repo.QueueRepository, accounts repo.AccountRepository, contacts repo.ContactRepository, gw gateway.Client, cfg Config) *Service {
	return &Service{
		repo:     queueRepo,
		accounts: accounts,
		contacts: contacts,
		gw:       gw,
		clk:      clock.New(),
		log:      slog.Default(),
		cfg:      cfg.withDefaults(),
	}
}

// WithSentCache enables the gateway-message-id cache; nil disables it.
func (s *Service) WithSentCache(c cache.SentCache) *Service {
	s.sent = c
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.met = m
	return s
}

func (s *Service) WithClock(clk clock.Clock) *Service {
	s.clk = clk
	return s
}

func (s *Service) WithLogger(log *slog.Logger) *Service {
	s.log = log
	return s
}

// EnqueueRequest creates one queue item.
type EnqueueRequest struct {
	Recipient string
	Payload   string
	AccountID *int64
	SegmentID *int64
	BatchID   string
	Sender    model.SenderIdentity
	Priority  model.Priority
}

// BulkRequest creates one item per unique recipient under a fresh batch id.
type BulkRequest struct {
	Recipients []string
	Payload    string
	AccountID  *int64
	SegmentID  *int64
	Sender     model.SenderIdentity
	Priority   model.Priority
}

// BatchResult summarizes one worker pass.
type BatchResult struct {
	Sent   int
	Failed int
	Total  int
}

// Enqueue admits a single message. Credit is checked at send time, not here.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueueItem, error) {
	recipient, err := NormalizePhone(req.Recipient)
	if err != nil {
		return nil, err
	}
	if err := s.validatePayload(req.Payload); err != nil {
		return nil, err
	}

	item := s.newItem(recipient, req.Payload, req.AccountID, req.SegmentID, req.BatchID, req.Sender, req.Priority)
	if err := s.repo.Save(ctx, item); err != nil {
		return nil, err
	}

	s.countEnqueued(1)
	s.log.Info("item enqueued", "item_id", item.ID, "priority", item.Priority.String())
	return item, nil
}

// EnqueueBulk admits one item per unique recipient as a single durable batch
// write. A metered account must be able to pay for the whole set up front,
// even though debits only happen per successful send. An empty recipient set
// is a no-op, not an error.
func (s *Service) EnqueueBulk(ctx context.Context, req BulkRequest) (string, error) {
	recipients := make([]string, 0, len(req.Recipients))
	for _, raw := range req.Recipients {
		n, err := NormalizePhone(raw)
		if err != nil {
			return "", err
		}
		recipients = append(recipients, n)
	}
	return s.enqueueNormalized(ctx, dedupe(recipients), req)
}

// EnqueueSegment resolves a segment to its phone numbers and delegates to
// the bulk path. Unknown segments are rejected; contacts with unusable
// numbers are skipped with a warning since they came from storage, not from
// the caller.
func (s *Service) EnqueueSegment(ctx context.Context, segmentID int64, req BulkRequest) (string, error) {
	phones, err := s.contacts.PhonesBySegment(ctx, segmentID)
	if err != nil {
		return "", err
	}
	req.SegmentID = &segmentID
	return s.enqueueNormalized(ctx, s.usablePhones(phones), req)
}

// EnqueueAllContacts queues a broadcast to every contact of an account.
func (s *Service) EnqueueAllContacts(ctx context.Context, accountID int64, req BulkRequest) (string, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return "", err
	}
	phones, err := s.contacts.PhonesByAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	req.AccountID = &accountID
	return s.enqueueNormalized(ctx, s.usablePhones(phones), req)
}

func (s *Service) enqueueNormalized(ctx context.Context, recipients []string, req BulkRequest) (string, error) {
	if len(recipients) == 0 {
		return "", nil
	}
	if err := s.validatePayload(req.Payload); err != nil {
		return "", err
	}

	if req.AccountID != nil {
		acct, err := s.accounts.GetAccount(ctx, *req.AccountID)
		if err != nil {
			return "", err
		}
		if acct.SendLimit > 0 && len(recipients) > acct.SendLimit {
			return "", fmt.Errorf("%w: %d recipients, limit %d", ErrSendLimitExceeded, len(recipients), acct.SendLimit)
		}
		if acct.Credits < len(recipients) {
			return "", fmt.Errorf("%w: need %d, have %d", repo.ErrInsufficientCredits, len(recipients), acct.Credits)
		}
	}

	batchID := uuid.NewString()
	items := make([]*model.QueueItem, 0, len(recipients))
	for _, r := range recipients {
		items = append(items, s.newItem(r, req.Payload, req.AccountID, req.SegmentID, batchID, req.Sender, req.Priority))
	}
	if err := s.repo.SaveBatch(ctx, items); err != nil {
		return "", err
	}

	s.countEnqueued(len(items))
	s.log.Info("batch enqueued", "batch_id", batchID, "items", len(items))
	return batchID, nil
}

func (s *Service) newItem(recipient, payload string, accountID, segmentID *int64, batchID string, sender model.SenderIdentity, priority model.Priority) *model.QueueItem {
	now := s.clk.Now().UTC()
	return &model.QueueItem{
		Recipient:     recipient,
		Payload:       payload,
		AccountID:     accountID,
		SegmentID:     segmentID,
		BatchID:       batchID,
		Sender:        sender,
		Priority:      priority,
		Status:        model.Pending,
		MaxAttempts:   s.cfg.MaxAttempts,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
}

// ProcessNextBatch is one worker pass: recover stuck items, claim a bounded
// batch of due pending items, send each one. Per-item gateway failures are
// recorded on the item and counted; only storage errors fail the call.
func (s *Service) ProcessNextBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	if batchSize <= 0 {
		return BatchResult{}, errors.New("batchSize must be > 0")
	}

	now := s.clk.Now().UTC()
	if err := s.recoverStuck(ctx, now); err != nil {
		return BatchResult{}, err
	}

	items, err := s.repo.ClaimNextBatch(ctx, batchSize, now)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Total: len(items)}

	// balances caches the durable balance at first read; ledger shadows the
	// deductions made during this pass so one batch cannot oversell an
	// account. The authoritative debit is still the conditional decrement
	// in the account repo.
	balances := make(map[int64]int)
	ledger := make(map[int64]int)

	for _, it := range items {
		sent, err := s.sendOne(ctx, it, balances, ledger)
		if err != nil {
			return res, err
		}
		if sent {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	if res.Total > 0 {
		s.log.Info("batch processed", "total", res.Total, "sent", res.Sent, "failed", res.Failed)
	}
	return res, nil
}

func (s *Service) sendOne(ctx context.Context, it *model.QueueItem, balances, ledger map[int64]int) (bool, error) {
	if it.AccountID != nil {
		id := *it.AccountID
		bal, cached := balances[id]
		if !cached {
			acct, err := s.accounts.GetAccount(ctx, id)
			if errors.Is(err, repo.ErrAccountNotFound) {
				return false, s.failItem(ctx, it, "account not found")
			}
			if err != nil {
				return false, err
			}
			bal = acct.Credits
			balances[id] = bal
		}
		if bal-ledger[id] < 1 {
			return false, s.failItem(ctx, it, repo.ErrInsufficientCredits.Error())
		}
	}

	wire, err := NormalizePhone(it.Recipient)
	if err != nil {
		return false, s.failItem(ctx, it, err.Error())
	}

	gatewayID, err := s.gw.SendMessage(ctx, wire, it.Payload)
	if err != nil {
		return false, s.failItem(ctx, it, err.Error())
	}

	now := s.clk.Now().UTC()
	if err := it.Succeed(gatewayID, now); err != nil {
		return false, err
	}
	if err := s.repo.Update(ctx, it); err != nil {
		// The sent state never became durable; stuck-item recovery picks
		// the item up again and the account was not charged.
		return false, err
	}

	// Debit strictly after the durable sent write. A failed debit is a
	// billing reconciliation problem, never a reason to retract the send.
	if it.AccountID != nil {
		id := *it.AccountID
		ledger[id]++
		if err := s.accounts.Debit(ctx, id, 1); err != nil {
			s.log.Error("credit debit failed after confirmed send",
				"item_id", it.ID, "account_id", id, "err", err)
			if s.met != nil {
				s.met.DebitFailures.Inc()
			}
		} else if s.met != nil {
			s.met.CreditsDebited.Inc()
		}
	}

	if s.sent != nil {
		if err := s.sent.StoreSent(ctx, it.ID, gatewayID, now); err != nil {
			s.log.Warn("failed to cache sent message", "item_id", it.ID, "err", err)
		}
	}

	if s.met != nil {
		s.met.Sent.Inc()
	}
	return true, nil
}

// failItem drives the shared failure path: attempts++, back to pending with
// a backed-off nextAttemptAt while attempts remain, terminal failed
// otherwise. Returns only storage errors.
func (s *Service) failItem(ctx context.Context, it *model.QueueItem, reason string) error {
	if err := it.Fail(reason, s.cfg.Backoff, s.clk.Now()); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, it); err != nil {
		return err
	}

	if it.Status == model.Failed {
		s.log.Warn("item failed permanently", "item_id", it.ID, "attempts", it.Attempts, "reason", reason)
		if s.met != nil {
			s.met.Failed.Inc()
		}
	} else {
		s.log.Info("item re-queued", "item_id", it.ID, "attempts", it.Attempts,
			"next_attempt_at", it.NextAttemptAt, "reason", reason)
		if s.met != nil {
			s.met.Retried.Inc()
		}
	}
	return nil
}

// recoverStuck fails over items a crashed worker left in processing, before
// any new items are claimed.
func (s *Service) recoverStuck(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.cfg.StuckAfter)
	items, err := s.repo.FindExpiredProcessing(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, it := range items {
		s.log.Warn("recovering stuck item", "item_id", it.ID, "last_attempt_at", it.LastAttemptAt)
		if err := s.failItem(ctx, it, "processing timeout"); err != nil {
			return err
		}
		if s.met != nil {
			s.met.Recovered.Inc()
		}
	}
	return nil
}

// BatchStatus aggregates per-status counts for a batch. A batch id with no
// items reports not_found without an error.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (model.BatchStatus, error) {
	items, err := s.repo.FindByBatchID(ctx, batchID)
	if err != nil {
		return model.BatchStatus{}, err
	}

	bs := model.BatchStatus{BatchID: batchID, Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case model.Pending:
			bs.Pending++
		case model.Processing:
			bs.Processing++
		case model.Sent:
			bs.Sent++
		case model.Failed:
			bs.Failed++
		case model.Cancelled:
			bs.Cancelled++
		}
	}
	return bs, nil
}

// CancelBatch withdraws the still-pending items of a batch. Items already
// claimed run to completion; terminal items are untouched.
func (s *Service) CancelBatch(ctx context.Context, batchID, reason string) (int, error) {
	if reason == "" {
		reason = "batch cancelled"
	}

	n, err := s.repo.CancelPendingByBatchID(ctx, batchID, reason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("batch cancelled", "batch_id", batchID, "cancelled", n)
		if s.met != nil {
			s.met.Cancelled.Add(float64(n))
		}
	}
	return n, nil
}

// Stats returns queue-wide counts, with zeroes for absent statuses.
func (s *Service) Stats(ctx context.Context) (map[model.Status]int, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range []model.Status{model.Pending, model.Processing, model.Sent, model.Failed, model.Cancelled} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

// CleanupOldEntries deletes terminal items older than the retention horizon.
// Pending and processing items are never deleted regardless of age.
func (s *Service) CleanupOldEntries(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 1 {
		return 0, errors.New("daysToKeep must be >= 1")
	}

	cutoff := s.clk.Now().UTC().AddDate(0, 0, -daysToKeep)
	n, err := s.repo.DeleteOldEntries(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("old queue entries deleted", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *Service) validatePayload(payload string) error {
	if payload == "" {
		return &ValidationError{Field: "payload", Reason: "empty message body"}
	}
	if utf8.RuneCountInString(payload) > s.cfg.MaxPayloadRunes {
		return &ValidationError{Field: "payload", Reason: fmt.Sprintf("exceeds %d characters", s.cfg.MaxPayloadRunes)}
	}
	return nil
}

// usablePhones normalizes store-resolved numbers, dropping the unusable ones.
func (s *Service) usablePhones(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		n, err := NormalizePhone(p)
		if err != nil {
			s.log.Warn("skipping contact with unusable phone number", "phone", p, "err", err)
			continue
		}
		out = append(out, n)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (s *Service) countEnqueued(n int) {
	if s.met != nil {
		s.met.Enqueued.Add(float64(n))
	}
}
