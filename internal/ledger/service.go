package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cadogy/token-service/internal/logging"
	"github.com/cadogy/token-service/internal/metrics"
	"github.com/cadogy/token-service/internal/traces"
	"github.com/cadogy/token-service/internal/user"
)

// BasisPointsScale is the fixed-point scale for multiply factors:
// 10000 means x1.0, 15000 means x1.5, 5000 means x0.5.
const BasisPointsScale = 10000

// CAS retry tuning.
const (
	casMaxAttempts = 3
	casBaseDelay   = 5 * time.Millisecond
)

// errCASMiss signals a stale compare-and-set inside the retry loop.
// It never escapes Service methods; exhausted retries surface as
// ErrConcurrencyConflict.
var errCASMiss = errors.New("ledger: stale balance read")

// EventPublisher receives committed entries for fan-out (realtime feed).
// Implementations must not block.
type EventPublisher interface {
	PublishEntry(e *Entry)
}

// Service is the single write path for token balances.
//
// Every mutation follows the same protocol: read the balance, validate,
// compute the new value, then compare-and-set against the value read. A
// stale read retries from the top with jittered backoff; after
// casMaxAttempts the caller gets ErrConcurrencyConflict and nothing has
// changed. Once the balance commits, the audit entry append is best
// effort: a failure is logged for reconciliation, not returned.
type Service struct {
	users  user.Store
	store  Store
	logger *slog.Logger
	events EventPublisher
}

// NewService creates a ledger service. events may be nil.
func NewService(users user.Store, store Store, logger *slog.Logger, events EventPublisher) *Service {
	return &Service{users: users, store: store, logger: logger, events: events}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if reqID := logging.RequestID(ctx); reqID != "" {
		return s.logger.With("request_id", reqID)
	}
	return s.logger
}

// Credit adds amount tokens to the user's balance. amount must be > 0.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reason string, actor Actor) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.apply(ctx, mutation{
		userID: userID,
		op:     OpAdd,
		amount: amount,
		reason: reason,
		actor:  actor,
	})
}

// CreditPurchase credits a completed purchase, stamping the entry with the
// external order id so a redelivered webhook cannot credit twice.
func (s *Service) CreditPurchase(ctx context.Context, userID string, amount int64, orderID string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if orderID == "" {
		return nil, fmt.Errorf("ledger: missing order id")
	}

	exists, err := s.store.HasOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check order: %w", err)
	}
	if exists {
		return nil, ErrDuplicateOrder
	}

	return s.apply(ctx, mutation{
		userID:  userID,
		op:      OpAdd,
		amount:  amount,
		reason:  fmt.Sprintf("purchase of %d tokens", amount),
		actor:   SystemActor,
		orderID: orderID,
	})
}

// Debit removes amount tokens. amount must be > 0 and must not exceed the
// current balance; otherwise the balance is untouched and the caller gets
// an *InsufficientBalanceError.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, reason string, actor Actor) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.apply(ctx, mutation{
		userID: userID,
		op:     OpDeduct,
		amount: amount,
		reason: reason,
		actor:  actor,
	})
}

// SetBalance replaces the balance with value. value must be >= 0. Setting a
// balance to its current value still records an entry with a zero delta.
func (s *Service) SetBalance(ctx context.Context, userID string, value int64, reason string, actor Actor) (*Entry, error) {
	if value < 0 {
		return nil, ErrInvalidAmount
	}
	return s.apply(ctx, mutation{
		userID: userID,
		op:     OpSet,
		amount: value,
		reason: reason,
		actor:  actor,
	})
}

// UserFilter selects the targets of a bulk run. An empty Role means every
// user.
type UserFilter struct {
	Role user.Role
}

// BulkResult is the per-user outcome of a bulk run. Balances are kept in
// the JSON even when zero so a set-to-0 summary stays reconcilable.
type BulkResult struct {
	UserID          string `json:"userId"`
	Success         bool   `json:"success"`
	PreviousBalance int64  `json:"previousBalance"`
	NewBalance      int64  `json:"newBalance"`
	Error           string `json:"error,omitempty"`
}

// BulkApply runs op against every user matched by filter. For OpMultiply,
// amount is a factor in basis points (BasisPointsScale = x1.0) and the new
// balance rounds down. One user's failure never aborts the batch; each
// outcome lands in its own BulkResult, so a deduct that would take one
// user negative fails for that user alone.
func (s *Service) BulkApply(ctx context.Context, filter UserFilter, op Operation, amount int64, reason string, actor Actor) ([]BulkResult, error) {
	if !op.ValidBulk() {
		return nil, fmt.Errorf("ledger: operation %q not allowed in bulk", op)
	}
	switch op {
	case OpAdd, OpDeduct, OpMultiply:
		if amount <= 0 {
			return nil, ErrInvalidAmount
		}
	case OpSet:
		if amount < 0 {
			return nil, ErrInvalidAmount
		}
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, fmt.Errorf("ledger: unknown role %q", filter.Role)
	}

	ctx, span := traces.StartSpan(ctx, "ledger.bulk_apply",
		traces.Operation(string(op)), traces.Amount(amount))
	defer span.End()

	var (
		targets []*user.User
		err     error
	)
	if filter.Role != "" {
		targets, err = s.users.ListByRole(ctx, filter.Role)
	} else {
		targets, err = s.users.List(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	results := make([]BulkResult, 0, len(targets))
	for _, u := range targets {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		entry, err := s.apply(ctx, mutation{
			userID: u.ID,
			op:     op,
			amount: amount,
			reason: reason,
			actor:  actor,
		})
		if err != nil {
			results = append(results, BulkResult{UserID: u.ID, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{
			UserID:          u.ID,
			Success:         true,
			PreviousBalance: entry.PreviousBalance,
			NewBalance:      entry.NewBalance,
		})
	}
	return results, nil
}

// mutation is one balance write request flowing through the CAS protocol.
type mutation struct {
	userID  string
	op      Operation
	amount  int64
	reason  string
	actor   Actor
	orderID string
}

// compute derives the new balance and delta from the current balance.
// Validation that depends on the current value lives here so it re-runs on
// every CAS retry against the freshly read balance.
func (m mutation) compute(current int64) (newBalance, delta int64, err error) {
	switch m.op {
	case OpAdd:
		return current + m.amount, m.amount, nil
	case OpDeduct:
		if m.amount > current {
			return 0, 0, &InsufficientBalanceError{Current: current, Requested: m.amount}
		}
		return current - m.amount, -m.amount, nil
	case OpSet:
		return m.amount, m.amount - current, nil
	case OpMultiply:
		nb := current * m.amount / BasisPointsScale
		return nb, nb - current, nil
	default:
		return 0, 0, fmt.Errorf("ledger: unknown operation %q", m.op)
	}
}

func (s *Service) apply(ctx context.Context, m mutation) (*Entry, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.apply",
		traces.UserID(m.userID), traces.Operation(string(m.op)), traces.Amount(m.amount))
	defer span.End()

	// Only a stale CAS read is marked retryable; everything else aborts the
	// loop on first sight.
	backoff := retry.WithMaxRetries(casMaxAttempts-1,
		retry.WithJitterPercent(25, retry.NewExponential(casBaseDelay)))

	var entry *Entry
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.users.GetBalance(ctx, m.userID)
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}

		newBalance, delta, err := m.compute(current)
		if err != nil {
			return err
		}

		ok, err := s.users.CompareAndSetBalance(ctx, m.userID, current, newBalance)
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
		if !ok {
			metrics.LedgerCASRetriesTotal.Inc()
			return retry.RetryableError(errCASMiss)
		}

		entry = &Entry{
			UserID:          m.userID,
			ActorID:         m.actor.ID,
			ActorType:       m.actor.Type,
			Operation:       m.op,
			Delta:           delta,
			PreviousBalance: current,
			NewBalance:      newBalance,
			Reason:          m.reason,
			OrderID:         m.orderID,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errCASMiss) {
			err = ErrConcurrencyConflict
		}
		metrics.LedgerOperationsTotal.WithLabelValues(string(m.op), "error").Inc()
		return nil, err
	}

	// The balance is committed. For an order-stamped credit the append is
	// the claim on the order id: if the unique index rejects it, a racing
	// delivery of the same order already credited this user, so our balance
	// write must be reversed. Any other append failure leaves a gap that
	// Reconcile will surface, so log loudly and keep going.
	if err := s.store.Append(ctx, entry); err != nil {
		if m.orderID != "" && errors.Is(err, ErrDuplicateOrder) {
			s.reverse(ctx, m, entry)
			metrics.LedgerOperationsTotal.WithLabelValues(string(m.op), "error").Inc()
			return nil, ErrDuplicateOrder
		}
		metrics.LedgerAppendFailuresTotal.Inc()
		s.log(ctx).Error("ledger entry append failed after committed balance write; reconciliation needed",
			"user_id", m.userID,
			"operation", m.op,
			"delta", entry.Delta,
			"new_balance", entry.NewBalance,
			"order_id", m.orderID,
			"error", err,
		)
	} else if s.events != nil {
		s.events.PublishEntry(entry)
	}

	metrics.LedgerOperationsTotal.WithLabelValues(string(m.op), "success").Inc()
	return entry, nil
}

// reverse undoes a committed balance write whose entry lost the order-id
// claim to a concurrent delivery. No entry is recorded: the winning
// delivery's entry stands and this write nets out to nothing.
func (s *Service) reverse(ctx context.Context, m mutation, entry *Entry) {
	// The reversal must run even if the webhook request context died.
	ctx = context.WithoutCancel(ctx)

	backoff := retry.WithMaxRetries(casMaxAttempts-1,
		retry.WithJitterPercent(25, retry.NewExponential(casBaseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.users.GetBalance(ctx, m.userID)
		if err != nil {
			return err
		}
		next := current - entry.Delta
		if next < 0 {
			return fmt.Errorf("reversal would go negative: have %d, need %d", current, entry.Delta)
		}
		ok, err := s.users.CompareAndSetBalance(ctx, m.userID, current, next)
		if err != nil {
			return err
		}
		if !ok {
			metrics.LedgerCASRetriesTotal.Inc()
			return retry.RetryableError(errCASMiss)
		}
		return nil
	})
	if err != nil {
		s.log(ctx).Error("duplicate purchase reversal failed; reconciliation needed",
			"user_id", m.userID,
			"order_id", m.orderID,
			"delta", entry.Delta,
			"error", err,
		)
	}
}

// History returns transaction entries most-recent-first plus the total
// match count.
func (s *Service) History(ctx context.Context, f QueryFilter) ([]*Entry, int, error) {
	return s.store.Query(ctx, f)
}

// Balance returns the current token balance for a user.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.users.GetBalance(ctx, userID)
	if errors.Is(err, user.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	return balance, err
}

// Drift describes one user whose stored balance disagrees with the fold of
// their transaction entries.
type Drift struct {
	UserID          string `json:"userId"`
	StoredBalance   int64  `json:"storedBalance"`
	ComputedBalance int64  `json:"computedBalance"`
	EntryCount      int    `json:"entryCount"`
}

// Reconcile folds every user's entries and compares the result with the
// stored balance. Users whose entries sum to their balance are omitted;
// anything returned points at a lost append or an out-of-band write.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	computed := make(map[string]int64, len(users))
	counts := make(map[string]int, len(users))

	for offset := 0; ; offset += MaxQueryLimit {
		entries, total, err := s.store.Query(ctx, QueryFilter{Limit: MaxQueryLimit, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("query entries: %w", err)
		}
		for _, e := range entries {
			computed[e.UserID] += e.Delta
			counts[e.UserID]++
		}
		if offset+len(entries) >= total || len(entries) == 0 {
			break
		}
	}

	var drifts []Drift
	for _, u := range users {
		if u.TokenBalance == computed[u.ID] {
			continue
		}
		drifts = append(drifts, Drift{
			UserID:          u.ID,
			StoredBalance:   u.TokenBalance,
			ComputedBalance: computed[u.ID],
			EntryCount:      counts[u.ID],
		})
	}

	if len(drifts) > 0 {
		s.log(ctx).Warn("balance reconciliation found drift", "users", len(drifts))
	}
	return drifts, nil
}
