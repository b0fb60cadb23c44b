// Package payout executes settlement plans against a ledger, one transfer per plan entry.
package payout

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/metrics"
	"github.com/sam-thetutor/wahala/internal/settlement"
	"github.com/sam-thetutor/wahala/internal/store"
)

const (
	defaultConcurrency = 4
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
)

// Ledger moves funds. Implementations may be slow and may fail on any call.
type Ledger interface {
	Transfer(ctx context.Context, recipient string, amount decimal.Decimal, token string) (ref string, err error)
}

type Config struct {
	Store  store.Store
	Ledger Ledger

	Concurrency int
	MaxAttempts int
	RetryDelay  time.Duration
}

type Dispatcher struct {
	store  store.Store
	ledger Ledger

	concurrency int
	maxAttempts int
	retryDelay  time.Duration

	mu       sync.Mutex
	inflight map[string]chan struct{}

	now func() time.Time
}

func NewDispatcher(c Config) *Dispatcher {
	d := &Dispatcher{
		store:       c.Store,
		ledger:      c.Ledger,
		concurrency: c.Concurrency,
		maxAttempts: c.MaxAttempts,
		retryDelay:  c.RetryDelay,
		inflight:    make(map[string]chan struct{}),
		now:         time.Now,
	}
	if d.concurrency <= 0 {
		d.concurrency = defaultConcurrency
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.retryDelay <= 0 {
		d.retryDelay = defaultRetryDelay
	}

	return d
}

// Dispatch pays every entry of plan and reports each record change to onUpdate, which may be called from
// several goroutines at once. Entries already paid by an earlier dispatch of the same plan are not paid again.
// A failed entry never stops the others; the returned summary counts both outcomes. Dispatches of the same plan
// run one at a time, so a concurrent caller sees the first one's payments as history.
func (d *Dispatcher) Dispatch(ctx context.Context, plan domain.SettlementPlan, onUpdate func(domain.PayoutRecord)) (domain.PayoutSummary, error) {
	if onUpdate == nil {
		onUpdate = func(domain.PayoutRecord) {}
	}

	release, err := d.acquire(ctx, plan.PlanID)
	if err != nil {
		return domain.PayoutSummary{}, err
	}
	defer release()

	if err := d.store.SavePlan(ctx, plan); err != nil {
		return domain.PayoutSummary{}, err
	}

	history, err := d.store.ListPayoutRecords(ctx, plan.PlanID)
	if err != nil {
		return domain.PayoutSummary{}, err
	}

	last := make(map[string]domain.PayoutRecord, len(history))
	for _, r := range history {
		k := settlement.EntryKey(r.PlanID, domain.PlanEntry{Recipient: r.Recipient, Rank: r.Rank})
		if prev, ok := last[k]; !ok || r.Attempt > prev.Attempt {
			last[k] = r
		}
	}

	var (
		mu      sync.Mutex
		summary = domain.PayoutSummary{PlanID: plan.PlanID, TotalDistributed: decimal.Zero}
	)
	tally := func(r domain.PayoutRecord) {
		mu.Lock()
		defer mu.Unlock()

		if r.Status == domain.PayoutSuccess {
			summary.Succeeded++
			summary.TotalDistributed = summary.TotalDistributed.Add(r.Amount)
		} else {
			summary.Failed++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, e := range plan.Entries {
		e := e
		prev, seen := last[settlement.EntryKey(plan.PlanID, e)]
		if seen && prev.Status == domain.PayoutSuccess {
			slog.InfoContext(ctx, "payout: entry already paid", "plan", plan.PlanID, "recipient", e.Recipient, "ref", prev.TransferRef)
			onUpdate(prev)
			tally(prev)
			continue
		}

		g.Go(func() error {
			tally(d.pay(gctx, plan, e, prev.Attempt, onUpdate))
			return nil
		})
	}

	_ = g.Wait()

	slog.InfoContext(ctx, "payout: plan dispatched",
		"plan", plan.PlanID, "succeeded", summary.Succeeded, "failed", summary.Failed, "total", summary.TotalDistributed)

	return summary, ctx.Err()
}

// acquire waits until no other dispatch of planID is running.
func (d *Dispatcher) acquire(ctx context.Context, planID string) (func(), error) {
	for {
		d.mu.Lock()
		busy, ok := d.inflight[planID]
		if !ok {
			done := make(chan struct{})
			d.inflight[planID] = done
			d.mu.Unlock()

			return func() {
				d.mu.Lock()
				delete(d.inflight, planID)
				d.mu.Unlock()
				close(done)
			}, nil
		}
		d.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pay transfers one entry, retrying transient failures. Every attempt leaves its own record behind.
func (d *Dispatcher) pay(ctx context.Context, plan domain.SettlementPlan, e domain.PlanEntry, prevAttempt int, onUpdate func(domain.PayoutRecord)) domain.PayoutRecord {
	var r domain.PayoutRecord
	for i := 1; i <= d.maxAttempts; i++ {
		attempt := prevAttempt + i
		r = domain.PayoutRecord{
			RecordID:  settlement.EntryKey(plan.PlanID, e) + "#" + strconv.Itoa(attempt),
			PlanID:    plan.PlanID,
			Rank:      e.Rank,
			Recipient: e.Recipient,
			Amount:    e.Amount,
			Token:     plan.Token,
			Attempt:   attempt,
			Status:    domain.PayoutPending,
		}
		d.save(ctx, &r, onUpdate)

		ref, err := d.ledger.Transfer(ctx, e.Recipient, e.Amount, plan.Token)
		if err == nil {
			r.Status = domain.PayoutSuccess
			r.TransferRef = ref
			d.save(ctx, &r, onUpdate)
			metrics.Payouts.WithLabelValues(string(domain.PayoutSuccess)).Inc()
			return r
		}

		r.Status = domain.PayoutFailed
		r.Error = err.Error()
		d.save(ctx, &r, onUpdate)
		metrics.Payouts.WithLabelValues(string(domain.PayoutFailed)).Inc()

		slog.WarnContext(ctx, "payout: transfer failed",
			"plan", plan.PlanID, "recipient", e.Recipient, "attempt", attempt, "error", err)

		if !retryable(err) || i == d.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return r
		case <-time.After(d.retryDelay * time.Duration(i)):
		}
	}

	return r
}

func (d *Dispatcher) save(ctx context.Context, r *domain.PayoutRecord, onUpdate func(domain.PayoutRecord)) {
	r.UpdateTime = d.now()
	// The store write uses a detached context so that a cancelled dispatch still leaves its audit trail.
	if err := d.store.SavePayoutRecord(context.WithoutCancel(ctx), *r); err != nil {
		slog.ErrorContext(ctx, "payout: save record", "record", r.RecordID, "error", err)
	}
	onUpdate(*r)
}

func retryable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch errors.Convert(err).Code {
	case errors.CodeInvalidArgument, errors.CodeFailedPrecondition, errors.CodePermissionDenied, errors.CodeNotFound:
		return false
	default:
		return true
	}
}
