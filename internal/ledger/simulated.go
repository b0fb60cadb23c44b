// Package ledger provides an in-process ledger used when no settlement chain is configured.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sam-thetutor/wahala/internal/errors"
)

// Treasury is the account every transfer is debited from.
const Treasury = "treasury"

type Transfer struct {
	Ref       string
	From      string
	To        string
	Amount    decimal.Decimal
	Token     string
	Timestamp time.Time
}

// Simulated keeps balances per token and account in memory. It can be told to fail transfers to a recipient,
// which is how tests and demos exercise the payout retry path.
type Simulated struct {
	mu        sync.Mutex
	balances  map[string]map[string]decimal.Decimal
	transfers []Transfer
	failures  map[string]int
	latency   time.Duration
}

func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{
		balances: make(map[string]map[string]decimal.Decimal),
		failures: make(map[string]int),
		latency:  latency,
	}
}

// Fund credits account with amount of token.
func (l *Simulated) Fund(account, token string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(account, token, amount)
}

// FailNext makes the next n transfers to recipient fail with a transient error.
func (l *Simulated) FailNext(recipient string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[recipient] = n
}

func (l *Simulated) Balance(account, token string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[token][account]
}

func (l *Simulated) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// Transfer moves amount of token from the treasury to recipient.
func (l *Simulated) Transfer(ctx context.Context, recipient string, amount decimal.Decimal, token string) (string, error) {
	if !amount.IsPositive() {
		return "", errors.Validation("transfer amount must be positive, got %s", amount)
	}

	if l.latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.latency):
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.failures[recipient]; n > 0 {
		l.failures[recipient] = n - 1
		return "", errors.Transient(nil, "ledger unavailable for %s", recipient)
	}

	if l.balances[token][Treasury].LessThan(amount) {
		return "", errors.Precondition(errors.ReasonInsufficientFunds, "treasury holds %s %s, cannot send %s", l.balances[token][Treasury], token, amount)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Internal(err)
	}

	l.credit(Treasury, token, amount.Neg())
	l.credit(recipient, token, amount)
	t := Transfer{
		Ref:       "sim-" + id.String(),
		From:      Treasury,
		To:        recipient,
		Amount:    amount,
		Token:     token,
		Timestamp: time.Now(),
	}
	l.transfers = append(l.transfers, t)

	slog.DebugContext(ctx, "ledger: transfer", "ref", t.Ref, "to", recipient, "amount", amount, "token", token)

	return t.Ref, nil
}

func (l *Simulated) credit(account, token string, amount decimal.Decimal) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[string]decimal.Decimal)
	}
	l.balances[token][account] = l.balances[token][account].Add(amount)
}
