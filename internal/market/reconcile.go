package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/metrics"
)

// Reader reads market totals. Head is the latest block the reader has seen.
type Reader interface {
	Totals(ctx context.Context, marketID string) (Totals, error)
	Head(ctx context.Context) (uint64, error)
}

// Index keeps the latest totals seen on the event bus. It trails the book by however long the bus takes to
// deliver, which makes it a stand-in for an external indexer.
type Index struct {
	mu     sync.RWMutex
	head   uint64
	totals map[string]Totals
}

func NewIndex(eb *event.Bus) *Index {
	idx := &Index{totals: make(map[string]Totals)}
	eb.Subscribe(EventNameTotalsChanged, idx.handle, event.WithConcurrency(1))

	return idx
}

func (i *Index) handle(_ context.Context, e event.Event) error {
	ev, ok := e.(EventTotalsChanged)
	if !ok {
		return errors.Internal(fmt.Errorf("unexpected event %T", e))
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.head = max(i.head, ev.Totals.Block)

	if cur, ok := i.totals[ev.MarketID]; ok && cur.Block >= ev.Totals.Block {
		return nil
	}
	i.totals[ev.MarketID] = ev.Totals

	return nil
}

func (i *Index) Totals(_ context.Context, marketID string) (Totals, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	t, ok := i.totals[marketID]
	if !ok {
		return Totals{}, errors.NotFound("market %s not indexed", marketID)
	}
	return t, nil
}

func (i *Index) Head(context.Context) (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.head, nil
}

// Reconciler decides which totals settle a market. Chain totals always win. Indexed totals are used only when
// the chain cannot be read and the index head is at most maxBlockLag blocks behind the chain head; otherwise the
// read fails as transient so the caller retries rather than settling on stale numbers.
type Reconciler struct {
	chain       Reader
	index       Reader
	maxBlockLag uint64
}

func NewReconciler(chain, index Reader, maxBlockLag uint64) *Reconciler {
	return &Reconciler{chain: chain, index: index, maxBlockLag: maxBlockLag}
}

func (r *Reconciler) Totals(ctx context.Context, marketID string) (Totals, error) {
	t, err := r.chain.Totals(ctx, marketID)
	if err == nil {
		if r.index != nil {
			if it, ierr := r.index.Totals(ctx, marketID); ierr == nil && it.Block != t.Block {
				slog.DebugContext(ctx, "market: index behind chain", "market", marketID,
					"chain_block", t.Block, "index_block", it.Block)
			}
		}
		return t, nil
	}
	if errors.Convert(err).Code == errors.CodeNotFound || r.index == nil {
		return Totals{}, err
	}

	head, herr := r.chain.Head(ctx)
	if herr != nil {
		return Totals{}, errors.Transient(err, "chain unavailable for market %s", marketID)
	}

	indexed, ierr := r.index.Head(ctx)
	if ierr != nil {
		return Totals{}, errors.Transient(err, "chain and index unavailable for market %s", marketID)
	}
	if head > indexed && head-indexed > r.maxBlockLag {
		return Totals{}, errors.Transient(err, "index is %d blocks behind the chain", head-indexed)
	}

	it, ierr := r.index.Totals(ctx, marketID)
	if ierr != nil {
		return Totals{}, errors.Transient(err, "chain unavailable and market %s not indexed", marketID)
	}

	metrics.IndexFallbacks.Inc()
	slog.WarnContext(ctx, "market: settling on indexed totals", "market", marketID, "index_head", indexed,
		"head", head, "error", err)

	return it, nil
}
