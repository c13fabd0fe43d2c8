package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// RepositoryPort abstracts repository usage for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListItems(ctx context.Context) ([]Item, error)
	GetItems(ctx context.Context, ids []string) (map[string]Item, error)
}

// IdempotencyPort guards batch retries.
type IdempotencyPort interface {
	Claim(ctx context.Context, module, key string) error
	Forget(ctx context.Context, module, key string) error
	Seen(ctx context.Context, module, key string) (bool, error)
}

// BatchObserver receives one call per attempted batch.
type BatchObserver interface {
	ObserveLedgerBatch(op string, lines int, err error)
}

// Ledger applies reserve/consume batches. Every batch is all-or-nothing.
type Ledger struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	observer    BatchObserver
	logger      *slog.Logger
	now         func() time.Time
}

// NewLedger builds Ledger. idem and observer may be nil.
func NewLedger(repo RepositoryPort, idem IdempotencyPort, observer BatchObserver, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, idempotency: idem, observer: observer, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Items lists the catalog with live counters.
func (l *Ledger) Items(ctx context.Context) ([]Item, error) {
	return l.repo.ListItems(ctx)
}

// Item returns a single item.
func (l *Ledger) Item(ctx context.Context, id string) (Item, error) {
	items, err := l.repo.GetItems(ctx, []string{id})
	if err != nil {
		return Item{}, err
	}
	item, ok := items[id]
	if !ok {
		return Item{}, shared.NotFound("stock item", id)
	}
	return item, nil
}

// Preview projects lines against current counters without mutating anything.
func (l *Ledger) Preview(ctx context.Context, lines []Line) ([]Projection, error) {
	merged, order, err := normalise(lines)
	if err != nil {
		return nil, err
	}
	items, err := l.repo.GetItems(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := missingItems(items, order); err != nil {
		return nil, err
	}
	out := make([]Projection, 0, len(order))
	for _, id := range order {
		out = append(out, project(items[id], merged[id]))
	}
	return out, nil
}

// Reserve adds qty to reserved for every line. The batch fails as a whole with
// InsufficientStockError if any line would push reserved above on hand.
func (l *Ledger) Reserve(ctx context.Context, batch Batch) (BatchResult, error) {
	return l.apply(ctx, OpReserve, batch)
}

// Consume deducts qty from on hand and from reserved (clamped at zero). Lines
// exceeding on hand reject the whole batch. Lines exceeding available are
// allowed and flagged with UsesReservedStock.
func (l *Ledger) Consume(ctx context.Context, batch Batch) (BatchResult, error) {
	return l.apply(ctx, OpConsume, batch)
}

// Release drops reservations (clamped at zero). It compensates a committed
// Reserve and never fails on counters.
func (l *Ledger) Release(ctx context.Context, batch Batch) (BatchResult, error) {
	return l.apply(ctx, OpRelease, batch)
}

// Applied reports whether a batch with key was already committed for op.
func (l *Ledger) Applied(ctx context.Context, op Operation, key string) (bool, error) {
	if l.idempotency == nil || key == "" {
		return false, nil
	}
	return l.idempotency.Seen(ctx, batchModule(op), key)
}

// Forget drops the claim on key so a batch undone by a compensating
// operation can be applied again.
func (l *Ledger) Forget(ctx context.Context, op Operation, key string) error {
	if l.idempotency == nil || key == "" {
		return nil
	}
	return l.idempotency.Forget(ctx, batchModule(op), key)
}

func batchModule(op Operation) string {
	return "stock." + string(op)
}

func (l *Ledger) apply(ctx context.Context, op Operation, batch Batch) (result BatchResult, err error) {
	defer func() {
		if l.observer != nil {
			l.observer.ObserveLedgerBatch(string(op), len(batch.Lines), err)
		}
	}()
	merged, order, err := normalise(batch.Lines)
	if err != nil {
		return BatchResult{}, err
	}
	module := batchModule(op)
	claimed := false
	if l.idempotency != nil && batch.Key != "" {
		if err := l.idempotency.Claim(ctx, module, batch.Key); err != nil {
			return BatchResult{}, err
		}
		claimed = true
	}
	now := l.now()
	result = BatchResult{Op: op, Reference: batch.Reference, AppliedAt: now}
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items, err := tx.GetItemsForUpdate(ctx, order)
		if err != nil {
			return err
		}
		if err := missingItems(items, order); err != nil {
			return err
		}
		var shortfalls []shared.Shortfall
		updated := make([]Item, 0, len(order))
		lines := make([]LineResult, 0, len(order))
		for _, id := range order {
			item := items[id]
			qty := merged[id]
			usesReserved := false
			switch op {
			case OpReserve:
				if item.Reserved+qty > item.OnHand+qtyEpsilon {
					shortfalls = append(shortfalls, shortfallOf(item, qty, item.Reserved+qty-item.OnHand))
					continue
				}
				item.Reserved += qty
			case OpConsume:
				if qty > item.OnHand+qtyEpsilon {
					shortfalls = append(shortfalls, shortfallOf(item, qty, qty-item.OnHand))
					continue
				}
				usesReserved = usesReservedStock(item, qty)
				item.OnHand = clampZero(item.OnHand - qty)
				item.Reserved = clampZero(item.Reserved - qty)
			case OpRelease:
				item.Reserved = clampZero(item.Reserved - qty)
			default:
				return fmt.Errorf("stock: unknown operation %q", op)
			}
			item.UpdatedAt = now
			updated = append(updated, item)
			lines = append(lines, resultFor(item, qty, usesReserved))
		}
		if len(shortfalls) > 0 {
			return &shared.InsufficientStockError{Op: string(op), Shortfalls: shortfalls}
		}
		for i, item := range updated {
			if err := tx.UpdateCounters(ctx, item); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, Movement{
				Op:        op,
				ItemID:    item.ID,
				Qty:       lines[i].Qty,
				Reference: batch.Reference,
				OnHand:    item.OnHand,
				Reserved:  item.Reserved,
				At:        now,
			}); err != nil {
				return err
			}
		}
		result.Lines = lines
		return nil
	})
	if err != nil {
		if claimed {
			if ferr := l.idempotency.Forget(ctx, module, batch.Key); ferr != nil {
				l.logger.Warn("stock: forget idempotency key", slog.String("key", batch.Key), slog.Any("error", ferr))
			}
		}
		return BatchResult{}, err
	}
	for _, line := range result.Lines {
		if line.LowStock {
			l.logger.Warn("stock: critical item exhausted", slog.String("item_id", line.ItemID), slog.String("reference", batch.Reference))
		}
	}
	return result, nil
}

// normalise merges duplicate item lines so each item is checked once against
// its combined quantity. The returned ids are sorted to give a stable lock order.
func normalise(lines []Line) (map[string]float64, []string, error) {
	if len(lines) == 0 {
		return nil, nil, ErrEmptyBatch
	}
	merged := make(map[string]float64, len(lines))
	var problems []string
	for i, line := range lines {
		if line.ItemID == "" {
			problems = append(problems, fmt.Sprintf("line %d: %s", i+1, ErrItemRequired))
			continue
		}
		if line.Qty <= 0 {
			problems = append(problems, fmt.Sprintf("line %d: %s", i+1, ErrInvalidQuantity))
			continue
		}
		merged[line.ItemID] += line.Qty
	}
	if len(problems) > 0 {
		return nil, nil, shared.NewValidationError(problems)
	}
	order := make([]string, 0, len(merged))
	for id := range merged {
		order = append(order, id)
	}
	sort.Strings(order)
	return merged, order, nil
}

func missingItems(items map[string]Item, order []string) error {
	var missing []string
	for _, id := range order {
		if _, ok := items[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return shared.NotFound("stock item", strings.Join(missing, ", "))
}

func shortfallOf(item Item, qty, missing float64) shared.Shortfall {
	return shared.Shortfall{
		ItemID:    item.ID,
		Name:      item.Name,
		Requested: qty,
		OnHand:    item.OnHand,
		Reserved:  item.Reserved,
		Missing:   missing,
	}
}
