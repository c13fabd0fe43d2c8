package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jobtrack/internal/platform/db"
)

// Repository persists ledger counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	// GetItemsForUpdate locks the rows in id order.
	GetItemsForUpdate(ctx context.Context, ids []string) (map[string]Item, error)
	UpdateCounters(ctx context.Context, item Item) error
	InsertMovement(ctx context.Context, m Movement) error
}

type txRepository struct {
	tx pgx.Tx
}

const itemColumns = `id, name, product_code, color_code, on_hand, reserved, unit, critical, updated_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListItems returns the whole catalog ordered by name.
func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// GetItems loads the given ids. Missing ids are simply absent from the map.
func (r *Repository) GetItems(ctx context.Context, ids []string) (map[string]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return indexItems(items), nil
}

func (r *txRepository) GetItemsForUpdate(ctx context.Context, ids []string) (map[string]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return indexItems(items), nil
}

func (r *txRepository) UpdateCounters(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items SET on_hand=$2, reserved=$3, updated_at=$4 WHERE id=$1`,
		item.ID, item.OnHand, item.Reserved, item.UpdatedAt)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (op, item_id, qty, reference, on_hand_after, reserved_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, string(m.Op), m.ItemID, m.Qty, m.Reference, m.OnHand, m.Reserved, m.At)
	return err
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.ProductCode, &item.ColorCode, &item.OnHand, &item.Reserved, &item.Unit, &item.Critical, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func indexItems(items []Item) map[string]Item {
	out := make(map[string]Item, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}
