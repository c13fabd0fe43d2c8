package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/jobtrack/internal/platform/db"
	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// Repository provides PostgreSQL backed persistence. Lines and issues are
// stored as JSONB on the order row since they are always read and written
// with their order.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, id string) (Order, error)
	InsertOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, order Order) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const orderColumns = `id, job_id, role_id, role_name, order_type, supplier_id, supplier_name,
	lines, issues, estimated_delivery, status, created_at, updated_at`

// GetOrder returns a single order.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id = $1`, id)
	return scanOrder(row, id)
}

// ListByJob returns the orders of a job in creation order.
func (r *Repository) ListByJob(ctx context.Context, jobID string) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		order, err := scanOrder(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row, id)
}

func (t *txRepository) InsertOrder(ctx context.Context, order Order) error {
	lines, issues, err := encodeDetails(order)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO production_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.JobID, order.RoleID, order.RoleName, string(order.Type), order.SupplierID, order.SupplierName,
		lines, issues, order.EstimatedDelivery, string(order.Status), order.CreatedAt, order.UpdatedAt)
	return err
}

func (t *txRepository) UpdateOrder(ctx context.Context, order Order) error {
	lines, issues, err := encodeDetails(order)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE production_orders
		SET lines = $2, issues = $3, status = $4, estimated_delivery = $5, updated_at = $6
		WHERE id = $1`,
		order.ID, lines, issues, string(order.Status), order.EstimatedDelivery, order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("production order", order.ID)
	}
	return nil
}

func scanOrder(row pgx.Row, id string) (Order, error) {
	var (
		order             Order
		orderType, status string
		lines, issues     []byte
		estimated         *time.Time
	)
	err := row.Scan(&order.ID, &order.JobID, &order.RoleID, &order.RoleName, &orderType, &order.SupplierID, &order.SupplierName,
		&lines, &issues, &estimated, &status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NotFound("production order", id)
		}
		return Order{}, err
	}
	order.Type = OrderType(orderType)
	order.Status = Status(status)
	order.EstimatedDelivery = estimated
	if err := json.Unmarshal(lines, &order.Lines); err != nil {
		return Order{}, fmt.Errorf("decode order lines: %w", err)
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &order.Issues); err != nil {
			return Order{}, fmt.Errorf("decode order issues: %w", err)
		}
	}
	return order, nil
}

func encodeDetails(order Order) ([]byte, []byte, error) {
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, nil, err
	}
	issues := order.Issues
	if issues == nil {
		issues = []Issue{}
	}
	encodedIssues, err := json.Marshal(issues)
	if err != nil {
		return nil, nil, err
	}
	return lines, encodedIssues, nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
