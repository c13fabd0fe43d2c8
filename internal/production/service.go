package production

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// RepositoryPort abstracts order persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id string) (Order, error)
	ListByJob(ctx context.Context, jobID string) ([]Order, error)
}

// Tracker manages production orders.
type Tracker struct {
	repo   RepositoryPort
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
	newID  func() string
}

// NewTracker constructs a Tracker.
func NewTracker(repo RepositoryPort, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
}

// CreateOrder stores a new order with nothing received.
func (t *Tracker) CreateOrder(ctx context.Context, in CreateInput) (Order, error) {
	if err := shared.NewValidationError(ValidateCreate(in)); err != nil {
		return Order{}, err
	}
	now := t.now()
	order := Order{
		ID:                t.newID(),
		JobID:             in.JobID,
		RoleID:            in.RoleID,
		RoleName:          in.RoleName,
		Type:              in.Type,
		SupplierID:        in.SupplierID,
		SupplierName:      in.SupplierName,
		EstimatedDelivery: in.EstimatedDelivery,
		Status:            StatusOrdered,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.Lines = make([]Line, len(in.Lines))
	for i, l := range in.Lines {
		l.ReceivedQty = 0
		order.Lines[i] = l
	}
	err := t.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	t.group.Forget(order.JobID)
	t.logger.Info("production order created", slog.String("order_id", order.ID), slog.String("job_id", order.JobID), slog.String("type", string(order.Type)))
	return order, nil
}

// Get returns a single order.
func (t *Tracker) Get(ctx context.Context, id string) (Order, error) {
	return t.repo.GetOrder(ctx, id)
}

// ListByJob returns the orders of a job. Concurrent callers for the same job
// share one query, which runs detached from any single caller's cancellation.
func (t *Tracker) ListByJob(ctx context.Context, jobID string) ([]Order, error) {
	query := context.WithoutCancel(ctx)
	ch := t.group.DoChan(jobID, func() (any, error) {
		return t.repo.ListByJob(query, jobID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		orders := res.Val.([]Order)
		return append([]Order(nil), orders...), nil
	}
}

// RecordDelivery applies delivery lines to an order under a row lock.
func (t *Tracker) RecordDelivery(ctx context.Context, orderID string, delivery []DeliveryLine) (Order, error) {
	var updated Order
	err := t.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		next, problems := ApplyDelivery(order, delivery, t.now())
		if err := shared.NewValidationError(problems); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	// later readers must not join a listing that started before this commit
	t.group.Forget(updated.JobID)
	t.logger.Info("production delivery recorded",
		slog.String("order_id", updated.ID),
		slog.String("job_id", updated.JobID),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// ResolveIssue marks one issue as resolved.
func (t *Tracker) ResolveIssue(ctx context.Context, orderID string, index int, note string) (Order, error) {
	var updated Order
	err := t.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(order.Issues) {
			return shared.NotFound("production issue", orderID+"#"+itoa(index))
		}
		if order.Issues[index].Status == IssueResolved {
			return shared.NewValidationError([]string{"issue already resolved"})
		}
		now := t.now()
		order.Issues = append([]Issue(nil), order.Issues...)
		order.Issues[index].Status = IssueResolved
		order.Issues[index].ResolvedAt = &now
		if note != "" {
			order.Issues[index].Note = note
		}
		order.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	t.group.Forget(updated.JobID)
	return updated, nil
}

// Readiness loads the job's orders and folds them over roles.
func (t *Tracker) Readiness(ctx context.Context, jobID string, roles []RoleRequirement) (Report, error) {
	orders, err := t.ListByJob(ctx, jobID)
	if err != nil {
		return Report{}, err
	}
	return Readiness(roles, orders), nil
}
