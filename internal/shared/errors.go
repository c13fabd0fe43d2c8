package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a precondition or input check failed.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a ledger batch would push reserved above on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReconciliation indicates a payment plan does not balance against its offer.
	ErrReconciliation = errors.New("payment reconciliation mismatch")
	// ErrConflict indicates a concurrent writer changed the record first.
	ErrConflict = errors.New("concurrent update")
)

// Problem is implemented by errors that can be presented as a list of messages.
type Problem interface {
	error
	Messages() []string
}

// Messages extracts every human readable message carried by err.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var p Problem
	if errors.As(err, &p) {
		return p.Messages()
	}
	return []string{err.Error()}
}

// ValidationError lists every violated condition of a rejected request.
type ValidationError struct {
	Problems []string
}

// NewValidationError returns nil when problems is empty.
func NewValidationError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: append([]string(nil), problems...)}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Messages implements Problem.
func (e *ValidationError) Messages() []string { return append([]string(nil), e.Problems...) }

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Shortfall describes how far one ledger line misses its bound.
type Shortfall struct {
	ItemID    string
	Name      string
	Requested float64
	OnHand    float64
	Reserved  float64
	Missing   float64
}

// InsufficientStockError carries the per item shortfall of a rejected batch.
type InsufficientStockError struct {
	Op         string
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: insufficient stock: %s", e.Op, strings.Join(e.Messages(), "; "))
}

// Messages implements Problem.
func (e *InsufficientStockError) Messages() []string {
	out := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		label := s.ItemID
		if s.Name != "" {
			label = fmt.Sprintf("%s (%s)", s.Name, s.ItemID)
		}
		out = append(out, fmt.Sprintf("%s: requested %g, on hand %g, reserved %g, missing %g",
			label, s.Requested, s.OnHand, s.Reserved, s.Missing))
	}
	return out
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ReconciliationMismatchError reports why a payment plan does not balance.
type ReconciliationMismatchError struct {
	Expected string
	Actual   string
	Problems []string
}

func (e *ReconciliationMismatchError) Error() string {
	return "payment reconciliation: " + strings.Join(e.Problems, "; ")
}

// Messages implements Problem.
func (e *ReconciliationMismatchError) Messages() []string {
	return append([]string(nil), e.Problems...)
}

// Is lets errors.Is match ErrReconciliation.
func (e *ReconciliationMismatchError) Is(target error) bool { return target == ErrReconciliation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Messages implements Problem.
func (e *NotFoundError) Messages() []string { return []string{e.Error()} }

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}
