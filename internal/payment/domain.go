// Package payment balances payment plans against offers and schedules cheques.
// All amounts are decimal so tolerance checks are exact.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the business constants of reconciliation.
type Policy struct {
	// Tolerance is the absolute difference below which a plan matches its offer.
	Tolerance decimal.Decimal
	// ChequeWarnDays is the weighted average maturity above which a warning is raised.
	ChequeWarnDays int
}

// DefaultPolicy returns the production values: 0.01 tolerance and 90 days.
func DefaultPolicy() Policy {
	return Policy{Tolerance: decimal.New(1, -2), ChequeWarnDays: 90}
}

// Cheque is a single itemized cheque.
type Cheque struct {
	ID      string          `json:"id,omitempty"`
	Number  string          `json:"number,omitempty"`
	Bank    string          `json:"bank,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// ChequeBlock is the cheque part of a plan. Total is the manually declared
// amount; Items are present when individual cheques were recorded.
type ChequeBlock struct {
	Total    decimal.Decimal `json:"total"`
	Received bool            `json:"received"`
	Count    int             `json:"count"`
	Items    []Cheque        `json:"items,omitempty"`
}

// Plan is how the customer pays an offer.
type Plan struct {
	Cash          decimal.Decimal `json:"cash"`
	Card          decimal.Decimal `json:"card"`
	Cheque        ChequeBlock     `json:"cheque"`
	AfterDelivery decimal.Decimal `json:"after_delivery"`
	Total         decimal.Decimal `json:"total"`
}

// Result is the outcome of Reconcile. It is informational; Validate turns a
// failing result into an error.
type Result struct {
	ChequeTotal       decimal.Decimal `json:"cheque_total"`
	PaymentTotal      decimal.Decimal `json:"payment_total"`
	OfferTotal        decimal.Decimal `json:"offer_total"`
	Difference        decimal.Decimal `json:"difference"`
	IsMatch           bool            `json:"is_match"`
	AverageChequeDays float64         `json:"average_cheque_days"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// ScheduledCheque is a cheque placed on the collection calendar.
type ScheduledCheque struct {
	Cheque
	DaysUntilDue int  `json:"days_until_due"`
	Overdue      bool `json:"overdue"`
	// BeyondThreshold is set when the cheque matures later than the policy allows without warning.
	BeyondThreshold bool `json:"beyond_threshold"`
}

// Status is the collection state of a service job.
type Status string

const (
	StatusUnpaid  Status = "UNPAID"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
)
