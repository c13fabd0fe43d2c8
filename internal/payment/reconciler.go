package payment

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jobtrack/internal/shared"
)

// Reconciler applies a Policy. It holds no state besides the policy and is
// safe for concurrent use.
type Reconciler struct {
	policy Policy
}

// NewReconciler builds a Reconciler. A zero tolerance is replaced by the default.
func NewReconciler(policy Policy) *Reconciler {
	def := DefaultPolicy()
	if policy.Tolerance.IsZero() {
		policy.Tolerance = def.Tolerance
	}
	if policy.ChequeWarnDays <= 0 {
		policy.ChequeWarnDays = def.ChequeWarnDays
	}
	return &Reconciler{policy: policy}
}

// Policy returns the active policy.
func (r *Reconciler) Policy() Policy { return r.policy }

// ChequeTotal uses the itemized sum when cheques were received with items,
// otherwise the declared total.
func ChequeTotal(block ChequeBlock) decimal.Decimal {
	if block.Received && len(block.Items) > 0 {
		return itemSum(block.Items)
	}
	return block.Total
}

// PaymentTotal is cash + card + cheque + after delivery.
func PaymentTotal(plan Plan) decimal.Decimal {
	return plan.Cash.Add(plan.Card).Add(ChequeTotal(plan.Cheque)).Add(plan.AfterDelivery)
}

// Reconcile computes totals and the match flag of plan against offerTotal.
func (r *Reconciler) Reconcile(plan Plan, offerTotal decimal.Decimal, today time.Time) Result {
	chequeTotal := ChequeTotal(plan.Cheque)
	paymentTotal := plan.Cash.Add(plan.Card).Add(chequeTotal).Add(plan.AfterDelivery)
	diff := paymentTotal.Sub(offerTotal)
	res := Result{
		ChequeTotal:       chequeTotal,
		PaymentTotal:      paymentTotal,
		OfferTotal:        offerTotal,
		Difference:        diff,
		IsMatch:           diff.Abs().LessThan(r.policy.Tolerance),
		AverageChequeDays: AverageChequeDays(plan.Cheque.Items, today),
	}
	if len(plan.Cheque.Items) > 0 && res.AverageChequeDays > float64(r.policy.ChequeWarnDays) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("average cheque maturity %.1f days exceeds %d days", res.AverageChequeDays, r.policy.ChequeWarnDays))
	}
	for _, c := range plan.Cheque.Items {
		if daysUntil(today, c.DueDate) < 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("cheque %s is past due (%s)", chequeLabel(c), c.DueDate.Format(time.DateOnly)))
		}
	}
	return res
}

// Validate reconciles plan and fails with ReconciliationMismatchError listing
// every problem found when the plan cannot complete an agreement.
func (r *Reconciler) Validate(plan Plan, offerTotal decimal.Decimal, today time.Time) (Result, error) {
	res := r.Reconcile(plan, offerTotal, today)
	var problems []string
	for name, v := range map[string]decimal.Decimal{
		"cash":           plan.Cash,
		"card":           plan.Card,
		"cheque total":   plan.Cheque.Total,
		"after delivery": plan.AfterDelivery,
	} {
		if v.IsNegative() {
			problems = append(problems, fmt.Sprintf("%s must not be negative", name))
		}
	}
	sort.Strings(problems)
	for i, c := range plan.Cheque.Items {
		if !c.Amount.IsPositive() {
			problems = append(problems, fmt.Sprintf("cheque %d: amount must be greater than zero", i+1))
		}
		if c.DueDate.IsZero() {
			problems = append(problems, fmt.Sprintf("cheque %d: due date required", i+1))
		}
	}
	if len(plan.Cheque.Items) > 0 {
		sum := itemSum(plan.Cheque.Items)
		if !sum.Equal(plan.Cheque.Total) {
			problems = append(problems, fmt.Sprintf("itemized cheques sum to %s but declared cheque total is %s", sum.StringFixed(2), plan.Cheque.Total.StringFixed(2)))
		}
		if plan.Cheque.Count > 0 && plan.Cheque.Count != len(plan.Cheque.Items) {
			problems = append(problems, fmt.Sprintf("cheque count %d does not match %d recorded cheques", plan.Cheque.Count, len(plan.Cheque.Items)))
		}
	}
	if !plan.Total.IsZero() && !plan.Total.Equal(res.PaymentTotal) {
		problems = append(problems, fmt.Sprintf("declared plan total %s differs from its parts %s", plan.Total.StringFixed(2), res.PaymentTotal.StringFixed(2)))
	}
	if !res.IsMatch {
		problems = append(problems, fmt.Sprintf("payment total %s does not match offer total %s (difference %s)",
			res.PaymentTotal.StringFixed(2), offerTotal.StringFixed(2), res.Difference.StringFixed(2)))
	}
	if len(problems) > 0 {
		return res, &shared.ReconciliationMismatchError{
			Expected: offerTotal.StringFixed(2),
			Actual:   res.PaymentTotal.StringFixed(2),
			Problems: problems,
		}
	}
	return res, nil
}

// Schedule orders cheques by due date and annotates them relative to today.
func (r *Reconciler) Schedule(items []Cheque, today time.Time) []ScheduledCheque {
	out := make([]ScheduledCheque, 0, len(items))
	for _, c := range items {
		days := daysUntil(today, c.DueDate)
		out = append(out, ScheduledCheque{
			Cheque:          c,
			DaysUntilDue:    days,
			Overdue:         days < 0,
			BeyondThreshold: days > r.policy.ChequeWarnDays,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

// DueWithin returns the scheduled cheques maturing in [0, days] days from today.
func (r *Reconciler) DueWithin(items []Cheque, today time.Time, days int) []ScheduledCheque {
	var out []ScheduledCheque
	for _, sc := range r.Schedule(items, today) {
		if sc.DaysUntilDue >= 0 && sc.DaysUntilDue <= days {
			out = append(out, sc)
		}
	}
	return out
}

// CheckCloseout requires previously received + received now + discount to
// equal the offer total with zero tolerance.
func CheckCloseout(offerTotal, preReceived, received, discount decimal.Decimal) error {
	var problems []string
	if received.IsNegative() || preReceived.IsNegative() {
		problems = append(problems, "received amounts must not be negative")
	}
	if discount.IsNegative() {
		problems = append(problems, "discount must not be negative")
	}
	sum := preReceived.Add(received).Add(discount)
	if !sum.Equal(offerTotal) {
		problems = append(problems, fmt.Sprintf("collected %s plus discount %s leaves %s open against offer total %s",
			preReceived.Add(received).StringFixed(2), discount.StringFixed(2), offerTotal.Sub(sum).StringFixed(2), offerTotal.StringFixed(2)))
	}
	if len(problems) == 0 {
		return nil
	}
	return &shared.ReconciliationMismatchError{Expected: offerTotal.StringFixed(2), Actual: sum.StringFixed(2), Problems: problems}
}

// ServiceStatus derives the collection state of a service job.
func ServiceStatus(totalCost, paid, discount decimal.Decimal) Status {
	settled := paid.Add(discount)
	switch {
	case settled.GreaterThanOrEqual(totalCost):
		return StatusPaid
	case settled.IsPositive():
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// AverageChequeDays is the amount weighted mean of max(0, days until due).
func AverageChequeDays(items []Cheque, today time.Time) float64 {
	weight := decimal.Zero
	acc := decimal.Zero
	for _, c := range items {
		if !c.Amount.IsPositive() {
			continue
		}
		days := daysUntil(today, c.DueDate)
		if days < 0 {
			days = 0
		}
		acc = acc.Add(c.Amount.Mul(decimal.NewFromInt(int64(days))))
		weight = weight.Add(c.Amount)
	}
	if weight.IsZero() {
		return 0
	}
	avg, _ := acc.DivRound(weight, 2).Float64()
	return avg
}

func itemSum(items []Cheque) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range items {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// daysUntil counts calendar days between the dates of today and due in UTC.
func daysUntil(today, due time.Time) int {
	from := truncateDay(today)
	to := truncateDay(due)
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func chequeLabel(c Cheque) string {
	switch {
	case c.Number != "":
		return c.Number
	case c.ID != "":
		return c.ID
	default:
		return c.Amount.StringFixed(2)
	}
}

func asMismatch(err error) *shared.ReconciliationMismatchError {
	var m *shared.ReconciliationMismatchError
	if errors.As(err, &m) {
		return m
	}
	return nil
}
