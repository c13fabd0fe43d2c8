package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/shared"
	"github.com/odyssey-erp/jobtrack/internal/stock"
)

// Patch carries the stage specific input of a transition. Only the part that
// belongs to the target stage is read; unrelated job fields are never replaced.
type Patch struct {
	Roles          []Role               `json:"roles,omitempty"`
	Measure        *MeasurePatch        `json:"measure,omitempty"`
	Offer          *OfferPatch          `json:"offer,omitempty"`
	Discount       *DiscountPatch       `json:"discount,omitempty"`
	Rejection      *RejectionPatch      `json:"rejection,omitempty"`
	PaymentPlan    *payment.Plan        `json:"payment_plan,omitempty"`
	Stock          *StockPatch          `json:"stock,omitempty"`
	Assembly       *AssemblyPatch       `json:"assembly,omitempty"`
	Finance        *FinancePatch        `json:"finance,omitempty"`
	Visit          *VisitPatch          `json:"visit,omitempty"`
	ServicePayment *ServicePaymentPatch `json:"service_payment,omitempty"`
	Note           string               `json:"note,omitempty"`
}

// MeasurePatch schedules or records a measurement.
type MeasurePatch struct {
	AppointmentDate *time.Time `json:"appointment_date"`
	MeasuredAt      *time.Time `json:"measured_at"`
	Note            string     `json:"note"`
}

// OfferPatch prices the job per role, or with a single total when the job has
// no per role breakdown.
type OfferPatch struct {
	RolePrices   map[string]decimal.Decimal `json:"role_prices"`
	Total        *decimal.Decimal           `json:"total"`
	NotifiedDate *time.Time                 `json:"notified_date"`
}

// DiscountPatch negotiates the active offer down.
type DiscountPatch struct {
	RoleDiscounts map[string]decimal.Decimal `json:"role_discounts"`
	// DiscountTotal is used when no role breakdown is given.
	DiscountTotal *decimal.Decimal `json:"discount_total"`
	Note          string           `json:"note"`
}

// RejectionPatch records why the price was declined.
type RejectionPatch struct {
	Category     string     `json:"category"`
	Reason       string     `json:"reason"`
	FollowUpDate *time.Time `json:"follow_up_date"`
}

// StockPatch drives the stock stage.
type StockPatch struct {
	Items         []stock.Line `json:"items"`
	PurchaseNotes string       `json:"purchase_notes"`
	EstimatedDate *time.Time   `json:"estimated_date"`
	// ConfirmReservedUse accepts consuming stock reserved by other jobs.
	ConfirmReservedUse bool `json:"confirm_reserved_use"`
	// PurchaseReceived states that pending purchase lines arrived and may be consumed.
	PurchaseReceived bool `json:"purchase_received"`
}

// AssemblyPatch schedules installation.
type AssemblyPatch struct {
	Date *time.Time `json:"date"`
	Note string     `json:"note"`
}

// FinancePatch closes the books of a job.
type FinancePatch struct {
	// PreReceived overrides what was collected before closeout.
	PreReceived *decimal.Decimal `json:"pre_received"`
	Received    decimal.Decimal  `json:"received"`
	Discount    decimal.Decimal  `json:"discount"`
}

// VisitPatch schedules or completes a service visit.
type VisitPatch struct {
	AppointmentDate *time.Time      `json:"appointment_date"`
	AppointmentTime string          `json:"appointment_time"`
	WorkNote        string          `json:"work_note"`
	Materials       []string        `json:"materials"`
	ExtraCost       decimal.Decimal `json:"extra_cost"`
	// Next schedules a follow-up visit when going back to the appointment status.
	Next *VisitPatch `json:"next"`
}

// ServicePaymentPatch settles a service job.
type ServicePaymentPatch struct {
	Payments []ServicePayment `json:"payments"`
	Discount decimal.Decimal  `json:"discount"`
}

// Env is the read-only context a transition is evaluated in. The engine
// preloads whatever the target stage needs.
type Env struct {
	Now        time.Time
	NewID      func() string
	Reconciler *payment.Reconciler
	// MissingDrawings lists absent per role drawings, used by customer measured jobs.
	MissingDrawings []string
	// Orders are the production orders of the job.
	Orders []production.Order
}

// Apply evaluates a transition without side effects. On error job is returned
// untouched by the caller's perspective; on success Outcome carries the next
// job and exactly one log entry.
func Apply(job Job, target Status, patch Patch, env Env) (Outcome, error) {
	if env.Now.IsZero() {
		env.Now = time.Now().UTC()
	}
	if env.Reconciler == nil {
		env.Reconciler = payment.NewReconciler(payment.DefaultPolicy())
	}
	if err := checkAllowed(job, target); err != nil {
		return Outcome{}, shared.NewValidationError([]string{err.Error()})
	}
	t := &transition{
		from:  job.Status,
		to:    target,
		next:  job.Clone(),
		patch: patch,
		env:   env,
		meta:  map[string]any{},
	}
	t.applyRoles()
	t.run()
	if err := t.err(); err != nil {
		return Outcome{}, err
	}
	t.next.Status = target
	t.next.UpdatedAt = env.Now
	stage := CurrentStage(t.next)
	t.meta["from"] = string(t.from)
	t.meta["to"] = string(target)
	t.meta["stage"] = string(stage.Key)
	if patch.Note != "" {
		t.meta["note"] = patch.Note
	}
	action := t.action
	if action == "" {
		action = "status.changed"
	}
	return Outcome{
		Job:   t.next,
		Log:   LogEntry{Action: action, Detail: fmt.Sprintf("%s: %s → %s", stage.Key, t.from, target), Meta: t.meta},
		Stock: t.stock,
	}, nil
}

// Negotiate records a discount on the active offer without changing status.
func Negotiate(job Job, discount DiscountPatch, now time.Time) (Job, LogEntry, error) {
	if job.Status != StatusPriceGiven && job.Status != StatusAgreement {
		return Job{}, LogEntry{}, shared.NewValidationError([]string{fmt.Sprintf("offer cannot be negotiated in status %s", job.Status)})
	}
	next := job.Clone()
	entry, problems := negotiate(&next, discount, now)
	if err := shared.NewValidationError(problems); err != nil {
		return Job{}, LogEntry{}, err
	}
	next.UpdatedAt = now
	return next, LogEntry{
		Action: "offer.negotiated",
		Detail: fmt.Sprintf("offer %s → %s", entry.OriginalTotal.StringFixed(2), entry.FinalTotal.StringFixed(2)),
		Meta:   negotiationMeta(entry),
	}, nil
}

type transition struct {
	from, to Status
	next     Job
	patch    Patch
	env      Env
	meta     map[string]any
	action   string
	stock    *StockIntent
	problems []string
	typedErr error
}

func (t *transition) fail(format string, args ...any) {
	t.problems = append(t.problems, fmt.Sprintf(format, args...))
}

func (t *transition) err() error {
	if t.typedErr != nil && len(t.problems) == 0 {
		return t.typedErr
	}
	if t.typedErr != nil {
		t.problems = append(t.problems, shared.Messages(t.typedErr)...)
	}
	return shared.NewValidationError(t.problems)
}

func (t *transition) applyRoles() {
	if t.patch.Roles == nil {
		return
	}
	idx, _ := StageIndex(t.next.StartType, t.from)
	if t.next.StartType == StartService || idx > 1 {
		t.fail("roles can only change during measure or pricing")
		return
	}
	seen := make(map[string]bool, len(t.patch.Roles))
	for i, r := range t.patch.Roles {
		if r.ID == "" {
			t.fail("role %d: id required", i+1)
			continue
		}
		if seen[r.ID] {
			t.fail("role %s listed twice", r.ID)
		}
		seen[r.ID] = true
	}
	t.next.Roles = append([]Role(nil), t.patch.Roles...)
	t.meta["roles"] = len(t.next.Roles)
}

func (t *transition) run() {
	switch t.to {
	case StatusMeasureScheduled:
		t.scheduleMeasure()
	case StatusMeasured:
		t.recordMeasure()
	case StatusPricing:
		t.enterPricing()
	case StatusPriceGiven:
		if t.from == StatusPriceDeclined {
			t.reactivate()
		} else {
			t.priceOffer()
		}
	case StatusAgreement:
		t.enterAgreement()
	case StatusPriceDeclined:
		t.reject()
	case StatusStockPending:
		t.completeAgreement()
	case StatusProduceLater:
		t.reserveNow()
	case StatusProductionReady:
		t.produce()
	case StatusInProduction:
		t.startProduction()
	case StatusAssemblyReady:
		t.readyForAssembly()
	case StatusAssemblyScheduled:
		t.scheduleAssembly()
	case StatusFinancePending:
		t.completeAssembly()
	case StatusClosed:
		t.closeFinance()
	case StatusServiceScheduled:
		t.scheduleVisit()
	case StatusServiceWorking:
		t.startVisit()
	case StatusServicePaymentPending:
		t.finishWork()
	case StatusServiceClosed:
		t.settleService()
	}
}

func (t *transition) scheduleMeasure() {
	p := t.patch.Measure
	if p == nil || p.AppointmentDate == nil {
		t.fail("measure appointment date required")
		return
	}
	t.next.Measure.AppointmentDate = cloneTime(p.AppointmentDate)
	if p.Note != "" {
		t.next.Measure.Note = p.Note
	}
	t.meta["appointment_date"] = p.AppointmentDate.Format(time.RFC3339)
}

func (t *transition) recordMeasure() {
	measuredAt := t.env.Now
	if p := t.patch.Measure; p != nil {
		if p.MeasuredAt != nil {
			measuredAt = *p.MeasuredAt
		}
		if p.Note != "" {
			t.next.Measure.Note = p.Note
		}
	}
	t.next.Measure.MeasuredAt = &measuredAt
}

func (t *transition) enterPricing() {
	if len(t.next.Roles) == 0 {
		t.fail("at least one role required before pricing")
	}
	if t.next.StartType == StartCustomerMeasure {
		t.problems = append(t.problems, t.env.MissingDrawings...)
	}
}

func (t *transition) priceOffer() {
	p := t.patch.Offer
	if p == nil {
		t.fail("offer required")
		return
	}
	offer := t.next.Offer
	total := decimal.Zero
	if len(p.RolePrices) > 0 {
		prices := make(map[string]decimal.Decimal, len(p.RolePrices))
		for _, key := range sortedKeys(p.RolePrices) {
			price := p.RolePrices[key]
			if _, ok := t.next.RoleByID(key); !ok {
				t.fail("price for unknown role %s", key)
				continue
			}
			if price.IsNegative() {
				t.fail("price of role %s must not be negative", key)
				continue
			}
			prices[key] = price
			total = total.Add(price)
		}
		offer.RolePrices = prices
	} else if p.Total != nil {
		total = *p.Total
		offer.RolePrices = nil
	}
	if !total.IsPositive() {
		t.fail("offer total must be greater than zero")
	}
	offer.Total = total
	notified := t.env.Now
	if p.NotifiedDate != nil {
		notified = *p.NotifiedDate
	}
	offer.NotifiedDate = &notified
	t.next.Offer = offer
	t.action = "offer.priced"
	t.meta["offer_total"] = total.StringFixed(2)
}

func (t *transition) enterAgreement() {
	if t.patch.Discount == nil {
		return
	}
	entry, problems := negotiate(&t.next, *t.patch.Discount, t.env.Now)
	t.problems = append(t.problems, problems...)
	for k, v := range negotiationMeta(entry) {
		t.meta[k] = v
	}
}

func (t *transition) reject() {
	p := t.patch.Rejection
	if p == nil {
		t.fail("rejection category and reason required")
		return
	}
	if strings.TrimSpace(p.Category) == "" {
		t.fail("rejection category required")
	}
	if strings.TrimSpace(p.Reason) == "" {
		t.fail("rejection reason required")
	}
	last := t.next.Offer.Clone()
	t.next.Rejection = &Rejection{
		Category:     p.Category,
		Reason:       p.Reason,
		FollowUpDate: cloneTime(p.FollowUpDate),
		Date:         t.env.Now,
		LastOffer:    &last,
	}
	t.action = "offer.rejected"
	t.meta["category"] = p.Category
	t.meta["reason"] = p.Reason
	t.meta["offer_total"] = last.Total.StringFixed(2)
}

func (t *transition) reactivate() {
	r := t.next.Rejection
	if r == nil || r.LastOffer == nil {
		t.fail("no rejected offer to restore")
		return
	}
	t.next.Offer = r.LastOffer.Clone()
	t.meta["rejected_category"] = r.Category
	t.meta["rejected_at"] = r.Date.Format(time.RFC3339)
	t.meta["offer_total"] = t.next.Offer.Total.StringFixed(2)
	t.next.Rejection = nil
	t.action = "offer.reactivated"
}

func (t *transition) completeAgreement() {
	if t.patch.PaymentPlan == nil {
		t.fail("payment plan required")
		return
	}
	plan := *t.patch.PaymentPlan
	plan.Cheque.Items = append([]payment.Cheque(nil), plan.Cheque.Items...)
	res, err := t.env.Reconciler.Validate(plan, t.next.Offer.Total, t.env.Now)
	if err != nil {
		t.typedErr = err
		return
	}
	plan.Total = res.PaymentTotal
	now := t.env.Now
	t.next.Approval = Approval{PaymentPlan: plan, CompletedAt: &now}
	t.next.Offer.AgreedDate = &now
	t.next.Finance.PreReceived = plan.Cash.Add(plan.Card)
	t.action = "agreement.completed"
	t.meta["payment_total"] = res.PaymentTotal.StringFixed(2)
	t.meta["average_cheque_days"] = res.AverageChequeDays
	if len(res.Warnings) > 0 {
		t.meta["warnings"] = res.Warnings
	}
}

func (t *transition) reserveNow() {
	p := t.patch.Stock
	if p == nil || len(p.Items) == 0 {
		t.fail("stock items required")
		return
	}
	t.next.Stock.PurchaseNotes = p.PurchaseNotes
	t.next.Stock.EstimatedDate = cloneTime(p.EstimatedDate)
	t.stock = &StockIntent{Op: stock.OpReserve, Lines: append([]stock.Line(nil), p.Items...)}
	t.action = "stock.reserved"
}

func (t *transition) produce() {
	p := t.patch.Stock
	if t.from == StatusProduceLater {
		if t.next.Stock.Mode != StockReserved {
			t.fail("job has no reservation to consume")
			return
		}
		intent := &StockIntent{Op: stock.OpConsume, OwnReservation: true}
		for _, l := range t.next.Stock.Items {
			intent.Lines = append(intent.Lines, stock.Line{ItemID: l.ID, Qty: l.Qty})
		}
		if len(t.next.PendingPO) > 0 {
			if p == nil || !p.PurchaseReceived {
				t.fail("%d purchase lines still pending", len(t.next.PendingPO))
				return
			}
			for _, l := range t.next.PendingPO {
				intent.Pending = append(intent.Pending, stock.Line{ItemID: l.ID, Qty: l.Qty})
			}
			intent.ConfirmReservedUse = p.ConfirmReservedUse
		}
		if len(intent.Lines) == 0 && len(intent.Pending) == 0 {
			t.next.Stock.Ready = true
			t.action = "stock.consumed"
			return
		}
		t.stock = intent
		t.action = "stock.consumed"
		return
	}
	if p == nil || len(p.Items) == 0 {
		t.fail("stock items required")
		return
	}
	t.next.Stock.PurchaseNotes = p.PurchaseNotes
	t.stock = &StockIntent{Op: stock.OpConsume, Lines: append([]stock.Line(nil), p.Items...), ConfirmReservedUse: p.ConfirmReservedUse}
	t.action = "stock.consumed"
}

func (t *transition) startProduction() {
	reqs := roleRequirements(t.next.Roles)
	for _, r := range production.RolesWithoutOrders(reqs, t.env.Orders) {
		t.fail("role %s has no production order", roleLabel(r.RoleID, r.RoleName))
	}
	now := t.env.Now
	t.next.Production.StartedAt = &now
	t.meta["orders"] = len(t.env.Orders)
}

func (t *transition) readyForAssembly() {
	report := production.Readiness(roleRequirements(t.next.Roles), t.env.Orders)
	for _, gap := range report.Gaps {
		missing := make([]string, len(gap.Missing))
		for i, m := range gap.Missing {
			missing[i] = string(m)
		}
		t.fail("role %s is missing completed %s orders", roleLabel(gap.RoleID, gap.RoleName), strings.Join(missing, ", "))
	}
	t.next.Production.ReadyForAssembly = report.ReadyForAssembly
}

func (t *transition) scheduleAssembly() {
	p := t.patch.Assembly
	if p == nil || p.Date == nil {
		t.fail("assembly date required")
		return
	}
	t.next.Assembly.Date = cloneTime(p.Date)
	if p.Note != "" {
		t.next.Assembly.Note = p.Note
	}
	t.meta["assembly_date"] = p.Date.Format(time.RFC3339)
}

func (t *transition) completeAssembly() {
	now := t.env.Now
	t.next.Assembly.CompletedAt = &now
	if p := t.patch.Assembly; p != nil && p.Note != "" {
		t.next.Assembly.Note = p.Note
	}
	t.action = "assembly.completed"
}

func (t *transition) closeFinance() {
	p := t.patch.Finance
	if p == nil {
		t.fail("finance figures required")
		return
	}
	pre := t.next.Finance.PreReceived
	if p.PreReceived != nil {
		pre = *p.PreReceived
	}
	if err := payment.CheckCloseout(t.next.Offer.Total, pre, p.Received, p.Discount); err != nil {
		t.typedErr = err
		return
	}
	now := t.env.Now
	t.next.Finance = Finance{PreReceived: pre, Received: p.Received, Discount: p.Discount, ClosedAt: &now}
	t.action = "finance.closed"
	t.meta["received"] = p.Received.StringFixed(2)
	t.meta["discount"] = p.Discount.StringFixed(2)
}

func (t *transition) service() *Service {
	if t.next.Service == nil {
		t.next.Service = &Service{PaymentStatus: payment.StatusUnpaid}
	}
	return t.next.Service
}

func (t *transition) scheduleVisit() {
	svc := t.service()
	p := t.patch.Visit
	if t.from == StatusServiceWorking {
		if len(svc.Visits) == 0 {
			t.fail("no visit in progress")
			return
		}
		t.completeVisit(svc, p)
		if p == nil || p.Next == nil {
			t.fail("follow-up visit appointment required")
			return
		}
		p = p.Next
	}
	if p == nil || p.AppointmentDate == nil {
		t.fail("visit appointment date required")
		return
	}
	id := fmt.Sprintf("visit-%d", len(svc.Visits)+1)
	if t.env.NewID != nil {
		id = t.env.NewID()
	}
	svc.Visits = append(svc.Visits, Visit{
		ID:              id,
		AppointmentDate: *p.AppointmentDate,
		AppointmentTime: p.AppointmentTime,
		Status:          VisitScheduled,
	})
	t.action = "service.visit_scheduled"
	t.meta["visit_id"] = id
	t.meta["appointment_date"] = p.AppointmentDate.Format(time.RFC3339)
}

func (t *transition) startVisit() {
	svc := t.service()
	if len(svc.Visits) == 0 || svc.Visits[len(svc.Visits)-1].Status != VisitScheduled {
		t.fail("no scheduled visit to start")
		return
	}
	now := t.env.Now
	v := &svc.Visits[len(svc.Visits)-1]
	v.Status = VisitInProgress
	v.VisitedAt = &now
	t.action = "service.visit_started"
	t.meta["visit_id"] = v.ID
}

func (t *transition) finishWork() {
	svc := t.service()
	if len(svc.Visits) == 0 {
		t.fail("no visit in progress")
		return
	}
	t.completeVisit(svc, t.patch.Visit)
	t.action = "service.work_completed"
	t.meta["total_cost"] = svc.TotalCost.StringFixed(2)
}

func (t *transition) completeVisit(svc *Service, p *VisitPatch) {
	v := &svc.Visits[len(svc.Visits)-1]
	if v.Status != VisitInProgress {
		t.fail("visit %s is not in progress", v.ID)
		return
	}
	if p != nil {
		if p.ExtraCost.IsNegative() {
			t.fail("extra cost must not be negative")
			return
		}
		v.WorkNote = p.WorkNote
		v.Materials = append([]string(nil), p.Materials...)
		v.ExtraCost = p.ExtraCost
	}
	now := t.env.Now
	v.Status = VisitCompleted
	v.CompletedAt = &now
	recomputeServiceTotals(svc)
}

func (t *transition) settleService() {
	svc := t.service()
	p := t.patch.ServicePayment
	if p == nil {
		t.fail("service payment required")
		return
	}
	prior := sumPayments(svc.Payments)
	now := decimal.Zero
	for i, pay := range p.Payments {
		if !pay.Amount.IsPositive() {
			t.fail("payment %d: amount must be greater than zero", i+1)
		}
		now = now.Add(pay.Amount)
	}
	if len(t.problems) > 0 {
		return
	}
	if err := payment.CheckCloseout(svc.TotalCost, prior, now, p.Discount); err != nil {
		t.typedErr = err
		return
	}
	for _, pay := range p.Payments {
		if pay.Date.IsZero() {
			pay.Date = t.env.Now
		}
		svc.Payments = append(svc.Payments, pay)
	}
	svc.Discount = p.Discount
	svc.PaymentStatus = payment.ServiceStatus(svc.TotalCost, sumPayments(svc.Payments), svc.Discount)
	t.action = "service.closed"
	t.meta["paid"] = sumPayments(svc.Payments).StringFixed(2)
}

// negotiate appends a history entry and lowers the offer. Prior entries are
// never touched.
func negotiate(job *Job, d DiscountPatch, now time.Time) (Negotiation, []string) {
	var problems []string
	offer := job.Offer
	if !offer.Total.IsPositive() {
		return Negotiation{}, []string{"offer has no price to negotiate"}
	}
	discount := decimal.Zero
	var roleDiscounts map[string]decimal.Decimal
	if len(d.RoleDiscounts) > 0 {
		roleDiscounts = make(map[string]decimal.Decimal, len(d.RoleDiscounts))
		for _, key := range sortedKeys(d.RoleDiscounts) {
			v := d.RoleDiscounts[key]
			price, ok := offer.RolePrices[key]
			switch {
			case !ok:
				problems = append(problems, fmt.Sprintf("discount for unpriced role %s", key))
			case v.IsNegative():
				problems = append(problems, fmt.Sprintf("discount of role %s must not be negative", key))
			case v.GreaterThan(price):
				problems = append(problems, fmt.Sprintf("discount of role %s exceeds its price %s", key, price.StringFixed(2)))
			default:
				roleDiscounts[key] = v
				discount = discount.Add(v)
			}
		}
	} else if d.DiscountTotal != nil {
		discount = *d.DiscountTotal
	}
	if !discount.IsPositive() {
		problems = append(problems, "discount must be greater than zero")
	}
	if discount.GreaterThan(offer.Total) {
		problems = append(problems, fmt.Sprintf("discount %s exceeds offer total %s", discount.StringFixed(2), offer.Total.StringFixed(2)))
	}
	if len(problems) > 0 {
		return Negotiation{}, problems
	}
	entry := Negotiation{
		Date:          now,
		OriginalTotal: offer.Total,
		DiscountTotal: discount,
		FinalTotal:    offer.Total.Sub(discount),
		RoleDiscounts: roleDiscounts,
		Note:          d.Note,
	}
	if len(roleDiscounts) > 0 {
		for key, v := range roleDiscounts {
			offer.RolePrices[key] = offer.RolePrices[key].Sub(v)
		}
	}
	offer.Total = entry.FinalTotal
	offer.NegotiationHistory = append(offer.NegotiationHistory, entry)
	job.Offer = offer
	return entry, nil
}

func negotiationMeta(n Negotiation) map[string]any {
	if n.FinalTotal.IsZero() && n.OriginalTotal.IsZero() {
		return nil
	}
	return map[string]any{
		"original_total": n.OriginalTotal.StringFixed(2),
		"discount_total": n.DiscountTotal.StringFixed(2),
		"final_total":    n.FinalTotal.StringFixed(2),
	}
}

func recomputeServiceTotals(svc *Service) {
	extra := decimal.Zero
	for _, v := range svc.Visits {
		extra = extra.Add(v.ExtraCost)
	}
	svc.TotalExtraCost = extra
	svc.TotalCost = svc.FixedFee.Add(extra)
}

func sumPayments(payments []ServicePayment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

func roleRequirements(roles []Role) []production.RoleRequirement {
	out := make([]production.RoleRequirement, len(roles))
	for i, r := range roles {
		out[i] = production.RoleRequirement{RoleID: r.ID, RoleName: r.Name, RequiresGlass: r.RequiresGlass}
	}
	return out
}

func roleLabel(id, name string) string {
	if name != "" {
		return name
	}
	return id
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
