// Package workflow owns the job aggregate: its status machine, stage view,
// stage preconditions, and the orchestration of stock, payment and
// production collaborators around each transition.
package workflow

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/stock"
)

// StartType is fixed at creation and selects the flow.
type StartType string

const (
	StartMeasure         StartType = "MEASURE"
	StartCustomerMeasure StartType = "CUSTOMER_MEASURE"
	StartService         StartType = "SERVICE"
	StartArchive         StartType = "ARCHIVE"
)

// Valid reports whether s is a known start type.
func (s StartType) Valid() bool {
	switch s {
	case StartMeasure, StartCustomerMeasure, StartService, StartArchive:
		return true
	}
	return false
}

// Role is a work category of a job, priced and tracked independently.
type Role struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RequiresGlass bool   `json:"requires_glass"`
}

// Negotiation is one append-only price change.
type Negotiation struct {
	Date          time.Time                  `json:"date"`
	OriginalTotal decimal.Decimal            `json:"original_total"`
	DiscountTotal decimal.Decimal            `json:"discount_total"`
	FinalTotal    decimal.Decimal            `json:"final_total"`
	RoleDiscounts map[string]decimal.Decimal `json:"role_discounts,omitempty"`
	Note          string                     `json:"note,omitempty"`
}

// Offer is what the customer was quoted.
type Offer struct {
	Total              decimal.Decimal            `json:"total"`
	RolePrices         map[string]decimal.Decimal `json:"role_prices,omitempty"`
	NotifiedDate       *time.Time                 `json:"notified_date,omitempty"`
	AgreedDate         *time.Time                 `json:"agreed_date,omitempty"`
	NegotiationHistory []Negotiation              `json:"negotiation_history,omitempty"`
}

// Clone returns a deep copy so snapshots never alias the live offer.
func (o Offer) Clone() Offer {
	out := o
	out.RolePrices = maps.Clone(o.RolePrices)
	out.NotifiedDate = cloneTime(o.NotifiedDate)
	out.AgreedDate = cloneTime(o.AgreedDate)
	if o.NegotiationHistory != nil {
		out.NegotiationHistory = make([]Negotiation, len(o.NegotiationHistory))
		for i, n := range o.NegotiationHistory {
			n.RoleDiscounts = maps.Clone(n.RoleDiscounts)
			out.NegotiationHistory[i] = n
		}
	}
	return out
}

// RolePriceSum adds up every role price.
func (o Offer) RolePriceSum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range o.RolePrices {
		sum = sum.Add(v)
	}
	return sum
}

// Rejection is recorded when a customer declines the price.
type Rejection struct {
	Category     string     `json:"category"`
	Reason       string     `json:"reason"`
	FollowUpDate *time.Time `json:"follow_up_date,omitempty"`
	Date         time.Time  `json:"date"`
	LastOffer    *Offer     `json:"last_offer,omitempty"`
}

// Approval is fixed once the agreement stage completes.
type Approval struct {
	PaymentPlan payment.Plan `json:"payment_plan"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Measure holds the measurement appointment.
type Measure struct {
	AppointmentDate *time.Time `json:"appointment_date,omitempty"`
	MeasuredAt      *time.Time `json:"measured_at,omitempty"`
	Note            string     `json:"note,omitempty"`
}

// StockLine is a point-in-time snapshot of an item reserved or consumed for a job.
type StockLine struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ProductCode string  `json:"product_code,omitempty"`
	ColorCode   string  `json:"color_code,omitempty"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit,omitempty"`
}

// StockMode tells how the job's materials were handled.
type StockMode string

const (
	StockReserved StockMode = "RESERVED"
	StockConsumed StockMode = "CONSUMED"
)

// StockSnapshot is the job's copy of what the ledger did for it.
type StockSnapshot struct {
	Ready         bool        `json:"ready"`
	Mode          StockMode   `json:"mode,omitempty"`
	Items         []StockLine `json:"items,omitempty"`
	PurchaseNotes string      `json:"purchase_notes,omitempty"`
	EstimatedDate *time.Time  `json:"estimated_date,omitempty"`
	ReservedAt    *time.Time  `json:"reserved_at,omitempty"`
	ConsumedAt    *time.Time  `json:"consumed_at,omitempty"`
}

// Production holds job level production timestamps. Orders live in the tracker.
type Production struct {
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ReadyForAssembly bool       `json:"ready_for_assembly"`
}

// Assembly holds installation scheduling.
type Assembly struct {
	Date        *time.Time `json:"date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// Finance holds closeout figures.
type Finance struct {
	PreReceived decimal.Decimal `json:"pre_received"`
	Received    decimal.Decimal `json:"received"`
	Discount    decimal.Decimal `json:"discount"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

// VisitStatus tracks a service visit.
type VisitStatus string

const (
	VisitScheduled  VisitStatus = "SCHEDULED"
	VisitInProgress VisitStatus = "IN_PROGRESS"
	VisitCompleted  VisitStatus = "COMPLETED"
)

// Visit is one service appointment.
type Visit struct {
	ID              string          `json:"id"`
	AppointmentDate time.Time       `json:"appointment_date"`
	AppointmentTime string          `json:"appointment_time,omitempty"`
	VisitedAt       *time.Time      `json:"visited_at,omitempty"`
	Status          VisitStatus     `json:"status"`
	WorkNote        string          `json:"work_note,omitempty"`
	Materials       []string        `json:"materials,omitempty"`
	ExtraCost       decimal.Decimal `json:"extra_cost"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// ServicePayment is money collected for a service job.
type ServicePayment struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Date   time.Time       `json:"date"`
}

// Service is the sub-entity of service jobs.
type Service struct {
	FixedFee       decimal.Decimal  `json:"fixed_fee"`
	Note           string           `json:"note,omitempty"`
	Visits         []Visit          `json:"visits,omitempty"`
	TotalExtraCost decimal.Decimal  `json:"total_extra_cost"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	Payments       []ServicePayment `json:"payments,omitempty"`
	Discount       decimal.Decimal  `json:"discount"`
	PaymentStatus  payment.Status   `json:"payment_status"`
}

// Job is the central aggregate.
type Job struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Title      string        `json:"title"`
	Status     Status        `json:"status"`
	StartType  StartType     `json:"start_type"`
	Roles      []Role        `json:"roles"`
	Measure    Measure       `json:"measure"`
	Offer      Offer         `json:"offer"`
	Rejection  *Rejection    `json:"rejection,omitempty"`
	Approval   Approval      `json:"approval"`
	Stock      StockSnapshot `json:"stock"`
	PendingPO  []StockLine   `json:"pending_po,omitempty"`
	Production Production    `json:"production"`
	Assembly   Assembly      `json:"assembly"`
	Finance    Finance       `json:"finance"`
	Service    *Service      `json:"service,omitempty"`
	Version    int64         `json:"version"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Clone deep copies the fields transitions mutate.
func (j Job) Clone() Job {
	out := j
	out.Roles = append([]Role(nil), j.Roles...)
	out.Offer = j.Offer.Clone()
	if j.Rejection != nil {
		r := *j.Rejection
		if r.LastOffer != nil {
			last := r.LastOffer.Clone()
			r.LastOffer = &last
		}
		out.Rejection = &r
	}
	out.Approval.PaymentPlan.Cheque.Items = append([]payment.Cheque(nil), j.Approval.PaymentPlan.Cheque.Items...)
	out.Stock.Items = append([]StockLine(nil), j.Stock.Items...)
	out.PendingPO = append([]StockLine(nil), j.PendingPO...)
	if j.Service != nil {
		s := *j.Service
		s.Visits = make([]Visit, len(j.Service.Visits))
		for i, v := range j.Service.Visits {
			v.Materials = append([]string(nil), v.Materials...)
			s.Visits[i] = v
		}
		s.Payments = append([]ServicePayment(nil), j.Service.Payments...)
		out.Service = &s
	}
	return out
}

// RoleByID finds a role of the job.
func (j Job) RoleByID(id string) (Role, bool) {
	for _, r := range j.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// LogEntry is what a transition wants appended to the job's audit trail.
type LogEntry struct {
	Action string
	Detail string
	Meta   map[string]any
}

// StockIntent asks the engine to run a ledger batch for the transition.
type StockIntent struct {
	Op    stock.Operation
	Lines []stock.Line
	// Pending lines are consumed together with Lines once purchased stock arrived.
	Pending []stock.Line
	// OwnReservation marks Lines as the job's own reservation. Pending lines
	// are still checked against other jobs' reservations.
	OwnReservation bool
	// ConfirmReservedUse accepts eating into other jobs' reservations.
	ConfirmReservedUse bool
}

// Outcome is the pure result of a transition: the next job, its log entry and
// any stock side effect the engine must carry out before saving.
type Outcome struct {
	Job   Job
	Log   LogEntry
	Stock *StockIntent
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
