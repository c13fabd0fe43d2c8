// Package production tracks per-role supply orders and folds their deliveries
// into a per-job readiness signal.
package production

import (
	"errors"
	"fmt"
	"time"
)

// OrderType selects the supply channel of an order.
type OrderType string

const (
	TypeInternal OrderType = "internal"
	TypeExternal OrderType = "external"
	TypeGlass    OrderType = "glass"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case TypeInternal, TypeExternal, TypeGlass:
		return true
	}
	return false
}

// Status is derived from received against ordered quantities.
type Status string

const (
	StatusOrdered   Status = "ordered"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
)

// IssueStatus tracks defect follow-up.
type IssueStatus string

const (
	IssuePending  IssueStatus = "pending"
	IssueResolved IssueStatus = "resolved"
)

// Line is one ordered position.
type Line struct {
	Description string  `json:"description,omitempty"`
	GlassType   string  `json:"glass_type,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	ReceivedQty float64 `json:"received_qty"`
	Combination string  `json:"combination,omitempty"`
}

// Remaining is the quantity still expected.
func (l Line) Remaining() float64 {
	if l.ReceivedQty >= l.Quantity {
		return 0
	}
	return l.Quantity - l.ReceivedQty
}

// Complete reports whether the line is fully received.
func (l Line) Complete() bool { return l.ReceivedQty >= l.Quantity }

// Issue is a defect reported with a delivery.
type Issue struct {
	LineIndex   int         `json:"line_index"`
	ProblemQty  float64     `json:"problem_qty"`
	ProblemType string      `json:"problem_type"`
	Note        string      `json:"note,omitempty"`
	Status      IssueStatus `json:"status"`
	ReportedAt  time.Time   `json:"reported_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// Order is a supply order for one role of a job.
type Order struct {
	ID                string     `json:"id"`
	JobID             string     `json:"job_id"`
	RoleID            string     `json:"role_id"`
	RoleName          string     `json:"role_name"`
	Type              OrderType  `json:"order_type"`
	SupplierID        string     `json:"supplier_id,omitempty"`
	SupplierName      string     `json:"supplier_name,omitempty"`
	Lines             []Line     `json:"lines"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Status            Status     `json:"status"`
	Issues            []Issue    `json:"issues,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CreateInput declares a role's supply need.
type CreateInput struct {
	JobID             string     `json:"job_id"`
	RoleID            string     `json:"role_id" validate:"required"`
	RoleName          string     `json:"role_name"`
	Type              OrderType  `json:"order_type" validate:"required"`
	SupplierID        string     `json:"supplier_id"`
	SupplierName      string     `json:"supplier_name"`
	Lines             []Line     `json:"lines" validate:"required,min=1"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

// DeliveryLine records goods received against one order line.
type DeliveryLine struct {
	LineIndex   int     `json:"line_index"`
	Qty         float64 `json:"qty"`
	ProblemQty  float64 `json:"problem_qty"`
	ProblemType string  `json:"problem_type"`
	Note        string  `json:"note"`
}

// RoleRequirement is what readiness checks per job role.
type RoleRequirement struct {
	RoleID        string `json:"role_id"`
	RoleName      string `json:"role_name"`
	RequiresGlass bool   `json:"requires_glass"`
}

// RoleGap names the order types a role still lacks.
type RoleGap struct {
	RoleID   string      `json:"role_id"`
	RoleName string      `json:"role_name"`
	Missing  []OrderType `json:"missing"`
}

// Report is the readiness of a job for assembly.
type Report struct {
	ReadyForAssembly bool      `json:"ready_for_assembly"`
	Gaps             []RoleGap `json:"gaps,omitempty"`
}

var (
	// ErrOrderCompleted indicates a delivery against a fully received order.
	ErrOrderCompleted = errors.New("production: order already completed")
	// ErrNoDeliveryLines indicates an empty delivery.
	ErrNoDeliveryLines = errors.New("production: delivery requires at least one line")
)

// ValidateCreate lists every problem of a create request.
func ValidateCreate(in CreateInput) []string {
	var problems []string
	if in.JobID == "" {
		problems = append(problems, "job id required")
	}
	if in.RoleID == "" {
		problems = append(problems, "role id required")
	}
	if !in.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown order type %q", in.Type))
	}
	if in.Type == TypeExternal && in.SupplierID == "" && in.SupplierName == "" {
		problems = append(problems, "external orders require a supplier")
	}
	if len(in.Lines) == 0 {
		problems = append(problems, "at least one line required")
	}
	for i, l := range in.Lines {
		if l.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("line %d: quantity must be greater than zero", i+1))
		}
		if in.Type == TypeGlass && l.GlassType == "" {
			problems = append(problems, fmt.Sprintf("line %d: glass type required", i+1))
		}
		if in.Type != TypeGlass && l.Description == "" {
			problems = append(problems, fmt.Sprintf("line %d: description required", i+1))
		}
	}
	return problems
}

// ApplyDelivery returns order with lines advanced by the delivery. Received
// quantities only grow and are capped at the ordered quantity. The input order
// is not modified.
func ApplyDelivery(order Order, delivery []DeliveryLine, now time.Time) (Order, []string) {
	var problems []string
	if len(delivery) == 0 {
		return order, []string{ErrNoDeliveryLines.Error()}
	}
	if order.Status == StatusCompleted {
		return order, []string{ErrOrderCompleted.Error()}
	}
	next := order
	next.Lines = append([]Line(nil), order.Lines...)
	next.Issues = append([]Issue(nil), order.Issues...)
	for i, d := range delivery {
		if d.LineIndex < 0 || d.LineIndex >= len(next.Lines) {
			problems = append(problems, fmt.Sprintf("delivery %d: line index %d out of range", i+1, d.LineIndex))
			continue
		}
		if d.Qty < 0 {
			problems = append(problems, fmt.Sprintf("delivery %d: quantity must not be negative", i+1))
			continue
		}
		if d.ProblemQty < 0 {
			problems = append(problems, fmt.Sprintf("delivery %d: problem quantity must not be negative", i+1))
			continue
		}
		if d.ProblemQty > 0 && d.ProblemType == "" {
			problems = append(problems, fmt.Sprintf("delivery %d: problem type required", i+1))
			continue
		}
		if d.Qty == 0 && d.ProblemQty == 0 {
			problems = append(problems, fmt.Sprintf("delivery %d: nothing delivered", i+1))
			continue
		}
		line := &next.Lines[d.LineIndex]
		line.ReceivedQty += min(d.Qty, line.Remaining())
		if d.ProblemQty > 0 {
			next.Issues = append(next.Issues, Issue{
				LineIndex:   d.LineIndex,
				ProblemQty:  d.ProblemQty,
				ProblemType: d.ProblemType,
				Note:        d.Note,
				Status:      IssuePending,
				ReportedAt:  now,
			})
		}
	}
	if len(problems) > 0 {
		return order, problems
	}
	next.Status = DeriveStatus(next.Lines, order.Status)
	next.UpdatedAt = now
	return next, nil
}

// DeriveStatus is completed when every line is fully received, partial when
// anything was received, otherwise prev.
func DeriveStatus(lines []Line, prev Status) Status {
	if len(lines) == 0 {
		return prev
	}
	complete := 0
	received := false
	for _, l := range lines {
		if l.Complete() {
			complete++
		}
		if l.ReceivedQty > 0 {
			received = true
		}
	}
	switch {
	case complete == len(lines):
		return StatusCompleted
	case received:
		return StatusPartial
	default:
		return prev
	}
}

// Readiness folds a job's orders over its roles. A role is satisfied by a
// completed internal or external order, plus a completed glass order when the
// role requires glass.
func Readiness(roles []RoleRequirement, orders []Order) Report {
	type have struct{ production, glass bool }
	byRole := make(map[string]have, len(roles))
	for _, o := range orders {
		if o.Status != StatusCompleted {
			continue
		}
		h := byRole[o.RoleID]
		switch o.Type {
		case TypeInternal, TypeExternal:
			h.production = true
		case TypeGlass:
			h.glass = true
		}
		byRole[o.RoleID] = h
	}
	report := Report{ReadyForAssembly: true}
	for _, role := range roles {
		h := byRole[role.RoleID]
		var missing []OrderType
		if !h.production {
			missing = append(missing, TypeInternal)
		}
		if role.RequiresGlass && !h.glass {
			missing = append(missing, TypeGlass)
		}
		if len(missing) > 0 {
			report.ReadyForAssembly = false
			report.Gaps = append(report.Gaps, RoleGap{RoleID: role.RoleID, RoleName: role.RoleName, Missing: missing})
		}
	}
	return report
}

// RolesWithoutOrders returns the roles that have no order of any kind yet.
func RolesWithoutOrders(roles []RoleRequirement, orders []Order) []RoleRequirement {
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		seen[o.RoleID] = true
	}
	var out []RoleRequirement
	for _, r := range roles {
		if !seen[r.RoleID] {
			out = append(out, r)
		}
	}
	return out
}
