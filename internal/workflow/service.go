package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/jobtrack/internal/documents"
	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/shared"
	"github.com/odyssey-erp/jobtrack/internal/stock"
)

// Repository persists jobs. Save must fail with shared.ErrConflict when the
// stored version differs from expectedVersion.
type Repository interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Save(ctx context.Context, job Job, expectedVersion int64) error
	List(ctx context.Context, filter ListFilter) ([]Job, error)
}

// StockLedger is the part of the ledger transitions use.
type StockLedger interface {
	Preview(ctx context.Context, lines []stock.Line) ([]stock.Projection, error)
	Reserve(ctx context.Context, batch stock.Batch) (stock.BatchResult, error)
	Consume(ctx context.Context, batch stock.Batch) (stock.BatchResult, error)
	Release(ctx context.Context, batch stock.Batch) (stock.BatchResult, error)
	Applied(ctx context.Context, op stock.Operation, key string) (bool, error)
	Forget(ctx context.Context, op stock.Operation, key string) error
}

// ProductionTracker is the part of the tracker transitions use.
type ProductionTracker interface {
	CreateOrder(ctx context.Context, in production.CreateInput) (production.Order, error)
	Get(ctx context.Context, id string) (production.Order, error)
	RecordDelivery(ctx context.Context, orderID string, delivery []production.DeliveryLine) (production.Order, error)
	ListByJob(ctx context.Context, jobID string) ([]production.Order, error)
}

// DocumentChecker answers drawing presence questions.
type DocumentChecker interface {
	MissingDrawings(ctx context.Context, jobID string, roles []documents.RoleRef) ([]string, error)
}

// AuditLog is the append-only job trail.
type AuditLog interface {
	Append(ctx context.Context, entry shared.JobLog) error
	List(ctx context.Context, jobID string) ([]shared.JobLog, error)
}

// TaskQueue hands follow-up work to the background worker.
type TaskQueue interface {
	EnqueueJobLog(ctx context.Context, entry shared.JobLog) error
	EnqueueShortfall(ctx context.Context, jobID string, shortfalls []shared.Shortfall) error
}

// Observer receives one call per attempted transition.
type Observer interface {
	ObserveTransition(from, to string, err error)
}

// Deps collects Engine collaborators. Documents, Audit, Queue and Observer are optional.
type Deps struct {
	Repo       Repository
	Ledger     StockLedger
	Tracker    ProductionTracker
	Documents  DocumentChecker
	Audit      AuditLog
	Queue      TaskQueue
	Locker     shared.Locker
	Reconciler *payment.Reconciler
	Observer   Observer
	Logger     *slog.Logger
}

// Engine orchestrates job transitions. Each mutation runs under the job lock:
// load, evaluate, run side effects, save with a version check, then log.
type Engine struct {
	repo       Repository
	ledger     StockLedger
	tracker    ProductionTracker
	documents  DocumentChecker
	audit      AuditLog
	queue      TaskQueue
	locker     shared.Locker
	reconciler *payment.Reconciler
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewEngine constructs the workflow engine.
func NewEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Locker == nil {
		deps.Locker = shared.NewLocalLocker()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = payment.NewReconciler(payment.DefaultPolicy())
	}
	return &Engine{
		repo:       deps.Repo,
		ledger:     deps.Ledger,
		tracker:    deps.Tracker,
		documents:  deps.Documents,
		audit:      deps.Audit,
		queue:      deps.Queue,
		locker:     deps.Locker,
		reconciler: deps.Reconciler,
		observer:   deps.Observer,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
}

// CreateInput opens a new job.
type CreateInput struct {
	CustomerID string           `json:"customer_id"`
	Title      string           `json:"title"`
	StartType  StartType        `json:"start_type"`
	Roles      []Role           `json:"roles"`
	FixedFee   *decimal.Decimal `json:"fixed_fee"`
	OfferTotal *decimal.Decimal `json:"offer_total"`
	Note       string           `json:"note"`
	Actor      string           `json:"-"`
}

// TransitionRequest is the intent to move a job to Target.
type TransitionRequest struct {
	Target Status `json:"target"`
	Patch  Patch  `json:"patch"`
	Actor  string `json:"-"`
}

// ListFilter narrows job listings.
type ListFilter struct {
	Status    Status
	StartType StartType
	Limit     int
	Offset    int
	// Stable orders by creation time and id instead of recent activity, so
	// offset pages do not shift while jobs are being updated.
	Stable bool
}

// Overview is the stage view of a job.
type Overview struct {
	JobID     string             `json:"job_id"`
	Status    Status             `json:"status"`
	Stage     StageKey           `json:"stage"`
	Stages    []StageView        `json:"stages"`
	Allowed   []Status           `json:"allowed"`
	Readiness *production.Report `json:"readiness,omitempty"`
}

// DeliveryOutcome reports a delivery and its effect on the job.
type DeliveryOutcome struct {
	Order     production.Order  `json:"order"`
	Readiness production.Report `json:"readiness"`
	Job       Job               `json:"job"`
	Advanced  bool              `json:"advanced"`
}

// CreateJob stores a job at the initial status of its start type.
func (e *Engine) CreateJob(ctx context.Context, in CreateInput) (Job, error) {
	var problems []string
	if !in.StartType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown start type %q", in.StartType))
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		problems = append(problems, "customer required")
	}
	if in.FixedFee != nil && in.FixedFee.IsNegative() {
		problems = append(problems, "fixed fee must not be negative")
	}
	if in.StartType == StartArchive && (in.OfferTotal == nil || !in.OfferTotal.IsPositive()) {
		problems = append(problems, "archived jobs require the agreed offer total")
	}
	seen := map[string]bool{}
	for i, r := range in.Roles {
		if r.ID == "" {
			problems = append(problems, fmt.Sprintf("role %d: id required", i+1))
		} else if seen[r.ID] {
			problems = append(problems, fmt.Sprintf("role %s listed twice", r.ID))
		}
		seen[r.ID] = true
	}
	if err := shared.NewValidationError(problems); err != nil {
		return Job{}, err
	}
	now := e.now()
	job := Job{
		ID:         e.newID(),
		CustomerID: in.CustomerID,
		Title:      in.Title,
		Status:     InitialStatus(in.StartType),
		StartType:  in.StartType,
		Roles:      append([]Role(nil), in.Roles...),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.StartType == StartService {
		fee := decimal.Zero
		if in.FixedFee != nil {
			fee = *in.FixedFee
		}
		job.Service = &Service{FixedFee: fee, TotalCost: fee, Note: in.Note, PaymentStatus: payment.StatusUnpaid}
	}
	if in.StartType == StartArchive {
		job.Offer.Total = *in.OfferTotal
		job.Offer.AgreedDate = &now
	}
	if err := e.repo.Create(ctx, job); err != nil {
		return Job{}, err
	}
	e.appendLog(ctx, job.ID, LogEntry{
		Action: "job.created",
		Detail: fmt.Sprintf("job created as %s at %s", job.StartType, job.Status),
		Meta:   map[string]any{"start_type": string(job.StartType), "status": string(job.Status)},
	}, in.Actor)
	e.logger.Info("job created", slog.String("job_id", job.ID), slog.String("start_type", string(job.StartType)))
	return job, nil
}

// Get returns one job.
func (e *Engine) Get(ctx context.Context, id string) (Job, error) {
	return e.repo.Get(ctx, id)
}

// List returns jobs matching filter.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	return e.repo.List(ctx, filter)
}

// Logs returns the audit trail of a job in append order.
func (e *Engine) Logs(ctx context.Context, jobID string) ([]shared.JobLog, error) {
	if e.audit == nil {
		return nil, nil
	}
	if _, err := e.repo.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return e.audit.List(ctx, jobID)
}

// Stages loads the job and its production orders concurrently and lays out
// the stage view.
func (e *Engine) Stages(ctx context.Context, jobID string) (Overview, error) {
	var (
		job    Job
		orders []production.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		job, err = e.repo.Get(gctx, jobID)
		return err
	})
	if e.tracker != nil {
		g.Go(func() error {
			var err error
			orders, err = e.tracker.ListByJob(gctx, jobID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	stage := CurrentStage(job)
	view := Overview{
		JobID:   job.ID,
		Status:  job.Status,
		Stage:   stage.Key,
		Stages:  Stages(job),
		Allowed: Allowed(job.StartType, job.Status),
	}
	if job.StartType != StartService && (stage.Key == StageProduction || stage.Key == StageStock) {
		report := production.Readiness(roleRequirements(job.Roles), orders)
		view.Readiness = &report
	}
	return view, nil
}

// Transition moves a job to req.Target. On any error the stored job is
// unchanged; stock reserved for the attempt is released again.
func (e *Engine) Transition(ctx context.Context, jobID string, req TransitionRequest) (Job, error) {
	unlock, err := e.locker.Lock(ctx, shared.JobLockKey(jobID))
	if err != nil {
		return Job{}, err
	}
	defer unlock()

	current, err := e.repo.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	saved, err := e.transitionLocked(ctx, current, req)
	if e.observer != nil {
		e.observer.ObserveTransition(string(current.Status), string(req.Target), err)
	}
	return saved, err
}

func (e *Engine) transitionLocked(ctx context.Context, current Job, req TransitionRequest) (Job, error) {
	env, err := e.loadEnv(ctx, current, req)
	if err != nil {
		return Job{}, err
	}
	out, err := Apply(current, req.Target, req.Patch, env)
	if err != nil {
		return Job{}, err
	}
	var fx stockEffects
	if out.Stock != nil {
		fx, err = e.runStock(ctx, current, &out, env.Now)
		if err != nil {
			return Job{}, err
		}
	}
	out.Job.Version = current.Version + 1
	if err := e.repo.Save(ctx, out.Job, current.Version); err != nil {
		if fx.compensate != nil {
			fx.compensate()
		} else if out.Stock != nil && out.Stock.Op == stock.OpConsume {
			e.logger.Error("workflow: stock consumed but job not saved, retry folds the batch",
				slog.String("job_id", current.ID), slog.Any("error", err))
		}
		return Job{}, err
	}
	e.appendLog(ctx, current.ID, out.Log, req.Actor)
	if len(fx.shortfalls) > 0 && e.queue != nil {
		if err := e.queue.EnqueueShortfall(ctx, current.ID, fx.shortfalls); err != nil {
			e.logger.Warn("workflow: enqueue shortfall", slog.String("job_id", current.ID), slog.Any("error", err))
		}
	}
	e.logger.Info("job transitioned",
		slog.String("job_id", current.ID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(out.Job.Status)),
	)
	return out.Job, nil
}

// Negotiate records a discount on a priced offer without changing status.
func (e *Engine) Negotiate(ctx context.Context, jobID string, discount DiscountPatch, actor string) (Job, error) {
	unlock, err := e.locker.Lock(ctx, shared.JobLockKey(jobID))
	if err != nil {
		return Job{}, err
	}
	defer unlock()
	current, err := e.repo.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	next, entry, err := Negotiate(current, discount, e.now())
	if err != nil {
		return Job{}, err
	}
	next.Version = current.Version + 1
	if err := e.repo.Save(ctx, next, current.Version); err != nil {
		return Job{}, err
	}
	e.appendLog(ctx, jobID, entry, actor)
	return next, nil
}

// CreateProductionOrder declares a supply need for one role of the job.
func (e *Engine) CreateProductionOrder(ctx context.Context, jobID string, in production.CreateInput, actor string) (production.Order, error) {
	unlock, err := e.locker.Lock(ctx, shared.JobLockKey(jobID))
	if err != nil {
		return production.Order{}, err
	}
	defer unlock()
	job, err := e.repo.Get(ctx, jobID)
	if err != nil {
		return production.Order{}, err
	}
	stage := CurrentStage(job)
	if job.StartType == StartService || (stage.Key != StageStock && stage.Key != StageProduction) {
		return production.Order{}, shared.NewValidationError([]string{fmt.Sprintf("production orders cannot be created in status %s", job.Status)})
	}
	role, ok := job.RoleByID(in.RoleID)
	if !ok {
		return production.Order{}, shared.NewValidationError([]string{fmt.Sprintf("role %s is not part of job", in.RoleID)})
	}
	in.JobID = job.ID
	in.RoleName = role.Name
	order, err := e.tracker.CreateOrder(ctx, in)
	if err != nil {
		return production.Order{}, err
	}
	e.appendLog(ctx, jobID, LogEntry{
		Action: "production.order_created",
		Detail: fmt.Sprintf("%s order for %s", order.Type, roleLabel(role.ID, role.Name)),
		Meta:   map[string]any{"order_id": order.ID, "order_type": string(order.Type), "role_id": role.ID, "lines": len(order.Lines)},
	}, actor)
	return order, nil
}

// ProductionOrders lists the job's orders.
func (e *Engine) ProductionOrders(ctx context.Context, jobID string) ([]production.Order, error) {
	if _, err := e.repo.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return e.tracker.ListByJob(ctx, jobID)
}

// RecordDelivery applies a delivery, recomputes readiness and, when the job
// is in production and every role is now supplied, advances it to assembly.
func (e *Engine) RecordDelivery(ctx context.Context, orderID string, delivery []production.DeliveryLine, actor string) (DeliveryOutcome, error) {
	order, err := e.tracker.Get(ctx, orderID)
	if err != nil {
		return DeliveryOutcome{}, err
	}
	unlock, err := e.locker.Lock(ctx, shared.JobLockKey(order.JobID))
	if err != nil {
		return DeliveryOutcome{}, err
	}
	defer unlock()

	updated, err := e.tracker.RecordDelivery(ctx, orderID, delivery)
	if err != nil {
		return DeliveryOutcome{}, err
	}
	e.appendLog(ctx, updated.JobID, LogEntry{
		Action: "production.delivery_recorded",
		Detail: fmt.Sprintf("delivery on %s order for %s: %s", updated.Type, roleLabel(updated.RoleID, updated.RoleName), updated.Status),
		Meta:   map[string]any{"order_id": updated.ID, "status": string(updated.Status), "lines": len(delivery)},
	}, actor)

	job, err := e.repo.Get(ctx, updated.JobID)
	if err != nil {
		return DeliveryOutcome{}, err
	}
	orders, err := e.tracker.ListByJob(ctx, job.ID)
	if err != nil {
		return DeliveryOutcome{}, err
	}
	result := DeliveryOutcome{
		Order:     updated,
		Readiness: production.Readiness(roleRequirements(job.Roles), orders),
		Job:       job,
	}
	if job.Status != StatusInProduction || !result.Readiness.ReadyForAssembly {
		return result, nil
	}
	saved, err := e.transitionLocked(ctx, job, TransitionRequest{
		Target: StatusAssemblyReady,
		Patch:  Patch{Note: "all production orders delivered"},
		Actor:  actor,
	})
	if e.observer != nil {
		e.observer.ObserveTransition(string(job.Status), string(StatusAssemblyReady), err)
	}
	if err != nil {
		e.logger.Warn("workflow: auto advance to assembly", slog.String("job_id", job.ID), slog.Any("error", err))
		return result, nil
	}
	result.Job = saved
	result.Advanced = true
	return result, nil
}

func (e *Engine) loadEnv(ctx context.Context, job Job, req TransitionRequest) (Env, error) {
	env := Env{Now: e.now(), NewID: e.newID, Reconciler: e.reconciler}
	target := req.Target
	g, gctx := errgroup.WithContext(ctx)
	if target == StatusPricing && job.StartType == StartCustomerMeasure && e.documents != nil {
		// Roles patched in the same call replace the stored ones.
		roles := job.Roles
		if req.Patch.Roles != nil {
			roles = req.Patch.Roles
		}
		g.Go(func() error {
			refs := make([]documents.RoleRef, len(roles))
			for i, r := range roles {
				refs[i] = documents.RoleRef{ID: r.ID, Name: r.Name}
			}
			missing, err := e.documents.MissingDrawings(gctx, job.ID, refs)
			env.MissingDrawings = missing
			return err
		})
	}
	if (target == StatusInProduction || target == StatusAssemblyReady) && e.tracker != nil {
		g.Go(func() error {
			orders, err := e.tracker.ListByJob(gctx, job.ID)
			env.Orders = orders
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Env{}, err
	}
	return env, nil
}

type stockEffects struct {
	compensate func()
	shortfalls []shared.Shortfall
}

// runStock carries out the ledger side of a transition and folds the result
// into the outcome's job snapshot and log entry.
func (e *Engine) runStock(ctx context.Context, current Job, out *Outcome, now time.Time) (stockEffects, error) {
	if e.ledger == nil {
		return stockEffects{}, fmt.Errorf("workflow: stock ledger not configured")
	}
	intent := out.Stock
	key := fmt.Sprintf("%s:%s:v%d", current.ID, intent.Op, current.Version)
	switch intent.Op {
	case stock.OpReserve:
		return e.reserveNow(ctx, current.ID, key, out, now)
	case stock.OpConsume:
		return stockEffects{}, e.consume(ctx, current.ID, key+":"+linesDigest(intent.Lines, intent.Pending), out, now)
	default:
		return stockEffects{}, fmt.Errorf("workflow: unsupported stock operation %s", intent.Op)
	}
}

// reserveNow reserves what is available now and moves the rest to pending
// purchase lines.
func (e *Engine) reserveNow(ctx context.Context, jobID, key string, out *Outcome, now time.Time) (stockEffects, error) {
	projections, err := e.ledger.Preview(ctx, out.Stock.Lines)
	if err != nil {
		return stockEffects{}, err
	}
	var (
		reserve []stock.Line
		fx      stockEffects
	)
	job := &out.Job
	job.Stock.Items = nil
	job.PendingPO = nil
	for _, p := range projections {
		if p.Reservable > 0 {
			reserve = append(reserve, stock.Line{ItemID: p.ItemID, Qty: p.Reservable})
			job.Stock.Items = append(job.Stock.Items, StockLine{ID: p.ItemID, Name: p.Name, ProductCode: p.ProductCode, ColorCode: p.ColorCode, Qty: p.Reservable, Unit: p.Unit})
		}
		if p.Shortfall > 0 {
			job.PendingPO = append(job.PendingPO, StockLine{ID: p.ItemID, Name: p.Name, ProductCode: p.ProductCode, ColorCode: p.ColorCode, Qty: p.Shortfall, Unit: p.Unit})
			fx.shortfalls = append(fx.shortfalls, shared.Shortfall{
				ItemID: p.ItemID, Name: p.Name, Requested: p.Qty, OnHand: p.OnHand, Reserved: p.Reserved, Missing: p.Shortfall,
			})
		}
	}
	if len(reserve) > 0 {
		if _, err := e.ledger.Reserve(ctx, stock.Batch{Reference: jobID, Key: key, Lines: reserve}); err != nil {
			return stockEffects{}, err
		}
		fx.compensate = func() {
			// The request may already be cancelled; the release has to land anyway.
			ctx := context.WithoutCancel(ctx)
			if _, err := e.ledger.Release(ctx, stock.Batch{Reference: jobID, Lines: reserve}); err != nil {
				e.logger.Error("workflow: release after failed save", slog.String("job_id", jobID), slog.Any("error", err))
				return
			}
			if err := e.ledger.Forget(ctx, stock.OpReserve, key); err != nil {
				e.logger.Error("workflow: forget reserve key", slog.String("job_id", jobID), slog.String("key", key), slog.Any("error", err))
			}
		}
	}
	job.Stock.Mode = StockReserved
	job.Stock.Ready = len(job.PendingPO) == 0
	job.Stock.ReservedAt = &now
	out.Log.Meta["reserved_lines"] = len(reserve)
	out.Log.Meta["pending_lines"] = len(job.PendingPO)
	return fx, nil
}

// consume deducts the job's lines. Lines taken from the job's own
// reservation skip the reserved-stock check; every other line needs
// ConfirmReservedUse when it eats into another job's reservation. A batch
// already committed under key by an attempt whose save failed is folded into
// the job instead of being applied twice.
func (e *Engine) consume(ctx context.Context, jobID, key string, out *Outcome, now time.Time) error {
	intent := out.Stock
	lines := append(append([]stock.Line(nil), intent.Lines...), intent.Pending...)
	applied, err := e.ledger.Applied(ctx, stock.OpConsume, key)
	if err != nil {
		return err
	}
	var res stock.BatchResult
	if applied {
		res, err = e.replayedConsume(ctx, lines)
		if err != nil {
			return err
		}
		out.Log.Meta["replayed"] = true
		e.logger.Warn("workflow: consume already committed, folding into job", slog.String("job_id", jobID), slog.String("key", key))
	} else {
		if err := e.confirmReservedUse(ctx, intent); err != nil {
			return err
		}
		res, err = e.ledger.Consume(ctx, stock.Batch{Reference: jobID, Key: key, Lines: lines})
		if err != nil {
			return err
		}
	}
	job := &out.Job
	job.Stock.Items = make([]StockLine, 0, len(res.Lines))
	var usedReserved []string
	for _, l := range res.Lines {
		job.Stock.Items = append(job.Stock.Items, StockLine{ID: l.ItemID, Name: l.Name, ProductCode: l.ProductCode, ColorCode: l.ColorCode, Qty: l.Qty, Unit: l.Unit})
		if l.UsesReservedStock {
			usedReserved = append(usedReserved, l.ItemID)
		}
	}
	job.Stock.Mode = StockConsumed
	job.Stock.Ready = true
	job.Stock.ConsumedAt = &now
	job.PendingPO = nil
	out.Log.Meta["consumed_lines"] = len(res.Lines)
	if len(usedReserved) > 0 {
		out.Log.Meta["uses_reserved_stock"] = usedReserved
	}
	return nil
}

func (e *Engine) confirmReservedUse(ctx context.Context, intent *StockIntent) error {
	if intent.ConfirmReservedUse {
		return nil
	}
	check := append(append([]stock.Line(nil), intent.Lines...), intent.Pending...)
	if intent.OwnReservation {
		check = intent.Pending
	}
	if len(check) == 0 {
		return nil
	}
	projections, err := e.ledger.Preview(ctx, check)
	if err != nil {
		return err
	}
	var problems []string
	for _, p := range projections {
		if p.UsesReservedStock {
			problems = append(problems, fmt.Sprintf("%s: consuming %g uses stock reserved by other jobs (available %g); confirmation required",
				roleLabel(p.ItemID, p.Name), p.Qty, p.Available))
		}
	}
	return shared.NewValidationError(problems)
}

// replayedConsume rebuilds the batch result of a committed consume from the
// item catalog. Counters are not touched.
func (e *Engine) replayedConsume(ctx context.Context, lines []stock.Line) (stock.BatchResult, error) {
	projections, err := e.ledger.Preview(ctx, lines)
	if err != nil {
		return stock.BatchResult{}, err
	}
	res := stock.BatchResult{Op: stock.OpConsume, Lines: make([]stock.LineResult, 0, len(projections))}
	for _, p := range projections {
		res.Lines = append(res.Lines, stock.LineResult{
			ItemID: p.ItemID, Name: p.Name, ProductCode: p.ProductCode, ColorCode: p.ColorCode,
			Unit: p.Unit, Qty: p.Qty, OnHand: p.OnHand, Reserved: p.Reserved, Available: p.Available,
		})
	}
	return res, nil
}

// linesDigest identifies a consume batch by content so a retried request
// with the same lines maps to the same ledger key.
func linesDigest(groups ...[]stock.Line) string {
	totals := map[string]float64{}
	for _, lines := range groups {
		for _, l := range lines {
			totals[l.ItemID] += l.Qty
		}
	}
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		fmt.Fprintf(h, "%s=%g;", id, totals[id])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// appendLog is best effort: a failed append is queued for retry and never
// fails the already committed operation.
func (e *Engine) appendLog(ctx context.Context, jobID string, entry LogEntry, actor string) {
	if e.audit == nil {
		return
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	if actor != "" {
		meta["actor"] = actor
	}
	rec := shared.JobLog{
		ID:        e.newID(),
		JobID:     jobID,
		Action:    entry.Action,
		Detail:    entry.Detail,
		Meta:      meta,
		CreatedAt: e.now(),
	}
	err := e.audit.Append(ctx, rec)
	if err == nil {
		return
	}
	e.logger.Warn("workflow: audit append failed", slog.String("job_id", jobID), slog.String("action", entry.Action), slog.Any("error", err))
	if e.queue == nil {
		return
	}
	if qerr := e.queue.EnqueueJobLog(ctx, rec); qerr != nil {
		e.logger.Error("workflow: audit retry enqueue failed", slog.String("job_id", jobID), slog.Any("error", qerr))
	}
}
