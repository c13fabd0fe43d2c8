package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jobtrack/internal/documents"
	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/shared"
	"github.com/odyssey-erp/jobtrack/internal/stock"
)

var errStoreDown = errors.New("store unavailable")

type memJobRepo struct {
	mu       sync.Mutex
	jobs     map[string]Job
	failSave bool
	// onFail runs when a save is rejected, before the error is returned.
	onFail func()
}

func (r *memJobRepo) Create(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memJobRepo) Get(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, shared.NotFound("job", id)
	}
	return job.Clone(), nil
}

func (r *memJobRepo) Save(ctx context.Context, job Job, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		if r.onFail != nil {
			r.onFail()
		}
		return errStoreDown
	}
	stored, ok := r.jobs[job.ID]
	if !ok {
		return shared.NotFound("job", job.ID)
	}
	if stored.Version != expectedVersion {
		return shared.ErrConflict
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memJobRepo) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, job := range r.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job.Clone())
	}
	return out, nil
}

func (r *memJobRepo) stored(id string) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Clone()
}

type stockStore struct {
	mu    sync.Mutex
	items map[string]stock.Item
}

type stockTx struct {
	source map[string]stock.Item
	staged map[string]stock.Item
}

func (s *stockStore) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &stockTx{source: s.items, staged: map[string]stock.Item{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, item := range tx.staged {
		s.items[id] = item
	}
	return nil
}

func (s *stockStore) ListItems(ctx context.Context) ([]stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stock.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out, nil
}

func (s *stockStore) GetItems(ctx context.Context, ids []string) (map[string]stock.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]stock.Item{}
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (s *stockStore) item(id string) stock.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id]
}

func (tx *stockTx) GetItemsForUpdate(ctx context.Context, ids []string) (map[string]stock.Item, error) {
	out := map[string]stock.Item{}
	for _, id := range ids {
		if item, ok := tx.source[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (tx *stockTx) UpdateCounters(ctx context.Context, item stock.Item) error {
	tx.staged[item.ID] = item
	return nil
}

func (tx *stockTx) InsertMovement(ctx context.Context, m stock.Movement) error { return nil }

type fakeTracker struct {
	mu     sync.Mutex
	orders map[string]production.Order
	seq    int
}

func (f *fakeTracker) CreateOrder(ctx context.Context, in production.CreateInput) (production.Order, error) {
	if err := shared.NewValidationError(production.ValidateCreate(in)); err != nil {
		return production.Order{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	order := production.Order{
		ID:       fmt.Sprintf("po-%d", f.seq),
		JobID:    in.JobID,
		RoleID:   in.RoleID,
		RoleName: in.RoleName,
		Type:     in.Type,
		Lines:    append([]production.Line(nil), in.Lines...),
		Status:   production.StatusOrdered,
	}
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeTracker) Get(ctx context.Context, id string) (production.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return production.Order{}, shared.NotFound("production order", id)
	}
	return order, nil
}

func (f *fakeTracker) RecordDelivery(ctx context.Context, orderID string, delivery []production.DeliveryLine) (production.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return production.Order{}, shared.NotFound("production order", orderID)
	}
	next, problems := production.ApplyDelivery(order, delivery, testNow)
	if err := shared.NewValidationError(problems); err != nil {
		return production.Order{}, err
	}
	f.orders[orderID] = next
	return next, nil
}

func (f *fakeTracker) ListByJob(ctx context.Context, jobID string) ([]production.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []production.Order
	for i := 1; i <= f.seq; i++ {
		if o, ok := f.orders[fmt.Sprintf("po-%d", i)]; ok && o.JobID == jobID {
			out = append(out, o)
		}
	}
	return out, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memIdempotency) Claim(ctx context.Context, module, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memIdempotency) Forget(ctx context.Context, module, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

func (m *memIdempotency) Seen(ctx context.Context, module, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[module+":"+key], nil
}

// fakeDocs reports a missing drawing for every role not listed in drawn.
type fakeDocs struct {
	mu    sync.Mutex
	drawn map[string]bool
	seen  [][]string
}

func (f *fakeDocs) MissingDrawings(ctx context.Context, jobID string, roles []documents.RoleRef) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(roles))
	var missing []string
	for i, r := range roles {
		ids[i] = r.ID
		if !f.drawn[r.ID] {
			missing = append(missing, fmt.Sprintf("%s: measurement drawing missing", roleLabel(r.ID, r.Name)))
		}
	}
	f.seen = append(f.seen, ids)
	return missing, nil
}

func (f *fakeDocs) draw(roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drawn[roleID] = true
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []shared.JobLog
	fail    bool
}

func (f *fakeAudit) Append(ctx context.Context, entry shared.JobLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, jobID string) ([]shared.JobLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []shared.JobLog
	for _, e := range f.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudit) actions(jobID string) []string {
	entries, _ := f.List(context.Background(), jobID)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

type fakeQueue struct {
	mu         sync.Mutex
	logs       []shared.JobLog
	shortfalls map[string][]shared.Shortfall
}

func (f *fakeQueue) EnqueueJobLog(ctx context.Context, entry shared.JobLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeQueue) EnqueueShortfall(ctx context.Context, jobID string, shortfalls []shared.Shortfall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shortfalls[jobID] = append(f.shortfalls[jobID], shortfalls...)
	return nil
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveTransition(from, to string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, fmt.Sprintf("%s>%s:%t", from, to, err == nil))
}

type harness struct {
	engine   *Engine
	repo     *memJobRepo
	stock    *stockStore
	idem     *memIdempotency
	tracker  *fakeTracker
	docs     *fakeDocs
	audit    *fakeAudit
	queue    *fakeQueue
	observer *recordingObserver
}

func newHarness(items ...stock.Item) *harness {
	h := &harness{
		repo:     &memJobRepo{jobs: map[string]Job{}},
		stock:    &stockStore{items: map[string]stock.Item{}},
		idem:     &memIdempotency{keys: map[string]bool{}},
		tracker:  &fakeTracker{orders: map[string]production.Order{}},
		docs:     &fakeDocs{drawn: map[string]bool{}},
		audit:    &fakeAudit{},
		queue:    &fakeQueue{shortfalls: map[string][]shared.Shortfall{}},
		observer: &recordingObserver{},
	}
	for _, item := range items {
		h.stock.items[item.ID] = item
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = NewEngine(Deps{
		Repo:      h.repo,
		Ledger:    stock.NewLedger(h.stock, h.idem, nil, logger),
		Tracker:   h.tracker,
		Documents: h.docs,
		Audit:     h.audit,
		Queue:     h.queue,
		Observer:  h.observer,
		Logger:    logger,
	})
	ids := 0
	h.engine.now = func() time.Time { return testNow }
	h.engine.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	return h
}

// seed stores job directly at an arbitrary status.
func (h *harness) seed(t *testing.T, job Job) Job {
	t.Helper()
	if job.Version == 0 {
		job.Version = 1
	}
	require.NoError(t, h.repo.Create(context.Background(), job))
	return job
}

func stockJob(status Status) Job {
	job := pricedJob()
	job.ID = "job-stock"
	job.Status = status
	job.Version = 1
	return job
}

func TestCreateJobStartsAtInitialStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cases := map[StartType]Status{
		StartMeasure:         StatusMeasureAppointmentPending,
		StartCustomerMeasure: StatusCustomerMeasurePending,
		StartService:         StatusServiceAppointmentPending,
	}
	for st, want := range cases {
		job, err := h.engine.CreateJob(ctx, CreateInput{CustomerID: "c-1", StartType: st, Actor: "ayse"})
		require.NoError(t, err)
		require.Equal(t, want, job.Status)
		require.EqualValues(t, 1, job.Version)
	}

	job, err := h.engine.CreateJob(ctx, CreateInput{CustomerID: "c-1", StartType: StartArchive, OfferTotal: decPtr("900")})
	require.NoError(t, err)
	require.Equal(t, StatusFinancePending, job.Status)
	require.True(t, job.Offer.Total.Equal(dec("900")))

	svc, err := h.engine.CreateJob(ctx, CreateInput{CustomerID: "c-1", StartType: StartService, FixedFee: decPtr("150")})
	require.NoError(t, err)
	require.True(t, svc.Service.TotalCost.Equal(dec("150")))

	logs, err := h.engine.Logs(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "job.created", logs[0].Action)
}

func TestCreateJobListsEveryProblem(t *testing.T) {
	h := newHarness()
	_, err := h.engine.CreateJob(context.Background(), CreateInput{
		StartType: StartArchive,
		Roles:     []Role{{ID: "pvc"}, {ID: "pvc"}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, []string{
		"customer required",
		"archived jobs require the agreed offer total",
		"role pvc listed twice",
	}, shared.Messages(err))
}

func TestDisallowedTransitionLeavesJobUnchanged(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	job, err := h.engine.CreateJob(ctx, CreateInput{CustomerID: "c-1", StartType: StartMeasure})
	require.NoError(t, err)

	_, err = h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusClosed})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, job, h.repo.stored(job.ID))
	require.Equal(t, []string{"OLCU_RANDEVU_BEKLIYOR>KAPALI:false"}, h.observer.calls)
	require.Equal(t, []string{"job.created"}, h.audit.actions(job.ID))
}

func TestMeasureToAgreementFlow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	job, err := h.engine.CreateJob(ctx, CreateInput{CustomerID: "c-1", StartType: StartMeasure, Roles: []Role{{ID: "pvc", Name: "PVC"}}})
	require.NoError(t, err)

	at := testNow.AddDate(0, 0, 1)
	steps := []TransitionRequest{
		{Target: StatusMeasureScheduled, Patch: Patch{Measure: &MeasurePatch{AppointmentDate: &at}}},
		{Target: StatusMeasured},
		{Target: StatusPricing},
		{Target: StatusPriceGiven, Patch: Patch{Offer: &OfferPatch{RolePrices: map[string]decimal.Decimal{"pvc": dec("2000")}}}},
		{Target: StatusAgreement, Patch: Patch{Discount: &DiscountPatch{DiscountTotal: decPtr("100")}}},
	}
	for _, step := range steps {
		job, err = h.engine.Transition(ctx, job.ID, step)
		require.NoError(t, err, "to %s", step.Target)
	}
	require.EqualValues(t, 6, job.Version)
	require.True(t, job.Offer.Total.Equal(dec("1900")))

	_, err = h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusStockPending, Patch: Patch{PaymentPlan: &payment.Plan{Cash: dec("1899.99")}}})
	require.ErrorIs(t, err, shared.ErrReconciliation)
	require.Equal(t, job, h.repo.stored(job.ID))

	job, err = h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusStockPending, Patch: Patch{PaymentPlan: &payment.Plan{Cash: dec("1000"), Card: dec("900")}}})
	require.NoError(t, err)
	require.Equal(t, StageStock, CurrentStage(job).Key)

	require.Equal(t, []string{
		"job.created",
		"status.changed",
		"status.changed",
		"status.changed",
		"offer.priced",
		"status.changed",
		"agreement.completed",
	}, h.audit.actions(job.ID))
}

func TestReserveNowSplitsShortfallIntoPendingPurchase(t *testing.T) {
	h := newHarness(
		stock.Item{ID: "glass", Name: "Glass 4mm", OnHand: 10},
		stock.Item{ID: "profile", Name: "Profile", OnHand: 5, Reserved: 3},
	)
	job := h.seed(t, stockJob(StatusStockPending))

	out, err := h.engine.Transition(context.Background(), job.ID, TransitionRequest{
		Target: StatusProduceLater,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "glass", Qty: 4}, {ItemID: "profile", Qty: 5}}}},
	})
	require.NoError(t, err)
	require.Equal(t, StockReserved, out.Stock.Mode)
	require.False(t, out.Stock.Ready)
	require.Len(t, out.Stock.Items, 2)
	require.Equal(t, []StockLine{{ID: "profile", Name: "Profile", Qty: 3}}, out.PendingPO)

	require.InDelta(t, 4, h.stock.item("glass").Reserved, 1e-9)
	require.InDelta(t, 5, h.stock.item("profile").Reserved, 1e-9)

	shortfalls := h.queue.shortfalls[job.ID]
	require.Len(t, shortfalls, 1)
	require.Equal(t, "profile", shortfalls[0].ItemID)
	require.InDelta(t, 3, shortfalls[0].Missing, 1e-9)

	logs := h.audit.entries
	last := logs[len(logs)-1]
	require.Equal(t, "stock.reserved", last.Action)
	require.Equal(t, 2, last.Meta["reserved_lines"])
	require.Equal(t, 1, last.Meta["pending_lines"])
}

func TestProduceLaterNeedsPurchaseBeforeConsuming(t *testing.T) {
	h := newHarness(
		stock.Item{ID: "glass", OnHand: 10},
		stock.Item{ID: "profile", OnHand: 2},
	)
	ctx := context.Background()
	job := h.seed(t, stockJob(StatusStockPending))

	_, err := h.engine.Transition(ctx, job.ID, TransitionRequest{
		Target: StatusProduceLater,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "glass", Qty: 4}, {ItemID: "profile", Qty: 5}}}},
	})
	require.NoError(t, err)

	_, err = h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusProductionReady})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, []string{"1 purchase lines still pending"}, shared.Messages(err))

	// purchase arrives
	h.stock.mu.Lock()
	profile := h.stock.items["profile"]
	profile.OnHand += 3
	h.stock.items["profile"] = profile
	h.stock.mu.Unlock()

	out, err := h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusProductionReady, Patch: Patch{Stock: &StockPatch{PurchaseReceived: true}}})
	require.NoError(t, err)
	require.Equal(t, StockConsumed, out.Stock.Mode)
	require.True(t, out.Stock.Ready)
	require.Empty(t, out.PendingPO)

	glass := h.stock.item("glass")
	require.InDelta(t, 6, glass.OnHand, 1e-9)
	require.InDelta(t, 0, glass.Reserved, 1e-9)
	profile = h.stock.item("profile")
	require.InDelta(t, 0, profile.OnHand, 1e-9)
	require.InDelta(t, 0, profile.Reserved, 1e-9)
}

func TestProduceNowRequiresConfirmationForReservedStock(t *testing.T) {
	h := newHarness(stock.Item{ID: "profile", Name: "Profile", OnHand: 5, Reserved: 4})
	ctx := context.Background()
	job := h.seed(t, stockJob(StatusStockPending))
	patch := Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "profile", Qty: 3}}}}

	_, err := h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusProductionReady, Patch: patch})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, shared.Messages(err)[0], "confirmation required")
	require.InDelta(t, 5, h.stock.item("profile").OnHand, 1e-9)
	require.Equal(t, StatusStockPending, h.repo.stored(job.ID).Status)

	patch.Stock.ConfirmReservedUse = true
	out, err := h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusProductionReady, Patch: patch})
	require.NoError(t, err)
	require.Equal(t, StatusProductionReady, out.Status)
	item := h.stock.item("profile")
	require.InDelta(t, 2, item.OnHand, 1e-9)
	require.InDelta(t, 1, item.Reserved, 1e-9)

	logs := h.audit.entries
	require.Equal(t, []string{"profile"}, logs[len(logs)-1].Meta["uses_reserved_stock"])
}

func TestConsumeBeyondOnHandFailsWithShortfall(t *testing.T) {
	h := newHarness(stock.Item{ID: "profile", OnHand: 2})
	job := h.seed(t, stockJob(StatusStockPending))
	_, err := h.engine.Transition(context.Background(), job.ID, TransitionRequest{
		Target: StatusProductionReady,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "profile", Qty: 3}}, ConfirmReservedUse: true}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, StatusStockPending, h.repo.stored(job.ID).Status)
}

func TestFailedSaveReleasesReservation(t *testing.T) {
	h := newHarness(stock.Item{ID: "glass", OnHand: 10})
	job := h.seed(t, stockJob(StatusStockPending))
	h.repo.failSave = true

	_, err := h.engine.Transition(context.Background(), job.ID, TransitionRequest{
		Target: StatusProduceLater,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "glass", Qty: 4}}}},
	})
	require.ErrorIs(t, err, errStoreDown)
	require.InDelta(t, 0, h.stock.item("glass").Reserved, 1e-9)
	h.repo.failSave = false
	require.Equal(t, job.Clone(), h.repo.stored(job.ID))
}

func TestRetryAfterFailedSaveReservesAgain(t *testing.T) {
	h := newHarness(stock.Item{ID: "glass", OnHand: 10})
	ctx := context.Background()
	job := h.seed(t, stockJob(StatusStockPending))
	req := TransitionRequest{
		Target: StatusProduceLater,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "glass", Qty: 4}}}},
	}

	h.repo.failSave = true
	_, err := h.engine.Transition(ctx, job.ID, req)
	require.ErrorIs(t, err, errStoreDown)
	h.repo.failSave = false

	out, err := h.engine.Transition(ctx, job.ID, req)
	require.NoError(t, err)
	require.Equal(t, StatusProduceLater, out.Status)
	require.InDelta(t, 4, h.stock.item("glass").Reserved, 1e-9)
}

func TestCancelledRequestStillReleasesReservation(t *testing.T) {
	h := newHarness(stock.Item{ID: "glass", OnHand: 10})
	job := h.seed(t, stockJob(StatusStockPending))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.repo.failSave = true
	h.repo.onFail = cancel

	_, err := h.engine.Transition(ctx, job.ID, TransitionRequest{
		Target: StatusProduceLater,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "glass", Qty: 4}}}},
	})
	require.ErrorIs(t, err, errStoreDown)
	require.InDelta(t, 0, h.stock.item("glass").Reserved, 1e-9)
	seen, err := h.idem.Seen(context.Background(), "stock.RESERVE", "job-stock:RESERVE:v1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestConsumeCommittedBeforeFailedSaveIsNotAppliedTwice(t *testing.T) {
	h := newHarness(stock.Item{ID: "profile", Name: "Profile", OnHand: 5})
	ctx := context.Background()
	job := h.seed(t, stockJob(StatusStockPending))
	req := TransitionRequest{
		Target: StatusProductionReady,
		Patch:  Patch{Stock: &StockPatch{Items: []stock.Line{{ItemID: "profile", Qty: 3}}}},
	}

	h.repo.failSave = true
	_, err := h.engine.Transition(ctx, job.ID, req)
	require.ErrorIs(t, err, errStoreDown)
	require.InDelta(t, 2, h.stock.item("profile").OnHand, 1e-9)
	h.repo.failSave = false

	out, err := h.engine.Transition(ctx, job.ID, req)
	require.NoError(t, err)
	require.Equal(t, StatusProductionReady, out.Status)
	require.Equal(t, StockConsumed, out.Stock.Mode)
	require.Equal(t, []StockLine{{ID: "profile", Name: "Profile", Qty: 3}}, out.Stock.Items)
	require.InDelta(t, 2, h.stock.item("profile").OnHand, 1e-9)

	logs := h.audit.entries
	require.Equal(t, true, logs[len(logs)-1].Meta["replayed"])
}

func TestPendingPurchaseLinesNeedConfirmationForReservedStock(t *testing.T) {
	h := newHarness(stock.Item{ID: "profile", Name: "Profile", OnHand: 10, Reserved: 10})
	ctx := context.Background()
	job := stockJob(StatusProduceLater)
	job.Stock.Mode = StockReserved
	job.PendingPO = []StockLine{{ID: "profile", Name: "Profile", Qty: 5}}
	job = h.seed(t, job)

	_, err := h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusProductionReady, Patch: Patch{Stock: &StockPatch{PurchaseReceived: true}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, shared.Messages(err)[0], "Profile: consuming 5 uses stock reserved by other jobs")
	item := h.stock.item("profile")
	require.InDelta(t, 10, item.OnHand, 1e-9)
	require.InDelta(t, 10, item.Reserved, 1e-9)
	require.Equal(t, StatusProduceLater, h.repo.stored(job.ID).Status)

	out, err := h.engine.Transition(ctx, job.ID, TransitionRequest{
		Target: StatusProductionReady,
		Patch:  Patch{Stock: &StockPatch{PurchaseReceived: true, ConfirmReservedUse: true}},
	})
	require.NoError(t, err)
	require.Equal(t, StockConsumed, out.Stock.Mode)
	item = h.stock.item("profile")
	require.InDelta(t, 5, item.OnHand, 1e-9)
	require.InDelta(t, 5, item.Reserved, 1e-9)
}

func TestAuditFailureIsQueuedForRetry(t *testing.T) {
	h := newHarness()
	h.audit.fail = true
	job, err := h.engine.CreateJob(context.Background(), CreateInput{CustomerID: "c-1", StartType: StartMeasure, Actor: "mehmet"})
	require.NoError(t, err)
	require.Len(t, h.queue.logs, 1)
	require.Equal(t, "job.created", h.queue.logs[0].Action)
	require.Equal(t, job.ID, h.queue.logs[0].JobID)
	require.Equal(t, "mehmet", h.queue.logs[0].Meta["actor"])
}

func TestCustomerMeasuredJobNeedsDrawings(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	job := h.seed(t, Job{ID: "job-cm", StartType: StartCustomerMeasure, Status: StatusMeasured, Roles: []Role{{ID: "pvc", Name: "PVC"}}})

	_, err := h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusPricing})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, []string{"PVC: measurement drawing missing"}, shared.Messages(err))

	h.docs.draw("pvc")
	out, err := h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusPricing})
	require.NoError(t, err)
	require.Equal(t, StatusPricing, out.Status)
}

func TestDrawingsCheckedForRolesPatchedIntoPricing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.docs.draw("pvc")
	aluminium := []Role{{ID: "alu", Name: "Aluminium"}}

	bare := h.seed(t, Job{ID: "job-bare", StartType: StartCustomerMeasure, Status: StatusMeasured})
	_, err := h.engine.Transition(ctx, bare.ID, TransitionRequest{Target: StatusPricing, Patch: Patch{Roles: aluminium}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, []string{"Aluminium: measurement drawing missing"}, shared.Messages(err))
	require.Equal(t, bare.Clone(), h.repo.stored(bare.ID))

	swapped := h.seed(t, Job{ID: "job-swap", StartType: StartCustomerMeasure, Status: StatusMeasured, Roles: []Role{{ID: "pvc", Name: "PVC"}}})
	_, err = h.engine.Transition(ctx, swapped.ID, TransitionRequest{Target: StatusPricing, Patch: Patch{Roles: aluminium}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, StatusMeasured, h.repo.stored(swapped.ID).Status)

	out, err := h.engine.Transition(ctx, swapped.ID, TransitionRequest{Target: StatusPricing, Patch: Patch{Roles: []Role{{ID: "pvc", Name: "PVC"}}}})
	require.NoError(t, err)
	require.Equal(t, StatusPricing, out.Status)
	require.Equal(t, [][]string{{"alu"}, {"alu"}, {"pvc"}}, h.docs.seen)
}

func TestDeliveriesAdvanceJobToAssembly(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	job := h.seed(t, stockJob(StatusProductionReady))

	_, err := h.engine.CreateProductionOrder(ctx, job.ID, production.CreateInput{RoleID: "wood", Type: production.TypeInternal, Lines: []production.Line{{Description: "frame", Quantity: 1}}}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	pvc, err := h.engine.CreateProductionOrder(ctx, job.ID, production.CreateInput{RoleID: "pvc", Type: production.TypeInternal, Lines: []production.Line{{Description: "frame", Quantity: 4}}}, "")
	require.NoError(t, err)
	require.Equal(t, "PVC", pvc.RoleName)
	glass, err := h.engine.CreateProductionOrder(ctx, job.ID, production.CreateInput{RoleID: "pvc", Type: production.TypeGlass, Lines: []production.Line{{GlassType: "4-16-4", Quantity: 4}}}, "")
	require.NoError(t, err)
	alu, err := h.engine.CreateProductionOrder(ctx, job.ID, production.CreateInput{RoleID: "alu", Type: production.TypeExternal, SupplierName: "Alu Co", Lines: []production.Line{{Description: "door", Quantity: 1}}}, "")
	require.NoError(t, err)

	_, err = h.engine.Transition(ctx, job.ID, TransitionRequest{Target: StatusInProduction})
	require.NoError(t, err)

	res, err := h.engine.RecordDelivery(ctx, pvc.ID, []production.DeliveryLine{{LineIndex: 0, Qty: 2}}, "")
	require.NoError(t, err)
	require.Equal(t, production.StatusPartial, res.Order.Status)
	require.False(t, res.Advanced)

	_, err = h.engine.RecordDelivery(ctx, pvc.ID, []production.DeliveryLine{{LineIndex: 0, Qty: 5}}, "")
	require.NoError(t, err)
	_, err = h.engine.RecordDelivery(ctx, alu.ID, []production.DeliveryLine{{LineIndex: 0, Qty: 1}}, "")
	require.NoError(t, err)

	overview, err := h.engine.Stages(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StageProduction, overview.Stage)
	require.NotNil(t, overview.Readiness)
	require.False(t, overview.Readiness.ReadyForAssembly)

	res, err = h.engine.RecordDelivery(ctx, glass.ID, []production.DeliveryLine{{LineIndex: 0, Qty: 3, ProblemQty: 1, ProblemType: "broken"}}, "")
	require.NoError(t, err)
	require.False(t, res.Advanced)
	require.Len(t, res.Order.Issues, 1)

	res, err = h.engine.RecordDelivery(ctx, glass.ID, []production.DeliveryLine{{LineIndex: 0, Qty: 1}}, "")
	require.NoError(t, err)
	require.True(t, res.Readiness.ReadyForAssembly)
	require.True(t, res.Advanced)
	require.Equal(t, StatusAssemblyReady, res.Job.Status)
	require.True(t, res.Job.Production.ReadyForAssembly)
	require.Equal(t, StatusAssemblyReady, h.repo.stored(job.ID).Status)
}

func TestProductionOrdersOnlyDuringStockOrProduction(t *testing.T) {
	h := newHarness()
	job := h.seed(t, stockJob(StatusAgreement))
	_, err := h.engine.CreateProductionOrder(context.Background(), job.ID, production.CreateInput{RoleID: "pvc", Type: production.TypeInternal, Lines: []production.Line{{Description: "frame", Quantity: 1}}}, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEngineNegotiateKeepsStatus(t *testing.T) {
	h := newHarness()
	job := h.seed(t, stockJob(StatusPriceGiven))
	out, err := h.engine.Negotiate(context.Background(), job.ID, DiscountPatch{RoleDiscounts: map[string]decimal.Decimal{"pvc": dec("100")}}, "ayse")
	require.NoError(t, err)
	require.Equal(t, StatusPriceGiven, out.Status)
	require.True(t, out.Offer.Total.Equal(dec("1400")))
	require.EqualValues(t, 2, h.repo.stored(job.ID).Version)
	require.Equal(t, []string{"offer.negotiated"}, h.audit.actions(job.ID))
}

func TestConcurrentTransitionsAreSerialised(t *testing.T) {
	h := newHarness()
	job := h.seed(t, stockJob(StatusPriceGiven))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Transition(context.Background(), job.ID, TransitionRequest{
				Target: StatusPriceDeclined,
				Patch:  Patch{Rejection: &RejectionPatch{Category: "price", Reason: "budget"}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, shared.ErrValidation) {
				rejected++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)
	require.EqualValues(t, 2, h.repo.stored(job.ID).Version)
}

func TestUnknownJobIsNotFound(t *testing.T) {
	h := newHarness()
	_, err := h.engine.Transition(context.Background(), "missing", TransitionRequest{Target: StatusPricing})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = h.engine.Logs(context.Background(), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
