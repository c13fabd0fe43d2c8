package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/shared"
)

var testNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func testEnv() Env {
	return Env{Now: testNow, Reconciler: payment.NewReconciler(payment.DefaultPolicy())}
}

func pricedJob() Job {
	return Job{
		ID:        "job-1",
		StartType: StartMeasure,
		Status:    StatusPriceGiven,
		Roles:     []Role{{ID: "pvc", Name: "PVC", RequiresGlass: true}, {ID: "alu", Name: "Aluminium"}},
		Offer: Offer{
			Total:      dec("1500"),
			RolePrices: map[string]decimal.Decimal{"pvc": dec("1000"), "alu": dec("500")},
		},
		Version: 3,
	}
}

func TestCurrentStageForMeasuredStatus(t *testing.T) {
	for _, st := range []StartType{StartMeasure, StartCustomerMeasure, StartArchive} {
		job := Job{Status: StatusMeasured, StartType: st}
		require.Equal(t, StageMeasure, CurrentStage(job).Key, "start type %s", st)
	}
	job := Job{Status: StatusMeasured, StartType: StartService}
	require.Equal(t, StageSchedule, CurrentStage(job).Key)
}

func TestStagesView(t *testing.T) {
	view := Stages(Job{Status: StatusAgreement, StartType: StartMeasure})
	require.Len(t, view, 7)
	assert.Equal(t, StageStateDone, view[0].State)
	assert.Equal(t, StageStateDone, view[1].State)
	assert.Equal(t, StageStateCurrent, view[2].State)
	assert.Equal(t, StageStatePending, view[6].State)

	view = Stages(Job{Status: StatusServiceWorking, StartType: StartService})
	require.Len(t, view, 5)
	assert.Equal(t, StageWork, view[2].Key)
	assert.Equal(t, StageStateCurrent, view[2].State)

	view = Stages(Job{Status: "UNKNOWN", StartType: StartMeasure})
	assert.Equal(t, StageStateCurrent, view[0].State)
}

func TestEveryStatusMapsToOneStage(t *testing.T) {
	for _, st := range []StartType{StartMeasure, StartService} {
		seen := map[Status]int{}
		for _, stage := range Flow(st) {
			for _, s := range stage.Statuses {
				seen[s]++
			}
		}
		for s, n := range seen {
			require.Equal(t, 1, n, "status %s", s)
		}
		table := standardTransitions
		if st == StartService {
			table = serviceTransitions
		}
		for from, targets := range table {
			_, ok := StageIndex(st, from)
			require.True(t, ok, "from %s", from)
			for _, to := range targets {
				_, ok := StageIndex(st, to)
				require.True(t, ok, "to %s", to)
			}
		}
	}
}

func TestApplyRejectsUnknownTransition(t *testing.T) {
	job := pricedJob()
	_, err := Apply(job, StatusClosed, Patch{}, testEnv())
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, shared.Messages(err)[0], "not allowed")
}

func TestApplyListsEveryViolation(t *testing.T) {
	job := Job{ID: "job-1", StartType: StartMeasure, Status: StatusPricing, Roles: []Role{{ID: "pvc"}}}
	_, err := Apply(job, StatusPriceGiven, Patch{
		Roles: []Role{{ID: "pvc"}, {ID: ""}, {ID: "pvc"}},
		Offer: &OfferPatch{RolePrices: map[string]decimal.Decimal{"wood": dec("10"), "pvc": dec("-1")}},
	}, testEnv())
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, []string{
		"role 2: id required",
		"role pvc listed twice",
		"price of role pvc must not be negative",
		"price for unknown role wood",
		"offer total must be greater than zero",
	}, shared.Messages(err))
}

func TestPriceOfferSumsRolePrices(t *testing.T) {
	job := pricedJob()
	job.Status = StatusPricing
	job.Offer = Offer{}
	out, err := Apply(job, StatusPriceGiven, Patch{Offer: &OfferPatch{RolePrices: map[string]decimal.Decimal{"pvc": dec("700"), "alu": dec("300.50")}}}, testEnv())
	require.NoError(t, err)
	require.True(t, out.Job.Offer.Total.Equal(dec("1000.50")))
	require.Equal(t, StatusPriceGiven, out.Job.Status)
	require.Equal(t, "offer.priced", out.Log.Action)
	require.Equal(t, "pricing", out.Log.Meta["stage"])
	require.NotNil(t, out.Job.Offer.NotifiedDate)

	job.Roles = nil
	out, err = Apply(job, StatusPriceGiven, Patch{Offer: &OfferPatch{Total: decPtr("250")}}, testEnv())
	require.NoError(t, err)
	require.True(t, out.Job.Offer.Total.Equal(dec("250")))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	job := pricedJob()
	before := job.Clone()
	_, err := Apply(job, StatusAgreement, Patch{Discount: &DiscountPatch{RoleDiscounts: map[string]decimal.Decimal{"pvc": dec("100")}}}, testEnv())
	require.NoError(t, err)
	require.Equal(t, before, job)
}

func TestNegotiationHistoryIsAppendOnly(t *testing.T) {
	job := pricedJob()
	out, err := Apply(job, StatusAgreement, Patch{Discount: &DiscountPatch{RoleDiscounts: map[string]decimal.Decimal{"pvc": dec("100")}}}, testEnv())
	require.NoError(t, err)
	first := out.Job.Offer.NegotiationHistory
	require.Len(t, first, 1)
	require.True(t, out.Job.Offer.RolePrices["pvc"].Equal(dec("900")))

	next, entry, err := Negotiate(out.Job, DiscountPatch{DiscountTotal: decPtr("50")}, testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "offer.negotiated", entry.Action)
	history := next.Offer.NegotiationHistory
	require.Len(t, history, 2)
	require.Equal(t, first[0], history[0])
	require.True(t, history[1].OriginalTotal.Equal(history[0].FinalTotal))
	require.True(t, history[1].FinalTotal.Equal(dec("1350")))
	require.True(t, next.Offer.Total.Equal(dec("1350")))
}

func TestNegotiationRejectsExcessiveDiscount(t *testing.T) {
	_, _, err := Negotiate(pricedJob(), DiscountPatch{RoleDiscounts: map[string]decimal.Decimal{"alu": dec("600"), "wood": dec("1")}}, testNow)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, shared.Messages(err), 3)
}

func TestRejectThenReactivateRestoresOffer(t *testing.T) {
	job := pricedJob()
	out, err := Apply(job, StatusAgreement, Patch{Discount: &DiscountPatch{RoleDiscounts: map[string]decimal.Decimal{"alu": dec("20")}, Note: "loyal customer"}}, testEnv())
	require.NoError(t, err)
	activeOffer := out.Job.Offer.Clone()

	rejected, err := Apply(out.Job, StatusPriceDeclined, Patch{Rejection: &RejectionPatch{Category: "price", Reason: "too expensive"}}, testEnv())
	require.NoError(t, err)
	require.Equal(t, StatusPriceDeclined, rejected.Job.Status)
	require.Equal(t, activeOffer, *rejected.Job.Rejection.LastOffer)

	// the live offer may drift while rejected; the snapshot must not follow it
	rejected.Job.Offer.RolePrices["pvc"] = dec("1")

	reactivated, err := Apply(rejected.Job, StatusPriceGiven, Patch{}, testEnv())
	require.NoError(t, err)
	require.Equal(t, StatusPriceGiven, reactivated.Job.Status)
	require.Equal(t, activeOffer, reactivated.Job.Offer)
	require.Nil(t, reactivated.Job.Rejection)
	require.Equal(t, "offer.reactivated", reactivated.Log.Action)
}

func TestRejectionRequiresCategoryAndReason(t *testing.T) {
	_, err := Apply(pricedJob(), StatusPriceDeclined, Patch{Rejection: &RejectionPatch{}}, testEnv())
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, shared.Messages(err), 2)
}

func TestAgreementCompletionReconcilesPlan(t *testing.T) {
	job := pricedJob()
	job.Status = StatusAgreement

	_, err := Apply(job, StatusStockPending, Patch{PaymentPlan: &payment.Plan{Cash: dec("1000"), Card: dec("499.99")}}, testEnv())
	require.ErrorIs(t, err, shared.ErrReconciliation)

	_, err = Apply(job, StatusStockPending, Patch{}, testEnv())
	require.ErrorIs(t, err, shared.ErrValidation)

	out, err := Apply(job, StatusStockPending, Patch{PaymentPlan: &payment.Plan{Cash: dec("1000"), Card: dec("500")}}, testEnv())
	require.NoError(t, err)
	require.True(t, out.Job.Approval.PaymentPlan.Total.Equal(dec("1500")))
	require.NotNil(t, out.Job.Approval.CompletedAt)
	require.True(t, out.Job.Finance.PreReceived.Equal(dec("1500")))
	require.Equal(t, StageStock, CurrentStage(out.Job).Key)
}

func TestCustomerMeasureNeedsDrawings(t *testing.T) {
	job := Job{ID: "job-1", StartType: StartCustomerMeasure, Status: StatusMeasured, Roles: []Role{{ID: "pvc", Name: "PVC"}}}
	env := testEnv()
	env.MissingDrawings = []string{"PVC: measurement drawing missing", "PVC: technical drawing missing"}
	_, err := Apply(job, StatusPricing, Patch{}, env)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, shared.Messages(err), 2)

	env.MissingDrawings = nil
	out, err := Apply(job, StatusPricing, Patch{}, env)
	require.NoError(t, err)
	require.Equal(t, StatusPricing, out.Job.Status)
}

func TestMeasureAppointmentRequired(t *testing.T) {
	job := Job{ID: "job-1", StartType: StartMeasure, Status: StatusMeasureAppointmentPending}
	_, err := Apply(job, StatusMeasureScheduled, Patch{}, testEnv())
	require.ErrorIs(t, err, shared.ErrValidation)

	at := testNow.AddDate(0, 0, 2)
	out, err := Apply(job, StatusMeasureScheduled, Patch{Measure: &MeasurePatch{AppointmentDate: &at}}, testEnv())
	require.NoError(t, err)
	require.Equal(t, at, *out.Job.Measure.AppointmentDate)
}

func TestProductionStartAndReadiness(t *testing.T) {
	job := pricedJob()
	job.Status = StatusProductionReady
	env := testEnv()
	env.Orders = []production.Order{{RoleID: "pvc", Type: production.TypeInternal, Status: production.StatusOrdered}}
	_, err := Apply(job, StatusInProduction, Patch{}, env)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, []string{"role Aluminium has no production order"}, shared.Messages(err))

	env.Orders = append(env.Orders, production.Order{RoleID: "alu", Type: production.TypeExternal, Status: production.StatusOrdered})
	out, err := Apply(job, StatusInProduction, Patch{}, env)
	require.NoError(t, err)

	_, err = Apply(out.Job, StatusAssemblyReady, Patch{}, env)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, shared.Messages(err), 2)
}

func TestFinanceCloseoutIsExact(t *testing.T) {
	job := pricedJob()
	job.Status = StatusFinancePending
	job.Finance.PreReceived = dec("1000")

	_, err := Apply(job, StatusClosed, Patch{Finance: &FinancePatch{Received: dec("499.99")}}, testEnv())
	require.ErrorIs(t, err, shared.ErrReconciliation)

	out, err := Apply(job, StatusClosed, Patch{Finance: &FinancePatch{Received: dec("450"), Discount: dec("50")}}, testEnv())
	require.NoError(t, err)
	require.Equal(t, StatusClosed, out.Job.Status)
	require.NotNil(t, out.Job.Finance.ClosedAt)
}

func TestServiceFlow(t *testing.T) {
	job := Job{ID: "svc-1", StartType: StartService, Status: StatusServiceAppointmentPending, Service: &Service{FixedFee: dec("200"), TotalCost: dec("200")}}
	env := testEnv()
	ids := 0
	env.NewID = func() string {
		ids++
		return fmt.Sprintf("v%d", ids)
	}
	day := testNow.AddDate(0, 0, 1)

	out, err := Apply(job, StatusServiceScheduled, Patch{Visit: &VisitPatch{AppointmentDate: &day, AppointmentTime: "10:00"}}, env)
	require.NoError(t, err)
	out, err = Apply(out.Job, StatusServiceWorking, Patch{}, env)
	require.NoError(t, err)
	require.Equal(t, VisitInProgress, out.Job.Service.Visits[0].Status)

	_, err = Apply(out.Job, StatusServiceScheduled, Patch{Visit: &VisitPatch{WorkNote: "needs part"}}, env)
	require.ErrorIs(t, err, shared.ErrValidation)

	next := day.AddDate(0, 0, 7)
	out, err = Apply(out.Job, StatusServiceScheduled, Patch{Visit: &VisitPatch{WorkNote: "needs part", ExtraCost: dec("30"), Next: &VisitPatch{AppointmentDate: &next}}}, env)
	require.NoError(t, err)
	require.Len(t, out.Job.Service.Visits, 2)
	require.Equal(t, VisitCompleted, out.Job.Service.Visits[0].Status)

	out, err = Apply(out.Job, StatusServiceWorking, Patch{}, env)
	require.NoError(t, err)
	out, err = Apply(out.Job, StatusServicePaymentPending, Patch{Visit: &VisitPatch{ExtraCost: dec("20"), Materials: []string{"hinge"}}}, env)
	require.NoError(t, err)
	require.True(t, out.Job.Service.TotalCost.Equal(dec("250")))

	_, err = Apply(out.Job, StatusServiceClosed, Patch{ServicePayment: &ServicePaymentPatch{Payments: []ServicePayment{{Amount: dec("200"), Method: "cash"}}}}, env)
	require.ErrorIs(t, err, shared.ErrReconciliation)

	out, err = Apply(out.Job, StatusServiceClosed, Patch{ServicePayment: &ServicePaymentPatch{Payments: []ServicePayment{{Amount: dec("200"), Method: "cash"}}, Discount: dec("50")}}, env)
	require.NoError(t, err)
	require.Equal(t, payment.StatusPaid, out.Job.Service.PaymentStatus)
	require.Equal(t, StageDone, CurrentStage(out.Job).Key)
}
