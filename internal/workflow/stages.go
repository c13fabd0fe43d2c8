package workflow

import "fmt"

// Status is the fine grained workflow state of a job.
type Status string

const (
	StatusMeasureAppointmentPending Status = "OLCU_RANDEVU_BEKLIYOR"
	StatusCustomerMeasurePending    Status = "MUSTERI_OLCUSU_BEKLENIYOR"
	StatusMeasureScheduled          Status = "OLCU_RANDEVULU"
	StatusMeasured                  Status = "OLCU_ALINDI"

	StatusPricing       Status = "FIYATLANDIRMA"
	StatusPriceGiven    Status = "FIYAT_VERILDI"
	StatusPriceDeclined Status = "ANLASILAMADI"

	StatusAgreement Status = "ANLASMA_YAPILIYOR"

	StatusStockPending Status = "STOK_BEKLIYOR"
	StatusProduceLater Status = "SONRA_URETILECEK"

	StatusProductionReady Status = "URETIME_HAZIR"
	StatusInProduction    Status = "URETIMDE"

	StatusAssemblyReady     Status = "MONTAJA_HAZIR"
	StatusAssemblyScheduled Status = "MONTAJ_TERMINLI"

	StatusFinancePending Status = "MUHASEBE_BEKLIYOR"
	StatusClosed         Status = "KAPALI"

	StatusServiceAppointmentPending Status = "SERVIS_RANDEVU_BEKLIYOR"
	StatusServiceScheduled          Status = "SERVIS_RANDEVULU"
	StatusServiceWorking            Status = "SERVIS_CALISILIYOR"
	StatusServicePaymentPending     Status = "SERVIS_ODEME_BEKLIYOR"
	StatusServiceClosed             Status = "SERVIS_KAPALI"
)

// StageKey names a stage.
type StageKey string

const (
	StageMeasure    StageKey = "measure"
	StagePricing    StageKey = "pricing"
	StageAgreement  StageKey = "agreement"
	StageStock      StageKey = "stock"
	StageProduction StageKey = "production"
	StageAssembly   StageKey = "assembly"
	StageFinance    StageKey = "finance"

	StageSchedule StageKey = "schedule"
	StageStart    StageKey = "start"
	StageWork     StageKey = "work"
	StagePayment  StageKey = "payment"
	StageDone     StageKey = "done"
)

// Stage is an ordered group of statuses.
type Stage struct {
	Key      StageKey `json:"key"`
	Statuses []Status `json:"statuses"`
}

// Contains reports whether s belongs to the stage.
func (st Stage) Contains(s Status) bool {
	for _, candidate := range st.Statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

var standardFlow = []Stage{
	{Key: StageMeasure, Statuses: []Status{StatusMeasureAppointmentPending, StatusCustomerMeasurePending, StatusMeasureScheduled, StatusMeasured}},
	{Key: StagePricing, Statuses: []Status{StatusPricing, StatusPriceGiven, StatusPriceDeclined}},
	{Key: StageAgreement, Statuses: []Status{StatusAgreement}},
	{Key: StageStock, Statuses: []Status{StatusStockPending, StatusProduceLater}},
	{Key: StageProduction, Statuses: []Status{StatusProductionReady, StatusInProduction}},
	{Key: StageAssembly, Statuses: []Status{StatusAssemblyReady, StatusAssemblyScheduled}},
	{Key: StageFinance, Statuses: []Status{StatusFinancePending, StatusClosed}},
}

var serviceFlow = []Stage{
	{Key: StageSchedule, Statuses: []Status{StatusServiceAppointmentPending}},
	{Key: StageStart, Statuses: []Status{StatusServiceScheduled}},
	{Key: StageWork, Statuses: []Status{StatusServiceWorking}},
	{Key: StagePayment, Statuses: []Status{StatusServicePaymentPending}},
	{Key: StageDone, Statuses: []Status{StatusServiceClosed}},
}

var standardTransitions = map[Status][]Status{
	StatusMeasureAppointmentPending: {StatusMeasureScheduled},
	StatusMeasureScheduled:          {StatusMeasured},
	StatusCustomerMeasurePending:    {StatusMeasured},
	StatusMeasured:                  {StatusPricing},
	StatusPricing:                   {StatusPriceGiven},
	StatusPriceGiven:                {StatusAgreement, StatusPriceDeclined},
	StatusAgreement:                 {StatusStockPending, StatusPriceDeclined},
	StatusPriceDeclined:             {StatusPriceGiven},
	StatusStockPending:              {StatusProduceLater, StatusProductionReady},
	StatusProduceLater:              {StatusProductionReady},
	StatusProductionReady:           {StatusInProduction},
	StatusInProduction:              {StatusAssemblyReady},
	StatusAssemblyReady:             {StatusAssemblyScheduled},
	StatusAssemblyScheduled:         {StatusFinancePending},
	StatusFinancePending:            {StatusClosed},
}

var serviceTransitions = map[Status][]Status{
	StatusServiceAppointmentPending: {StatusServiceScheduled},
	StatusServiceScheduled:          {StatusServiceWorking},
	StatusServiceWorking:            {StatusServiceScheduled, StatusServicePaymentPending},
	StatusServicePaymentPending:     {StatusServiceClosed},
}

// Flow returns the stages of the flow selected by startType.
func Flow(startType StartType) []Stage {
	if startType == StartService {
		return serviceFlow
	}
	return standardFlow
}

// InitialStatus is where a new job of startType begins.
func InitialStatus(startType StartType) Status {
	switch startType {
	case StartCustomerMeasure:
		return StatusCustomerMeasurePending
	case StartService:
		return StatusServiceAppointmentPending
	case StartArchive:
		return StatusFinancePending
	default:
		return StatusMeasureAppointmentPending
	}
}

// StageIndex locates status in the flow of startType. Unknown statuses
// resolve to the first stage and ok=false.
func StageIndex(startType StartType, status Status) (idx int, ok bool) {
	for i, st := range Flow(startType) {
		if st.Contains(status) {
			return i, true
		}
	}
	return 0, false
}

// CurrentStage returns the stage whose status set contains the job status,
// defaulting to the first stage of the flow.
func CurrentStage(job Job) Stage {
	idx, _ := StageIndex(job.StartType, job.Status)
	return Flow(job.StartType)[idx]
}

// StageState is the position of a stage relative to the current one.
type StageState string

const (
	StageStateDone    StageState = "done"
	StageStateCurrent StageState = "current"
	StageStatePending StageState = "pending"
)

// StageView is one row of the stage overview.
type StageView struct {
	Key      StageKey   `json:"key"`
	State    StageState `json:"state"`
	Statuses []Status   `json:"statuses"`
}

// Stages lays out every stage of the job's flow as done, current or pending.
func Stages(job Job) []StageView {
	flow := Flow(job.StartType)
	current, _ := StageIndex(job.StartType, job.Status)
	out := make([]StageView, len(flow))
	for i, st := range flow {
		state := StageStatePending
		switch {
		case i < current:
			state = StageStateDone
		case i == current:
			state = StageStateCurrent
		}
		out[i] = StageView{Key: st.Key, State: state, Statuses: st.Statuses}
	}
	return out
}

// Allowed lists the statuses reachable from status in the flow of startType.
func Allowed(startType StartType, status Status) []Status {
	table := standardTransitions
	if startType == StartService {
		table = serviceTransitions
	}
	return table[status]
}

func checkAllowed(job Job, target Status) error {
	for _, s := range Allowed(job.StartType, job.Status) {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("transition %s → %s not allowed", job.Status, target)
}
