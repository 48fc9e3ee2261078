package cases

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patholab/lis/internal/platform/apperr"
)

type State string

const (
	StateInProcess State = "En proceso"
	StateToSign    State = "Por firmar"
	StateToDeliver State = "Por entregar"
	StateCompleted State = "Completado"
)

var validStates = map[State]bool{
	StateInProcess: true,
	StateToSign:    true,
	StateToDeliver: true,
	StateCompleted: true,
}

func (s State) Valid() bool { return validStates[s] }

// Signed reports whether a case in this state carries signed_at.
func (s State) Signed() bool {
	return s == StateToDeliver || s == StateCompleted
}

// Editable reports whether result fields may still be written.
func (s State) Editable() bool {
	return s == StateInProcess || s == StateToSign
}

type Priority string

const (
	PriorityNormal   Priority = "Normal"
	PriorityPriority Priority = "Prioritario"
)

var validPriorities = map[Priority]bool{
	PriorityNormal:   true,
	PriorityPriority: true,
}

type EntityInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PatientInfo is the patient snapshot taken at case creation.
type PatientInfo struct {
	PatientCode  string     `json:"patient_code"`
	Name         string     `json:"name"`
	Age          int        `json:"age"`
	Gender       string     `json:"gender"`
	EntityInfo   EntityInfo `json:"entity_info"`
	CareType     string     `json:"care_type"`
	Observations *string    `json:"observations,omitempty"`
}

type TestRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type Sample struct {
	BodyRegion string    `json:"body_region"`
	Tests      []TestRef `json:"tests"`
}

type Pathologist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Diagnosis struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Result struct {
	Method         []string   `json:"method"`
	MacroResult    *string    `json:"macro_result,omitempty"`
	MicroResult    *string    `json:"micro_result,omitempty"`
	Diagnosis      *string    `json:"diagnosis,omitempty"`
	Observations   *string    `json:"observations,omitempty"`
	CIE10Diagnosis *Diagnosis `json:"cie10_diagnosis,omitempty"`
	CIEODiagnosis  *Diagnosis `json:"cieo_diagnosis,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasContent reports whether any of method, macro, micro or diagnosis is set.
func (r *Result) HasContent() bool {
	if r == nil {
		return false
	}
	return len(r.Method) > 0 || nonEmpty(r.MacroResult) || nonEmpty(r.MicroResult) || nonEmpty(r.Diagnosis)
}

type Note struct {
	Date time.Time `json:"date"`
	Note string    `json:"note"`
}

type Case struct {
	ID                  uuid.UUID    `json:"id"`
	CaseCode            string       `json:"case_code"`
	PatientInfo         PatientInfo  `json:"patient_info"`
	RequestingPhysician *string      `json:"requesting_physician,omitempty"`
	Service             *string      `json:"service,omitempty"`
	Samples             []Sample     `json:"samples"`
	State               State        `json:"state"`
	Priority            Priority     `json:"priority"`
	AssignedPathologist *Pathologist `json:"assigned_pathologist,omitempty"`
	Result              *Result      `json:"result,omitempty"`
	SignedAt            *time.Time   `json:"signed_at,omitempty"`
	DeliveredAt         *time.Time   `json:"delivered_at,omitempty"`
	DeliveredTo         *string      `json:"delivered_to,omitempty"`
	BusinessDays        *int         `json:"business_days,omitempty"`
	AdditionalNotes     []Note       `json:"additional_notes"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (c *Case) HasPathologist() bool {
	return c.AssignedPathologist != nil && strings.TrimSpace(c.AssignedPathologist.Name) != ""
}

func (c *Case) clone() *Case {
	cp := *c
	cp.Samples = append([]Sample(nil), c.Samples...)
	cp.AdditionalNotes = append([]Note(nil), c.AdditionalNotes...)
	if c.AssignedPathologist != nil {
		p := *c.AssignedPathologist
		cp.AssignedPathologist = &p
	}
	if c.Result != nil {
		r := *c.Result
		r.Method = append([]string(nil), c.Result.Method...)
		cp.Result = &r
	}
	return &cp
}

// CreateInput is the payload accepted by case creation.
type CreateInput struct {
	PatientInfo         PatientInfo  `json:"patient_info"`
	RequestingPhysician *string      `json:"requesting_physician"`
	Service             *string      `json:"service"`
	Samples             []Sample     `json:"samples"`
	Priority            Priority     `json:"priority"`
	AssignedPathologist *Pathologist `json:"assigned_pathologist"`
}

// UpdateInput holds the fields a data update may carry. Nil means absent.
type UpdateInput struct {
	PatientInfo         *PatientInfo `json:"patient_info"`
	RequestingPhysician *string      `json:"requesting_physician"`
	Service             *string      `json:"service"`
	Samples             *[]Sample    `json:"samples"`
	Priority            *Priority    `json:"priority"`
	State               *State       `json:"state"`
}

// ResultPatch holds the result fields a pathologist may write.
type ResultPatch struct {
	Method       *[]string `json:"method"`
	MacroResult  *string   `json:"macro_result"`
	MicroResult  *string   `json:"micro_result"`
	Diagnosis    *string   `json:"diagnosis"`
	Observations *string   `json:"observations"`
}

func (p ResultPatch) Empty() bool {
	return p.Method == nil && p.MacroResult == nil && p.MicroResult == nil && p.Diagnosis == nil && p.Observations == nil
}

// SignPatch is the final result composed at signing.
type SignPatch struct {
	ResultPatch
	CIE10Diagnosis *Diagnosis `json:"cie10_diagnosis"`
	CIEODiagnosis  *Diagnosis `json:"cieo_diagnosis"`
}

func (p SignPatch) Empty() bool {
	return p.ResultPatch.Empty() && p.CIE10Diagnosis == nil && p.CIEODiagnosis == nil
}

// SignValidation is the outcome of probing whether a case can be signed.
type SignValidation struct {
	CanSign      bool   `json:"can_sign"`
	Message      string `json:"message"`
	CurrentState State  `json:"current_state"`
}

// ResultView is the result-only projection of a case.
type ResultView struct {
	CaseCode            string       `json:"case_code"`
	State               State        `json:"state"`
	AssignedPathologist *Pathologist `json:"assigned_pathologist,omitempty"`
	Result              *Result      `json:"result,omitempty"`
	SignedAt            *time.Time   `json:"signed_at,omitempty"`
}

// StateView is the state-only projection of a case.
type StateView struct {
	CaseCode  string    `json:"case_code"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchFilter narrows case searches. Zero values are ignored.
type SearchFilter struct {
	CaseCode    string
	PatientCode string
	PatientName string
	State       State
	Priority    Priority
	Entity      string
	Pathologist string
	TestID      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SignedFrom  *time.Time
	SignedTo    *time.Time
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func validatePatientInfo(p PatientInfo) error {
	if strings.TrimSpace(p.PatientCode) == "" {
		return apperr.BadParameter("patient_info.patient_code is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return apperr.BadParameter("patient_info.name is required")
	}
	if p.Age < 0 || p.Age > 150 {
		return apperr.BadParameter("patient_info.age must be between 0 and 150, got %d", p.Age)
	}
	return nil
}

func validateSamples(samples []Sample) error {
	for i, s := range samples {
		if strings.TrimSpace(s.BodyRegion) == "" {
			return apperr.BadParameter("samples[%d].body_region is required", i)
		}
		for j, t := range s.Tests {
			if strings.TrimSpace(t.ID) == "" {
				return apperr.BadParameter("samples[%d].tests[%d].id is required", i, j)
			}
			if t.Quantity < 1 {
				return apperr.BadParameter("samples[%d].tests[%d].quantity must be at least 1", i, j)
			}
		}
	}
	return nil
}

func validatePathologist(p *Pathologist) error {
	if p == nil {
		return nil
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return apperr.BadParameter("assigned_pathologist requires id and name")
	}
	return nil
}

// NormalizeMethod trims entries, drops empty ones and removes duplicates while
// keeping the first occurrence order.
func NormalizeMethod(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(in) > 0 && len(out) == 0 {
		return nil, apperr.EmptyMethod()
	}
	return out, nil
}

// normalizeDiagnosis keeps a diagnosis only when both code and name are present.
func normalizeDiagnosis(d *Diagnosis) *Diagnosis {
	if d == nil {
		return nil
	}
	code, name := strings.TrimSpace(d.Code), strings.TrimSpace(d.Name)
	if code == "" || name == "" {
		return nil
	}
	return &Diagnosis{Code: code, Name: name}
}
