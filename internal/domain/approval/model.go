package approval

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patholab/lis/internal/domain/cases"
	"github.com/patholab/lis/internal/domain/counter"
	"github.com/patholab/lis/internal/platform/apperr"
)

type State string

const (
	StateRequestMade     State = "request_made"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
)

var validStates = map[State]bool{
	StateRequestMade:     true,
	StatePendingApproval: true,
	StateApproved:        true,
	StateRejected:        true,
}

func (s State) Valid() bool { return validStates[s] }

// Decided reports whether s is a terminal decision.
func (s State) Decided() bool {
	return s == StateApproved || s == StateRejected
}

var legalTransitions = map[State][]State{
	StateRequestMade:     {StatePendingApproval},
	StatePendingApproval: {StateApproved, StateRejected},
}

func CanTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	MaxReasonLength = 1000
	MinTestQuantity = 1
	MaxTestQuantity = 20
)

type ComplementaryTest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type Info struct {
	RequestDate         time.Time          `json:"request_date"`
	Reason              string             `json:"reason"`
	AssignedPathologist *cases.Pathologist `json:"assigned_pathologist,omitempty"`
	ManagementDate      *time.Time         `json:"management_date,omitempty"`
	DecisionDate        *time.Time         `json:"decision_date,omitempty"`
}

// Request asks for complementary tests on an existing case.
type Request struct {
	ID                 uuid.UUID           `json:"id"`
	ApprovalCode       string              `json:"approval_code"`
	OriginalCaseCode   string              `json:"original_case_code"`
	ApprovalState      State               `json:"approval_state"`
	ComplementaryTests []ComplementaryTest `json:"complementary_tests"`
	ApprovalInfo       Info                `json:"approval_info"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (r *Request) clone() *Request {
	cp := *r
	cp.ComplementaryTests = append([]ComplementaryTest(nil), r.ComplementaryTests...)
	if r.ApprovalInfo.AssignedPathologist != nil {
		p := *r.ApprovalInfo.AssignedPathologist
		cp.ApprovalInfo.AssignedPathologist = &p
	}
	return &cp
}

type CreateInput struct {
	OriginalCaseCode    string              `json:"original_case_code"`
	ComplementaryTests  []ComplementaryTest `json:"complementary_tests"`
	Reason              string              `json:"reason"`
	AssignedPathologist *cases.Pathologist  `json:"assigned_pathologist"`
}

// UpdateInput carries the fields editable while a request is request_made.
type UpdateInput struct {
	ComplementaryTests *[]ComplementaryTest `json:"complementary_tests"`
	Reason             *string              `json:"reason"`
}

type SearchFilter struct {
	State            State
	OriginalCaseCode string
	RequestFrom      *time.Time
	RequestTo        *time.Time
}

func validateTests(tests []ComplementaryTest) error {
	if len(tests) == 0 {
		return apperr.BadParameter("complementary_tests must not be empty")
	}
	for i, t := range tests {
		if strings.TrimSpace(t.Code) == "" {
			return apperr.BadParameter("complementary_tests[%d].code is required", i)
		}
		if t.Quantity < MinTestQuantity || t.Quantity > MaxTestQuantity {
			return apperr.BadParameter("complementary_tests[%d].quantity must be between %d and %d, got %d",
				i, MinTestQuantity, MaxTestQuantity, t.Quantity)
		}
	}
	return nil
}

func validateReason(reason string) error {
	if n := len([]rune(reason)); n > MaxReasonLength {
		return apperr.BadParameter("reason exceeds %d characters (%d)", MaxReasonLength, n)
	}
	return nil
}

func validateCaseCode(code string) error {
	if !counter.CaseCodePattern.MatchString(code) {
		return apperr.BadParameter("original_case_code %q is not a case code", code)
	}
	return nil
}
