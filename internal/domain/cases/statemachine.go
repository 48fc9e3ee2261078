package cases

import (
	"strings"
	"time"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/calendar"
)

// legalTransitions is the complete forward workflow. There is no reopen.
var legalTransitions = map[State]State{
	StateInProcess: StateToSign,
	StateToSign:    StateToDeliver,
	StateToDeliver: StateCompleted,
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to State) bool {
	next, ok := legalTransitions[from]
	return ok && next == to
}

// Machine is the only writer of state, signed_at, delivered_at, delivered_to and
// business_days. It mutates a loaded copy of the case; persisting the result with
// a conditional write on the source state is the caller's job.
type Machine struct {
	cal *calendar.Calendar
}

func NewMachine(cal *calendar.Calendar) *Machine {
	if cal == nil {
		cal = calendar.Default()
	}
	return &Machine{cal: cal}
}

// TransitionInput carries the data a target state needs.
type TransitionInput struct {
	DeliveredTo string
}

// Apply moves c to target in place. It returns false when c is already in target
// (no mutation). Guards are checked against c as given.
func (m *Machine) Apply(c *Case, target State, in TransitionInput, now time.Time) (bool, error) {
	if !target.Valid() {
		return false, apperr.BadParameter("unknown state %q", target)
	}
	if c.State == target {
		return false, nil
	}
	if !CanTransition(c.State, target) {
		return false, apperr.IllegalTransition(string(c.State), string(target), "")
	}
	if err := m.guard(c, target, in); err != nil {
		return false, err
	}

	switch target {
	case StateToDeliver:
		signed := now
		c.SignedAt = &signed
		if c.Result != nil {
			c.Result.UpdatedAt = now
		}
	case StateCompleted:
		delivered := now
		to := strings.TrimSpace(in.DeliveredTo)
		days := m.cal.BusinessDays(c.CreatedAt, delivered)
		c.DeliveredAt = &delivered
		c.DeliveredTo = &to
		c.BusinessDays = &days
	}
	c.State = target
	c.UpdatedAt = now
	return true, nil
}

func (m *Machine) guard(c *Case, target State, in TransitionInput) error {
	switch target {
	case StateToSign:
		if !c.HasPathologist() {
			return apperr.IllegalTransition(string(c.State), string(target), "no pathologist assigned")
		}
		if !c.Result.HasContent() {
			return apperr.IllegalTransition(string(c.State), string(target), "result has no method, macro, micro or diagnosis")
		}
	case StateToDeliver:
		if !c.HasPathologist() {
			return apperr.IllegalTransition(string(c.State), string(target), "no pathologist assigned")
		}
	case StateCompleted:
		if strings.TrimSpace(in.DeliveredTo) == "" {
			return apperr.BadParameter("delivered_to is required to complete a case")
		}
	}
	return nil
}
