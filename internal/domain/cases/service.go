package cases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
	"github.com/patholab/lis/internal/platform/db"
	"github.com/patholab/lis/internal/platform/events"
)

// CodeIssuer hands out the next case code for a year.
type CodeIssuer interface {
	NextCaseCode(ctx context.Context, year int) (string, error)
}

type Service struct {
	repo    Repository
	codes   CodeIssuer
	tx      db.Transactor
	machine *Machine
	events  events.Publisher
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func NewService(repo Repository, codes CodeIssuer, tx db.Transactor, machine *Machine, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		codes:   codes,
		tx:      tx,
		machine: machine,
		events:  events.Noop{},
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// clock returns the current time at the store's precision.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) store(ctx context.Context) (context.Context, context.CancelFunc) {
	return db.WithTimeout(ctx, s.timeout)
}

// Create allocates the next code for the current year and persists the case in
// the same transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Case, error) {
	if err := validatePatientInfo(in.PatientInfo); err != nil {
		return nil, err
	}
	if err := validateSamples(in.Samples); err != nil {
		return nil, err
	}
	if err := validatePathologist(in.AssignedPathologist); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if !validPriorities[in.Priority] {
		return nil, apperr.BadParameter("invalid priority: %s", in.Priority)
	}

	now := s.clock()
	c := &Case{
		ID:                  uuid.New(),
		PatientInfo:         in.PatientInfo,
		RequestingPhysician: in.RequestingPhysician,
		Service:             in.Service,
		Samples:             in.Samples,
		State:               StateInProcess,
		Priority:            in.Priority,
		AssignedPathologist: in.AssignedPathologist,
		AdditionalNotes:     []Note{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if c.Samples == nil {
		c.Samples = []Sample{}
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		code, err := s.codes.NextCaseCode(ctx, now.Year())
		if err != nil {
			return err
		}
		c.CaseCode = code

		sctx, cancel := s.store(ctx)
		defer cancel()
		if err := s.repo.Create(sctx, c); err != nil {
			if apperr.IsKind(apperr.FromStore(err, "case"), apperr.KindDuplicateCode) {
				return apperr.DuplicateCode(code)
			}
			return apperr.FromStore(err, "case "+code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("case_code", c.CaseCode).Str("user_id", auth.UserIDFromContext(ctx)).Msg("case created")
	return c, nil
}

func (s *Service) load(ctx context.Context, code string) (*Case, error) {
	sctx, cancel := s.store(ctx)
	defer cancel()
	c, err := s.repo.GetByCode(sctx, code)
	if err != nil {
		return nil, apperr.FromStore(err, "case "+code)
	}
	return c, nil
}

// Get returns a case. Billing users only see completed cases.
func (s *Service) Get(ctx context.Context, code string) (*Case, error) {
	c, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if id := auth.IdentityFromContext(ctx); id != nil && id.Role == auth.RoleBilling && c.State != StateCompleted {
		return nil, apperr.Forbidden("billing users may only read completed cases")
	}
	return c, nil
}

func (s *Service) GetResult(ctx context.Context, code string) (*ResultView, error) {
	sctx, cancel := s.store(ctx)
	defer cancel()
	v, err := s.repo.GetResult(sctx, code)
	if err != nil {
		return nil, apperr.FromStore(err, "case "+code)
	}
	if id := auth.IdentityFromContext(ctx); id != nil && id.Role == auth.RoleBilling && v.State != StateCompleted {
		return nil, apperr.Forbidden("billing users may only read completed cases")
	}
	return v, nil
}

func (s *Service) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Case, int, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, 0, apperr.BadParameter("invalid state: %s", f.State)
	}
	if f.Priority != "" && !validPriorities[f.Priority] {
		return nil, 0, apperr.BadParameter("invalid priority: %s", f.Priority)
	}
	if id := auth.IdentityFromContext(ctx); id != nil && id.Role == auth.RoleBilling {
		if f.State != "" && f.State != StateCompleted {
			return nil, 0, apperr.Forbidden("billing users may only read completed cases")
		}
		f.State = StateCompleted
	}

	sctx, cancel := s.store(ctx)
	defer cancel()
	items, total, err := s.repo.Search(sctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "cases")
	}
	return items, total, nil
}

// commit persists next conditioned on what was read as prev. A lost race is
// reported as ConcurrentModification, a vanished case as NotFound.
func (s *Service) commit(ctx context.Context, prev, next *Case) error {
	sctx, cancel := s.store(ctx)
	defer cancel()
	err := s.repo.Save(sctx, next, Expect{State: prev.State, UpdatedAt: prev.UpdatedAt})
	if errors.Is(err, ErrStale) {
		if _, gerr := s.repo.GetState(sctx, prev.CaseCode); gerr != nil {
			return apperr.FromStore(gerr, "case "+prev.CaseCode)
		}
		return apperr.ConcurrentModification("case " + prev.CaseCode)
	}
	if err != nil {
		return apperr.FromStore(err, "case "+prev.CaseCode)
	}
	return nil
}

// Update merges the data fields of in. patient_info is replaced as a whole.
// State cannot be changed here.
func (s *Service) Update(ctx context.Context, code string, in UpdateInput) (*Case, error) {
	if in.State != nil {
		return nil, apperr.BadParameter("state cannot be changed through update; use the state endpoint")
	}
	if in.PatientInfo != nil {
		if err := validatePatientInfo(*in.PatientInfo); err != nil {
			return nil, err
		}
	}
	if in.Samples != nil {
		if err := validateSamples(*in.Samples); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil && !validPriorities[*in.Priority] {
		return nil, apperr.BadParameter("invalid priority: %s", *in.Priority)
	}

	prev, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	next := prev.clone()
	if in.PatientInfo != nil {
		next.PatientInfo = *in.PatientInfo
	}
	if in.RequestingPhysician != nil {
		next.RequestingPhysician = in.RequestingPhysician
	}
	if in.Service != nil {
		next.Service = in.Service
	}
	if in.Samples != nil {
		next.Samples = *in.Samples
	}
	if in.Priority != nil {
		next.Priority = *in.Priority
	}
	next.UpdatedAt = s.clock()

	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	sctx, cancel := s.store(ctx)
	defer cancel()
	if err := s.repo.Delete(sctx, code); err != nil {
		return apperr.FromStore(err, "case "+code)
	}
	s.logger.Info().Str("case_code", code).Str("user_id", auth.UserIDFromContext(ctx)).Msg("case deleted")
	return nil
}

// AssignPathologist sets the pathologist snapshot while the case is not signed.
func (s *Service) AssignPathologist(ctx context.Context, code string, p Pathologist) (*Case, error) {
	if err := validatePathologist(&p); err != nil {
		return nil, err
	}
	prev, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !prev.State.Editable() {
		return nil, apperr.CaseLocked(code, string(prev.State))
	}
	next := prev.clone()
	next.AssignedPathologist = &Pathologist{ID: strings.TrimSpace(p.ID), Name: strings.TrimSpace(p.Name)}
	next.UpdatedAt = s.clock()
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

// AddNote appends a dated note. Notes are allowed in every state.
func (s *Service) AddNote(ctx context.Context, code, note string) (*Case, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, apperr.BadParameter("note is required")
	}
	prev, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	next := prev.clone()
	next.AdditionalNotes = append(next.AdditionalNotes, Note{Date: now, Note: note})
	next.UpdatedAt = now
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ChangePatientCode rewrites the embedded patient code on every case of the patient.
func (s *Service) ChangePatientCode(ctx context.Context, from, to string) (int64, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return 0, apperr.BadParameter("both current and new patient codes are required")
	}
	if from == to {
		return 0, nil
	}
	sctx, cancel := s.store(ctx)
	defer cancel()
	n, err := s.repo.ReplacePatientCode(sctx, from, to, s.clock())
	if err != nil {
		return 0, apperr.FromStore(err, "cases of patient "+from)
	}
	s.logger.Info().Str("from", from).Str("to", to).Int64("cases", n).Msg("patient code changed")
	return n, nil
}

// checkResultAuthor enforces that pathologists only touch their own cases.
func checkResultAuthor(ctx context.Context, c *Case) error {
	id := auth.IdentityFromContext(ctx)
	if id == nil || id.Role != auth.RolePathologist {
		return nil
	}
	if c.AssignedPathologist == nil || c.AssignedPathologist.ID != id.PathologistCode {
		return apperr.Forbidden("case %s is not assigned to you", c.CaseCode)
	}
	return nil
}

// checkTransitionActor keeps result authors out of delivery: pathologists and
// residents never complete a case, and pathologists move only their own cases.
func checkTransitionActor(ctx context.Context, c *Case, target State) error {
	id := auth.IdentityFromContext(ctx)
	if id == nil {
		return nil
	}
	switch id.Role {
	case auth.RolePathologist, auth.RoleResident:
		if target == StateCompleted {
			return apperr.Forbidden("role %s may not mark case %s as delivered", id.Role, c.CaseCode)
		}
	}
	return checkResultAuthor(ctx, c)
}

// applyResult merges patch into c.Result.
func applyResult(c *Case, patch ResultPatch, now time.Time) error {
	r := c.Result
	if r == nil {
		r = &Result{Method: []string{}}
	}
	if patch.Method != nil {
		m, err := NormalizeMethod(*patch.Method)
		if err != nil {
			return err
		}
		r.Method = m
	}
	if patch.MacroResult != nil {
		r.MacroResult = patch.MacroResult
	}
	if patch.MicroResult != nil {
		r.MicroResult = patch.MicroResult
	}
	if patch.Diagnosis != nil {
		r.Diagnosis = patch.Diagnosis
	}
	if patch.Observations != nil {
		r.Observations = patch.Observations
	}
	r.UpdatedAt = now
	c.Result = r
	return nil
}

// UpdateResult writes result fields while the case is En proceso or Por firmar.
func (s *Service) UpdateResult(ctx context.Context, code string, patch ResultPatch) (*Case, error) {
	prev, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !prev.State.Editable() {
		return nil, apperr.CaseLocked(code, string(prev.State))
	}
	if err := checkResultAuthor(ctx, prev); err != nil {
		return nil, err
	}

	now := s.clock()
	next := prev.clone()
	if err := applyResult(next, patch, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Transition moves a case to target through the state endpoint. Por entregar is
// reachable only by signing.
func (s *Service) Transition(ctx context.Context, code string, target State, in TransitionInput) (*Case, error) {
	if !target.Valid() {
		return nil, apperr.BadParameter("unknown state %q", target)
	}
	prev, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if target == StateToDeliver && prev.State != StateToDeliver {
		return nil, apperr.IllegalTransition(string(prev.State), string(target), "cases reach Por entregar only by signing")
	}
	if err := checkTransitionActor(ctx, prev, target); err != nil {
		return nil, err
	}

	next := prev.clone()
	changed, err := s.machine.Apply(next, target, in, s.clock())
	if err != nil {
		return nil, err
	}
	if !changed {
		return prev, nil
	}
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_code", code).
		Str("from", string(prev.State)).
		Str("to", string(target)).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Msg("case state changed")
	if target == StateCompleted {
		events.Emit(ctx, s.events, s.logger, events.Event{
			Type: events.TypeCaseDelivered,
			Key:  code,
			Payload: map[string]interface{}{
				"delivered_to":  *next.DeliveredTo,
				"business_days": *next.BusinessDays,
			},
		})
	}
	return next, nil
}

// Deliver completes a signed case.
func (s *Service) Deliver(ctx context.Context, code, deliveredTo string) (*Case, error) {
	return s.Transition(ctx, code, StateCompleted, TransitionInput{DeliveredTo: deliveredTo})
}

// ValidateSign probes whether code can be signed now without mutating it.
func (s *Service) ValidateSign(ctx context.Context, code string) (*SignValidation, error) {
	c, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	v := &SignValidation{CurrentState: c.State}
	switch {
	case c.State == StateCompleted:
		v.Message = "case is already completed"
	case c.State == StateToDeliver:
		v.Message = "case is already signed"
	case !c.HasPathologist():
		v.Message = "case has no assigned pathologist"
	case checkResultAuthor(ctx, c) != nil:
		v.Message = "case is not assigned to you"
	case c.State == StateInProcess && !c.Result.HasContent():
		v.Message = "result has no method, macro, micro or diagnosis"
	default:
		v.CanSign = true
		v.Message = "case can be signed"
	}
	return v, nil
}

// Sign applies the final result patch and moves the case to Por entregar in one
// conditional write. From En proceso both the Por firmar and Por entregar guards
// are checked against the patched document.
func (s *Service) Sign(ctx context.Context, code string, patch SignPatch) (*Case, error) {
	prev, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	switch prev.State {
	case StateCompleted:
		return nil, apperr.IllegalTransition(string(prev.State), string(StateToDeliver), "case is already completed")
	case StateToDeliver:
		if patch.Empty() {
			return prev, nil
		}
		return nil, apperr.CaseLocked(code, string(prev.State))
	}
	if !prev.HasPathologist() {
		return nil, apperr.IllegalTransition(string(prev.State), string(StateToDeliver), "no pathologist assigned")
	}
	if err := checkResultAuthor(ctx, prev); err != nil {
		return nil, err
	}

	now := s.clock()
	next := prev.clone()
	if err := applyResult(next, patch.ResultPatch, now); err != nil {
		return nil, err
	}
	if patch.CIE10Diagnosis != nil {
		next.Result.CIE10Diagnosis = normalizeDiagnosis(patch.CIE10Diagnosis)
	}
	if patch.CIEODiagnosis != nil {
		next.Result.CIEODiagnosis = normalizeDiagnosis(patch.CIEODiagnosis)
	}

	if next.State == StateInProcess {
		if _, err := s.machine.Apply(next, StateToSign, TransitionInput{}, now); err != nil {
			return nil, err
		}
	}
	if _, err := s.machine.Apply(next, StateToDeliver, TransitionInput{}, now); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("case_code", code).
		Str("pathologist", next.AssignedPathologist.Name).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Msg("case signed")
	events.Emit(ctx, s.events, s.logger, events.Event{
		Type: events.TypeCaseSigned,
		Key:  code,
		Payload: map[string]interface{}{
			"pathologist": next.AssignedPathologist,
			"signed_at":   next.SignedAt,
		},
	})
	return next, nil
}
