package approval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patholab/lis/internal/domain/cases"
	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
	"github.com/patholab/lis/internal/platform/db"
	"github.com/patholab/lis/internal/platform/events"
)

type CodeIssuer interface {
	NextApprovalCode(ctx context.Context, year int) (string, error)
}

// CaseLookup resolves the case a request refers to.
type CaseLookup interface {
	GetState(ctx context.Context, code string) (*cases.StateView, error)
}

type Service struct {
	repo    Repository
	cases   CaseLookup
	codes   CodeIssuer
	tx      db.Transactor
	events  events.Publisher
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithEvents(p events.Publisher) Option    { return func(s *Service) { s.events = p } }
func WithLogger(l zerolog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func NewService(repo Repository, caseLookup CaseLookup, codes CodeIssuer, tx db.Transactor, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		cases:  caseLookup,
		codes:  codes,
		tx:     tx,
		events: events.Noop{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Request, error) {
	in.OriginalCaseCode = strings.TrimSpace(in.OriginalCaseCode)
	if err := validateCaseCode(in.OriginalCaseCode); err != nil {
		return nil, err
	}
	if err := validateTests(in.ComplementaryTests); err != nil {
		return nil, err
	}
	if err := validateReason(in.Reason); err != nil {
		return nil, err
	}
	if p := in.AssignedPathologist; p != nil && (strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "") {
		return nil, apperr.BadParameter("assigned_pathologist requires id and name")
	}

	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	_, err := s.cases.GetState(sctx, in.OriginalCaseCode)
	cancel()
	if err != nil {
		return nil, apperr.FromStore(err, "case "+in.OriginalCaseCode)
	}

	now := s.clock()
	req := &Request{
		ID:                 uuid.New(),
		OriginalCaseCode:   in.OriginalCaseCode,
		ApprovalState:      StateRequestMade,
		ComplementaryTests: in.ComplementaryTests,
		ApprovalInfo: Info{
			RequestDate:         now,
			Reason:              in.Reason,
			AssignedPathologist: in.AssignedPathologist,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		code, err := s.codes.NextApprovalCode(ctx, now.Year())
		if err != nil {
			return err
		}
		req.ApprovalCode = code

		sctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.repo.Create(sctx, req); err != nil {
			if serr := apperr.FromStore(err, "approval request"); apperr.IsKind(serr, apperr.KindDuplicateCode) {
				return apperr.DuplicateCode(code)
			}
			return apperr.FromStore(err, "approval request "+code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("approval_code", req.ApprovalCode).
		Str("case_code", req.OriginalCaseCode).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Msg("approval requested")
	return req, nil
}

func (s *Service) Get(ctx context.Context, code string) (*Request, error) {
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := s.repo.GetByCode(sctx, code)
	if err != nil {
		return nil, apperr.FromStore(err, "approval request "+code)
	}
	return req, nil
}

func (s *Service) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Request, int, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, 0, apperr.BadParameter("invalid approval_state: %s", f.State)
	}
	if f.RequestFrom != nil && f.RequestTo != nil && !f.RequestFrom.Before(*f.RequestTo) {
		return nil, 0, apperr.BadParameter("request date range is empty")
	}
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	items, total, err := s.repo.Search(sctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "approval requests")
	}
	return items, total, nil
}

func (s *Service) commit(ctx context.Context, prev, next *Request) error {
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.repo.Save(sctx, next, prev.ApprovalState, prev.UpdatedAt)
	if errors.Is(err, ErrStale) {
		if _, gerr := s.repo.GetByCode(sctx, prev.ApprovalCode); gerr != nil {
			return apperr.FromStore(gerr, "approval request "+prev.ApprovalCode)
		}
		return apperr.ConcurrentModification("approval request " + prev.ApprovalCode)
	}
	if err != nil {
		return apperr.FromStore(err, "approval request "+prev.ApprovalCode)
	}
	return nil
}

// Update edits tests and reason. Only requests still in request_made accept edits.
func (s *Service) Update(ctx context.Context, code string, in UpdateInput) (*Request, error) {
	if in.ComplementaryTests != nil {
		if err := validateTests(*in.ComplementaryTests); err != nil {
			return nil, err
		}
	}
	if in.Reason != nil {
		if err := validateReason(*in.Reason); err != nil {
			return nil, err
		}
	}
	prev, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if prev.ApprovalState != StateRequestMade {
		return nil, apperr.New(apperr.KindCaseLocked, "approval request %s is %s and can no longer be edited", code, prev.ApprovalState)
	}

	next := prev.clone()
	if in.ComplementaryTests != nil {
		next.ComplementaryTests = *in.ComplementaryTests
	}
	if in.Reason != nil {
		next.ApprovalInfo.Reason = *in.Reason
	}
	next.UpdatedAt = s.clock()
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

// AssignPathologist records who manages the request until it is decided.
func (s *Service) AssignPathologist(ctx context.Context, code string, p cases.Pathologist) (*Request, error) {
	p.ID, p.Name = strings.TrimSpace(p.ID), strings.TrimSpace(p.Name)
	if p.ID == "" || p.Name == "" {
		return nil, apperr.BadParameter("assigned_pathologist requires id and name")
	}
	prev, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if prev.ApprovalState.Decided() {
		return nil, apperr.New(apperr.KindCaseLocked, "approval request %s is already %s", code, prev.ApprovalState)
	}
	next := prev.clone()
	next.ApprovalInfo.AssignedPathologist = &p
	next.UpdatedAt = s.clock()
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Transition moves a request along its lifecycle and stamps management_date or
// decision_date. Re-applying the current state is a no-op.
func (s *Service) Transition(ctx context.Context, code string, target State) (*Request, error) {
	if !target.Valid() {
		return nil, apperr.BadParameter("unknown approval_state %q", target)
	}
	prev, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if prev.ApprovalState == target {
		return prev, nil
	}
	if !CanTransition(prev.ApprovalState, target) {
		return nil, apperr.IllegalTransition(string(prev.ApprovalState), string(target), "")
	}

	now := s.clock()
	next := prev.clone()
	next.ApprovalState = target
	switch target {
	case StatePendingApproval:
		next.ApprovalInfo.ManagementDate = &now
	case StateApproved, StateRejected:
		next.ApprovalInfo.DecisionDate = &now
	}
	next.UpdatedAt = now
	if err := s.commit(ctx, prev, next); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("approval_code", code).
		Str("from", string(prev.ApprovalState)).
		Str("to", string(target)).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Msg("approval state changed")

	if target.Decided() {
		evtType := events.TypeApprovalApproved
		if target == StateRejected {
			evtType = events.TypeApprovalRejected
		}
		events.Emit(ctx, s.events, s.logger, events.Event{
			Type: evtType,
			Key:  code,
			Payload: map[string]interface{}{
				"original_case_code":  next.OriginalCaseCode,
				"complementary_tests": next.ComplementaryTests,
			},
		})
	}
	return next, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Delete(sctx, code); err != nil {
		return apperr.FromStore(err, "approval request "+code)
	}
	s.logger.Info().Str("approval_code", code).Str("user_id", auth.UserIDFromContext(ctx)).Msg("approval request deleted")
	return nil
}
