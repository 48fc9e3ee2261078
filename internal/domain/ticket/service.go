package ticket

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
)

type CodeIssuer interface {
	NextTicketCode(ctx context.Context, year int) (string, error)
}

type Service struct {
	repo    Repository
	codes   CodeIssuer
	tx      db.Transactor
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithLogger(l zerolog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func NewService(repo Repository, codes CodeIssuer, tx db.Transactor, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		codes:  codes,
		tx:     tx,
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

// Create opens a ticket on behalf of the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Ticket, error) {
	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if err := validateCategory(in.Category); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, apperr.BadParameter("invalid priority: %s", in.Priority)
	}
	creator := auth.UserIDFromContext(ctx)
	if creator == "" {
		return nil, apperr.Unauthorized("ticket creation requires an authenticated caller")
	}

	now := s.clock()
	t := &Ticket{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(in.Title),
		Category:    strings.TrimSpace(in.Category),
		Description: in.Description,
		Priority:    in.Priority,
		Status:      StatusOpen,
		CreatedBy:   creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		code, err := s.codes.NextTicketCode(ctx, now.Year())
		if err != nil {
			return err
		}
		t.TicketCode = code

		sctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.repo.Create(sctx, t); err != nil {
			if serr := apperr.FromStore(err, "ticket"); apperr.IsKind(serr, apperr.KindDuplicateCode) {
				return apperr.DuplicateCode(code)
			}
			return apperr.FromStore(err, "ticket "+code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("ticket_code", t.TicketCode).Str("user_id", creator).Msg("ticket created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, code string) (*Ticket, error) {
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	t, err := s.repo.GetByCode(sctx, code)
	if err != nil {
		return nil, apperr.FromStore(err, "ticket "+code)
	}
	return t, nil
}

func (s *Service) Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Ticket, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.BadParameter("invalid status: %s", f.Status)
	}
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	items, total, err := s.repo.Search(sctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromStore(err, "tickets")
	}
	return items, total, nil
}

func (s *Service) commit(ctx context.Context, prev, next *Ticket) error {
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.repo.Save(sctx, next, prev.UpdatedAt)
	if errors.Is(err, ErrStale) {
		if _, gerr := s.repo.GetByCode(sctx, prev.TicketCode); gerr != nil {
			return apperr.FromStore(gerr, "ticket "+prev.TicketCode)
		}
		return apperr.ConcurrentModification("ticket " + prev.TicketCode)
	}
	if err != nil {
		return apperr.FromStore(err, "ticket "+prev.TicketCode)
	}
	return nil
}

// Update edits the descriptive fields. Closed tickets are read-only.
func (s *Service) Update(ctx context.Context, code string, in UpdateInput) (*Ticket, error) {
	if in.Title != nil {
		if err := validateTitle(*in.Title); err != nil {
			return nil, err
		}
	}
	if in.Category != nil {
		if err := validateCategory(*in.Category); err != nil {
			return nil, err
		}
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return nil, apperr.BadParameter("invalid priority: %s", *in.Priority)
	}
	prev, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if prev.Status == StatusClosed {
		return nil, apperr.New(apperr.KindCaseLocked, "ticket %s is closed", code)
	}

	next := *prev
	if in.Title != nil {
		next.Title = strings.TrimSpace(*in.Title)
	}
	if in.Category != nil {
		next.Category = strings.TrimSpace(*in.Category)
	}
	if in.Description != nil {
		next.Description = *in.Description
	}
	if in.Priority != nil {
		next.Priority = *in.Priority
	}
	next.UpdatedAt = s.clock()
	if err := s.commit(ctx, prev, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Assign sets the user working the ticket. An empty assignee clears it.
func (s *Service) Assign(ctx context.Context, code, assignee string) (*Ticket, error) {
	prev, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if prev.Status == StatusClosed {
		return nil, apperr.New(apperr.KindCaseLocked, "ticket %s is closed", code)
	}
	next := *prev
	next.AssignedTo = nil
	if assignee = strings.TrimSpace(assignee); assignee != "" {
		next.AssignedTo = &assignee
	}
	next.UpdatedAt = s.clock()
	if err := s.commit(ctx, prev, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// ChangeStatus moves the ticket along open -> in-progress -> resolved -> closed.
// resolved_at is cleared when a resolved ticket goes back to work.
func (s *Service) ChangeStatus(ctx context.Context, code string, target Status) (*Ticket, error) {
	if !target.Valid() {
		return nil, apperr.BadParameter("unknown status %q", target)
	}
	prev, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if prev.Status == target {
		return prev, nil
	}
	if !CanTransition(prev.Status, target) {
		return nil, apperr.IllegalTransition(string(prev.Status), string(target), "")
	}

	now := s.clock()
	next := *prev
	next.Status = target
	switch target {
	case StatusResolved:
		next.ResolvedAt = &now
	case StatusClosed:
		next.ClosedAt = &now
	case StatusInProgress, StatusOpen:
		next.ResolvedAt = nil
	}
	next.UpdatedAt = now
	if err := s.commit(ctx, prev, &next); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("ticket_code", code).
		Str("from", string(prev.Status)).
		Str("to", string(target)).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Msg("ticket status changed")
	return &next, nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Delete(sctx, code); err != nil {
		return apperr.FromStore(err, "ticket "+code)
	}
	s.logger.Info().Str("ticket_code", code).Str("user_id", auth.UserIDFromContext(ctx)).Msg("ticket deleted")
	return nil
}
