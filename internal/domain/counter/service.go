package counter

import (
	"context"
	"time"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/db"
)

// Service hands out year-scoped consecutive numbers and the codes derived from
// them. Inside db.Transactor.WithTx the increment commits or rolls back together
// with the caller's insert.
type Service struct {
	repo    Repository
	timeout time.Duration
}

func NewService(repo Repository, storeTimeout time.Duration) *Service {
	return &Service{repo: repo, timeout: storeTimeout}
}

// Next returns the next number for (key, year). Store failures surface as
// CounterUnavailable, deadlines as StoreTimeout.
func (s *Service) Next(ctx context.Context, key string, year int) (int64, error) {
	if !ValidKey(key) {
		return 0, apperr.BadParameter("unknown counter key %q", key)
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.repo.Next(ctx, key, year)
	if err != nil {
		if serr := apperr.FromStore(err, "counter"); apperr.KindOf(serr) == apperr.KindStoreTimeout {
			return 0, serr
		}
		return 0, apperr.CounterUnavailable(err)
	}
	return n, nil
}

// Peek returns last_number+1. Advisory only; never used to assign codes.
func (s *Service) Peek(ctx context.Context, key string, year int) (int64, error) {
	if !ValidKey(key) {
		return 0, apperr.BadParameter("unknown counter key %q", key)
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.repo.Current(ctx, key, year)
	if err != nil {
		return 0, apperr.FromStore(err, "counter")
	}
	return n + 1, nil
}

func (s *Service) NextCaseCode(ctx context.Context, year int) (string, error) {
	n, err := s.Next(ctx, KeyCase, year)
	if err != nil {
		return "", err
	}
	return FormatCaseCode(year, n)
}

func (s *Service) NextApprovalCode(ctx context.Context, year int) (string, error) {
	n, err := s.Next(ctx, KeyApproval, year)
	if err != nil {
		return "", err
	}
	return FormatApprovalCode(year, n)
}

func (s *Service) NextTicketCode(ctx context.Context, year int) (string, error) {
	n, err := s.Next(ctx, KeyTicket, year)
	if err != nil {
		return "", err
	}
	return FormatTicketCode(year, n)
}
