package statistics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/cache"
	"github.com/patholab/lis/internal/platform/calendar"
	"github.com/patholab/lis/internal/platform/db"
)

// Service computes the read-only analytics over cases. Results may be served from
// an advisory cache; the store stays the only source of truth.
type Service struct {
	repo     Repository
	cal      *calendar.Calendar
	cache    cache.Cache
	cacheTTL time.Duration
	logger   zerolog.Logger
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Service)

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.cacheTTL = c, ttl }
}

func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithLogger(l zerolog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func NewService(repo Repository, cal *calendar.Calendar, opts ...Option) *Service {
	if cal == nil {
		cal = calendar.Default()
	}
	s := &Service{
		repo:   repo,
		cal:    cal,
		cache:  cache.Noop{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) today() time.Time {
	return s.cal.Date(s.now())
}

// monthRange returns [first of month, first of next month) in the calendar zone.
func (s *Service) monthRange(year, month int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, s.cal.Location())
	return from, from.AddDate(0, 1, 0)
}

// shiftMonth returns the (year, month) delta months away from (year, month).
func shiftMonth(year, month, delta int) (int, int) {
	t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return t.Year(), int(t.Month())
}

func (s *Service) validateThreshold(days int) error {
	if days < MinThresholdDays || days > MaxThresholdDays {
		return apperr.BadParameter("threshold_days must be between %d and %d, got %d", MinThresholdDays, MaxThresholdDays, days)
	}
	return nil
}

func (s *Service) validateYear(year int) error {
	maxYear := s.today().Year() + 1
	if year < MinYear || year > maxYear {
		return apperr.BadParameter("year must be between %d and %d, got %d", MinYear, maxYear, year)
	}
	return nil
}

func validateMonth(month int) error {
	if month < 1 || month > 12 {
		return apperr.BadParameter("month must be between 1 and 12, got %d", month)
	}
	return nil
}

// cached serves key from the cache or computes and stores it. Cache failures are
// logged and never fail the request.
func (s *Service) cached(ctx context.Context, key string, dest interface{}, compute func(context.Context) error) error {
	if hit, err := s.cache.GetJSON(ctx, key, dest); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("analytics cache read failed")
	} else if hit {
		return nil
	}

	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := compute(sctx); err != nil {
		return err
	}

	if err := s.cache.SetJSON(ctx, key, dest, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("analytics cache write failed")
	}
	return nil
}
