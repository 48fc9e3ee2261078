package statistics

import (
	"context"
	"sort"
	"strings"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/db"
)

// Urgent lists open cases whose calendar age reaches q.MinDays, oldest first.
// The store narrows by state, pathologist and a created_at cutoff; days are
// computed here on the calendar.
func (s *Service) Urgent(ctx context.Context, q UrgentQuery) ([]UrgentCase, error) {
	if q.Limit == 0 {
		q.Limit = DefaultUrgentLimit
	}
	if q.Limit < 1 || q.Limit > MaxUrgentLimit {
		return nil, apperr.BadParameter("limit must be between 1 and %d, got %d", MaxUrgentLimit, q.Limit)
	}
	if q.MinDays < 0 || q.MinDays > MaxUrgentDays {
		return nil, apperr.BadParameter("min_days must be between 0 and %d, got %d", MaxUrgentDays, q.MinDays)
	}

	now := s.now()
	// A case created on date d has age MinDays or more iff d < today-MinDays+1.
	cutoff := s.today().AddDate(0, 0, -q.MinDays+1)

	sctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.repo.OpenCasesCreatedBefore(sctx, cutoff, strings.TrimSpace(q.Pathologist), q.Limit)
	if err != nil {
		return nil, apperr.FromStore(err, "urgent cases")
	}

	out := make([]UrgentCase, 0, len(rows))
	for _, r := range rows {
		days := s.cal.DaysBetween(r.CreatedAt, now)
		if days < q.MinDays {
			continue
		}
		uc := UrgentCase{
			CaseCode:        r.CaseCode,
			PatientCode:     r.PatientCode,
			PatientName:     r.PatientName,
			EntityName:      r.EntityName,
			Tests:           []string{},
			PathologistName: r.PathologistName,
			CreatedAt:       r.CreatedAt,
			State:           r.State,
			Priority:        r.Priority,
			DaysInSystem:    days,
		}
		for _, sample := range r.Samples {
			for _, t := range sample.Tests {
				uc.Tests = append(uc.Tests, t.ID+" - "+t.Name)
			}
		}
		out = append(out, uc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysInSystem != out[j].DaysInSystem {
			return out[i].DaysInSystem > out[j].DaysInSystem
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
