package statistics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/patholab/lis/internal/platform/apperr"
)

type tally struct {
	id, name string
	total    int
	within   int
	daysSum  int
}

func (t *tally) add(days, threshold int) {
	t.total++
	t.daysSum += days
	if days <= threshold {
		t.within++
	}
}

func (t *tally) avg() float64 {
	if t.total == 0 {
		return 0
	}
	return round2(float64(t.daysSum) / float64(t.total))
}

func (t *tally) breakdown() Breakdown {
	return Breakdown{
		ID:               t.id,
		Name:             t.name,
		Total:            t.total,
		WithinThreshold:  t.within,
		OutsideThreshold: t.total - t.within,
		OpportunityPct:   pct(t.within, t.total),
		AvgDays:          t.avg(),
	}
}

func sortedBreakdowns(m map[string]*tally) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, t := range m {
		out = append(out, t.breakdown())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// aggregate folds signed cases into a monthly report. A case is within
// opportunity when its business-day turnaround is at most the threshold.
func (s *Service) aggregate(rows []TurnaroundRow, threshold int) MonthlyReport {
	var all tally
	byPath := map[string]*tally{}
	byTest := map[string]*tally{}

	for _, r := range rows {
		days := s.cal.BusinessDays(r.CreatedAt, r.SignedAt)
		all.add(days, threshold)

		if r.PathologistName != "" || r.PathologistID != "" {
			key := r.PathologistID
			if key == "" {
				key = r.PathologistName
			}
			t, ok := byPath[key]
			if !ok {
				t = &tally{id: r.PathologistID, name: r.PathologistName}
				byPath[key] = t
			}
			t.add(days, threshold)
		}

		seen := map[string]bool{}
		for _, test := range r.Tests {
			if test.ID == "" || seen[test.ID] {
				continue
			}
			seen[test.ID] = true
			t, ok := byTest[test.ID]
			if !ok {
				t = &tally{id: test.ID, name: test.Name}
				byTest[test.ID] = t
			}
			t.add(days, threshold)
		}
	}

	return MonthlyReport{
		ThresholdDays:    threshold,
		Total:            all.total,
		WithinThreshold:  all.within,
		OutsideThreshold: all.total - all.within,
		OpportunityPct:   pct(all.within, all.total),
		AvgDays:          all.avg(),
		ByPathologist:    sortedBreakdowns(byPath),
		ByTest:           sortedBreakdowns(byTest),
	}
}

func (s *Service) validateMonthly(q *MonthlyQuery) error {
	if err := s.validateThreshold(q.ThresholdDays); err != nil {
		return err
	}
	if err := s.validateYear(q.Year); err != nil {
		return err
	}
	if err := validateMonth(q.Month); err != nil {
		return err
	}
	q.Entity = strings.TrimSpace(q.Entity)
	q.Pathologist = strings.TrimSpace(q.Pathologist)
	return nil
}

// Monthly aggregates cases signed inside q's month.
func (s *Service) Monthly(ctx context.Context, q MonthlyQuery) (*MonthlyReport, error) {
	if err := s.validateMonthly(&q); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("opportunity:monthly:%d:%02d:%d:%s:%s", q.Year, q.Month, q.ThresholdDays, q.Entity, q.Pathologist)

	var report MonthlyReport
	err := s.cached(ctx, key, &report, func(ctx context.Context) error {
		from, to := s.monthRange(q.Year, q.Month)
		rows, err := s.repo.SignedBetween(ctx, from, to, q.CaseFilter)
		if err != nil {
			return apperr.FromStore(err, "signed cases")
		}
		report = s.aggregate(rows, q.ThresholdDays)
		report.Month, report.Year = q.Month, q.Year
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Pathologists is the per-pathologist part of Monthly.
func (s *Service) Pathologists(ctx context.Context, q MonthlyQuery) ([]Breakdown, error) {
	r, err := s.Monthly(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.ByPathologist, nil
}

// Tests is the per-test part of Monthly.
func (s *Service) Tests(ctx context.Context, q MonthlyQuery) ([]Breakdown, error) {
	r, err := s.Monthly(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.ByTest, nil
}

// Yearly returns twelve monthly opportunity percentages.
func (s *Service) Yearly(ctx context.Context, year, threshold int) (*YearlyReport, error) {
	if err := s.validateThreshold(threshold); err != nil {
		return nil, err
	}
	if err := s.validateYear(year); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("opportunity:yearly:%d:%d", year, threshold)

	var report YearlyReport
	err := s.cached(ctx, key, &report, func(ctx context.Context) error {
		from, _ := s.monthRange(year, 1)
		to := from.AddDate(1, 0, 0)
		rows, err := s.repo.SignedBetween(ctx, from, to, CaseFilter{})
		if err != nil {
			return apperr.FromStore(err, "signed cases")
		}
		perMonth := make([][]TurnaroundRow, 12)
		for _, r := range rows {
			m := r.SignedAt.In(s.cal.Location()).Month()
			perMonth[m-1] = append(perMonth[m-1], r)
		}
		report = YearlyReport{Year: year, ThresholdDays: threshold, Months: make([]MonthPct, 12)}
		for i, mrows := range perMonth {
			agg := s.aggregate(mrows, threshold)
			report.Months[i] = MonthPct{Month: i + 1, Total: agg.Total, OpportunityPct: agg.OpportunityPct}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func summary(r *MonthlyReport) MonthSummary {
	return MonthSummary{
		Month:            r.Month,
		Year:             r.Year,
		Total:            r.Total,
		WithinThreshold:  r.WithinThreshold,
		OutsideThreshold: r.OutsideThreshold,
		OpportunityPct:   r.OpportunityPct,
		AvgDays:          r.AvgDays,
	}
}

// General compares the last full month with the month before it.
func (s *Service) General(ctx context.Context, threshold int) (*GeneralReport, error) {
	if err := s.validateThreshold(threshold); err != nil {
		return nil, err
	}
	today := s.today()
	cy, cm := shiftMonth(today.Year(), int(today.Month()), -1)
	py, pm := shiftMonth(today.Year(), int(today.Month()), -2)

	cur, err := s.Monthly(ctx, MonthlyQuery{Month: cm, Year: cy, ThresholdDays: threshold})
	if err != nil {
		return nil, err
	}
	prev, err := s.Monthly(ctx, MonthlyQuery{Month: pm, Year: py, ThresholdDays: threshold})
	if err != nil {
		return nil, err
	}
	return &GeneralReport{
		ThresholdDays: threshold,
		Current:       summary(cur),
		Previous:      summary(prev),
		PctChange:     PctChange(cur.OpportunityPct, prev.OpportunityPct),
	}, nil
}
