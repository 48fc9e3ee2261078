package statistics

import (
	"context"
	"fmt"
	"strings"

	"github.com/patholab/lis/internal/platform/apperr"
)

// CasesByMonth counts cases created in each month of year.
func (s *Service) CasesByMonth(ctx context.Context, year int, pathologist string) (*CasesByMonth, error) {
	if err := s.validateYear(year); err != nil {
		return nil, err
	}
	pathologist = strings.TrimSpace(pathologist)
	key := fmt.Sprintf("volume:cases-by-month:%d:%s", year, pathologist)

	var out CasesByMonth
	err := s.cached(ctx, key, &out, func(ctx context.Context) error {
		from, _ := s.monthRange(year, 1)
		rows, err := s.repo.CreatedBetween(ctx, from, from.AddDate(1, 0, 0), pathologist)
		if err != nil {
			return apperr.FromStore(err, "created cases")
		}
		out = CasesByMonth{Year: year, Months: make([]int, 12)}
		for _, r := range rows {
			out.Months[r.CreatedAt.In(s.cal.Location()).Month()-1]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type monthVolume struct {
	cases    int
	patients int
}

func volumeOf(rows []VolumeRow) monthVolume {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.PatientCode != "" {
			seen[r.PatientCode] = true
		}
	}
	return monthVolume{cases: len(rows), patients: len(seen)}
}

// CurrentMonth compares the current month's distinct patients and cases with the
// two previous months.
func (s *Service) CurrentMonth(ctx context.Context, pathologist string) (*CurrentMonthReport, error) {
	pathologist = strings.TrimSpace(pathologist)
	today := s.today()
	year, month := today.Year(), int(today.Month())
	key := fmt.Sprintf("volume:current-month:%d:%02d:%s", year, month, pathologist)

	var out CurrentMonthReport
	err := s.cached(ctx, key, &out, func(ctx context.Context) error {
		var vols [3]monthVolume
		for i := range vols {
			y, m := shiftMonth(year, month, -i)
			from, to := s.monthRange(y, m)
			rows, err := s.repo.CreatedBetween(ctx, from, to, pathologist)
			if err != nil {
				return apperr.FromStore(err, "created cases")
			}
			vols[i] = volumeOf(rows)
		}
		out = CurrentMonthReport{
			Month: month,
			Year:  year,
			Patients: Comparison{
				Current:          vols[0].patients,
				Previous:         vols[1].patients,
				PreviousPrevious: vols[2].patients,
				PctChange:        PctChange(float64(vols[0].patients), float64(vols[1].patients)),
			},
			Cases: Comparison{
				Current:          vols[0].cases,
				Previous:         vols[1].cases,
				PreviousPrevious: vols[2].cases,
				PctChange:        PctChange(float64(vols[0].cases), float64(vols[1].cases)),
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
