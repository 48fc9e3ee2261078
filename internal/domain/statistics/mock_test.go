package statistics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/patholab/lis/internal/domain/cases"
)

// fakeRepo applies the same narrowing as statsRepoPG to an in-memory case list.
type fakeRepo struct {
	mu    sync.Mutex
	cases []*cases.Case
	calls int
	err   error
}

func (f *fakeRepo) add(c *cases.Case) { f.cases = append(f.cases, c) }

func matchesPathologist(c *cases.Case, p string) bool {
	if p == "" {
		return true
	}
	return c.AssignedPathologist != nil && (c.AssignedPathologist.ID == p || c.AssignedPathologist.Name == p)
}

func (f *fakeRepo) OpenCasesCreatedBefore(_ context.Context, cutoff time.Time, pathologistID string, limit int) ([]UrgentRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []UrgentRow
	for _, c := range f.cases {
		if c.State != cases.StateInProcess && c.State != cases.StateToSign {
			continue
		}
		if !c.CreatedAt.Before(cutoff) {
			continue
		}
		if pathologistID != "" && (c.AssignedPathologist == nil || c.AssignedPathologist.ID != pathologistID) {
			continue
		}
		row := UrgentRow{
			CaseCode:    c.CaseCode,
			PatientCode: c.PatientInfo.PatientCode,
			PatientName: c.PatientInfo.Name,
			EntityName:  c.PatientInfo.EntityInfo.Name,
			Samples:     c.Samples,
			CreatedAt:   c.CreatedAt,
			State:       c.State,
			Priority:    c.Priority,
		}
		if c.AssignedPathologist != nil {
			row.PathologistName = c.AssignedPathologist.Name
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) SignedBetween(_ context.Context, from, to time.Time, cf CaseFilter) ([]TurnaroundRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []TurnaroundRow
	for _, c := range f.cases {
		if c.SignedAt == nil || c.SignedAt.Before(from) || !c.SignedAt.Before(to) {
			continue
		}
		if cf.Entity != "" && c.PatientInfo.EntityInfo.Name != cf.Entity {
			continue
		}
		if !matchesPathologist(c, cf.Pathologist) {
			continue
		}
		row := TurnaroundRow{CaseCode: c.CaseCode, CreatedAt: c.CreatedAt, SignedAt: *c.SignedAt}
		if c.AssignedPathologist != nil {
			row.PathologistID = c.AssignedPathologist.ID
			row.PathologistName = c.AssignedPathologist.Name
		}
		for _, s := range c.Samples {
			row.Tests = append(row.Tests, s.Tests...)
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeRepo) CreatedBetween(_ context.Context, from, to time.Time, pathologist string) ([]VolumeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []VolumeRow
	for _, c := range f.cases {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) || !matchesPathologist(c, pathologist) {
			continue
		}
		out = append(out, VolumeRow{CreatedAt: c.CreatedAt, PatientCode: c.PatientInfo.PatientCode})
	}
	return out, nil
}

func (f *fakeRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// brokenCache fails every operation.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) GetJSON(context.Context, string, interface{}) (bool, error) { return false, errCacheDown }
func (brokenCache) SetJSON(context.Context, string, interface{}, time.Duration) error {
	return errCacheDown
}
func (brokenCache) Close() error { return nil }
