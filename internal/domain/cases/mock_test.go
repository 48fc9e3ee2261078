package cases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memRepo mirrors the conditional-write semantics of caseRepoPG.
type memRepo struct {
	mu    sync.Mutex
	store map[string]*Case
	err   error
}

func newMemRepo() *memRepo {
	return &memRepo{store: make(map[string]*Case)}
}

func (m *memRepo) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.store[c.CaseCode]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key " + c.CaseCode}
	}
	m.store[c.CaseCode] = c.clone()
	return nil
}

func (m *memRepo) GetByCode(_ context.Context, code string) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.store[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c.clone(), nil
}

func (m *memRepo) Save(_ context.Context, c *Case, expect Expect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[c.CaseCode]
	if !ok || cur.State != expect.State || !cur.UpdatedAt.Equal(expect.UpdatedAt) {
		return ErrStale
	}
	m.store[c.CaseCode] = c.clone()
	return nil
}

func (m *memRepo) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[code]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.store, code)
	return nil
}

func (m *memRepo) Search(_ context.Context, f SearchFilter, limit, offset int) ([]*Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Case
	for _, c := range m.store {
		if f.State != "" && c.State != f.State {
			continue
		}
		if f.PatientCode != "" && c.PatientInfo.PatientCode != f.PatientCode {
			continue
		}
		if f.PatientName != "" && !strings.Contains(strings.ToLower(c.PatientInfo.Name), strings.ToLower(f.PatientName)) {
			continue
		}
		matched = append(matched, c.clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CaseCode > matched[j].CaseCode })
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *memRepo) GetResult(ctx context.Context, code string) (*ResultView, error) {
	c, err := m.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ResultView{CaseCode: c.CaseCode, State: c.State, AssignedPathologist: c.AssignedPathologist, Result: c.Result, SignedAt: c.SignedAt}, nil
}

func (m *memRepo) GetState(ctx context.Context, code string) (*StateView, error) {
	c, err := m.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &StateView{CaseCode: c.CaseCode, State: c.State, UpdatedAt: c.UpdatedAt}, nil
}

func (m *memRepo) ReplacePatientCode(_ context.Context, from, to string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.store {
		if c.PatientInfo.PatientCode == from {
			c.PatientInfo.PatientCode = to
			c.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// set overwrites a stored case, bypassing the service.
func (m *memRepo) set(c *Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[c.CaseCode] = c.clone()
}

type memCodes struct {
	mu   sync.Mutex
	last map[int]int64
	err  error
}

func newMemCodes() *memCodes {
	return &memCodes{last: make(map[int]int64)}
}

func (m *memCodes) NextCaseCode(_ context.Context, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.last[year]++
	return fmt.Sprintf("%04d-%05d", year, m.last[year]), nil
}

func (m *memCodes) lastNumber(year int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[year]
}

// memCounterRepo is an in-memory counter.Repository; Next is atomic like the
// upsert in counterRepoPG.
type memCounterRepo struct {
	mu   sync.Mutex
	last map[string]int64
}

func newMemCounterRepo() *memCounterRepo {
	return &memCounterRepo{last: make(map[string]int64)}
}

func (m *memCounterRepo) Next(_ context.Context, key string, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fmt.Sprintf("%s/%d", key, year)
	m.last[k]++
	return m.last[k], nil
}

func (m *memCounterRepo) Current(_ context.Context, key string, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[fmt.Sprintf("%s/%d", key, year)], nil
}

// directTx runs fn without a transaction.
type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
