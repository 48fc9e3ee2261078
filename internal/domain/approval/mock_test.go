package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patholab/lis/internal/domain/cases"
	"github.com/patholab/lis/internal/platform/events"
)

type memRepo struct {
	mu    sync.Mutex
	store map[string]*Request
}

func newMemRepo() *memRepo { return &memRepo{store: make(map[string]*Request)} }

func (m *memRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[r.ApprovalCode]; ok {
		return fmt.Errorf("duplicate %s", r.ApprovalCode)
	}
	m.store[r.ApprovalCode] = r.clone()
	return nil
}

func (m *memRepo) GetByCode(_ context.Context, code string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r.clone(), nil
}

func (m *memRepo) Save(_ context.Context, r *Request, expectState State, expectUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[r.ApprovalCode]
	if !ok || cur.ApprovalState != expectState || !cur.UpdatedAt.Equal(expectUpdatedAt) {
		return ErrStale
	}
	m.store[r.ApprovalCode] = r.clone()
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

func (m *memRepo) Search(_ context.Context, f SearchFilter, limit, offset int) ([]*Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.store {
		if f.State != "" && r.ApprovalState != f.State {
			continue
		}
		if f.OriginalCaseCode != "" && r.OriginalCaseCode != f.OriginalCaseCode {
			continue
		}
		if f.RequestFrom != nil && r.CreatedAt.Before(*f.RequestFrom) {
			continue
		}
		if f.RequestTo != nil && !r.CreatedAt.Before(*f.RequestTo) {
			continue
		}
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalCode > out[j].ApprovalCode })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

// knownCases answers GetState for a fixed set of case codes.
type knownCases map[string]bool

func (k knownCases) GetState(_ context.Context, code string) (*cases.StateView, error) {
	if !k[code] {
		return nil, pgx.ErrNoRows
	}
	return &cases.StateView{CaseCode: code, State: cases.StateInProcess}, nil
}

type memCodes struct {
	mu   sync.Mutex
	last int64
}

func (m *memCodes) NextApprovalCode(_ context.Context, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last++
	return fmt.Sprintf("AP-%04d-%03d", year, m.last), nil
}

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }
