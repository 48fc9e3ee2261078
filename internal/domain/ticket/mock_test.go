package ticket

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type memRepo struct {
	mu    sync.Mutex
	store map[string]Ticket
}

func newMemRepo() *memRepo { return &memRepo{store: make(map[string]Ticket)} }

func (m *memRepo) Create(_ context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[t.TicketCode]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate ticket_code " + t.TicketCode}
	}
	m.store[t.TicketCode] = *t
	return nil
}

func (m *memRepo) GetByCode(_ context.Context, code string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (m *memRepo) Save(_ context.Context, t *Ticket, expectUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[t.TicketCode]
	if !ok || !cur.UpdatedAt.Equal(expectUpdatedAt) {
		return ErrStale
	}
	m.store[t.TicketCode] = *t
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

func (m *memRepo) Search(_ context.Context, f SearchFilter, limit, offset int) ([]*Ticket, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.store {
		t := t
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
			continue
		}
		if f.AssignedTo != "" && (t.AssignedTo == nil || *t.AssignedTo != f.AssignedTo) {
			continue
		}
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketCode > out[j].TicketCode })
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

type memCodes struct {
	mu   sync.Mutex
	last int64
	err  error
}

func (m *memCodes) NextTicketCode(_ context.Context, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.last++
	return fmt.Sprintf("T-%04d-%03d", year, m.last), nil
}

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
