package ticket

import (
	"context"
	"errors"
	"time"
)

var ErrStale = errors.New("ticket changed since it was read")

type Repository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByCode(ctx context.Context, code string) (*Ticket, error)
	// Save writes t only while the stored row still has expectUpdatedAt.
	Save(ctx context.Context, t *Ticket, expectUpdatedAt time.Time) error
	Delete(ctx context.Context, code string) error
	Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Ticket, int, error)
}
