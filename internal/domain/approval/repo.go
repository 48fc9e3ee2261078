package approval

import (
	"context"
	"errors"
	"time"
)

// ErrStale is returned by Save when the stored request no longer matches the
// expected state and updated_at.
var ErrStale = errors.New("approval request changed since it was read")

type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByCode(ctx context.Context, code string) (*Request, error)
	Save(ctx context.Context, r *Request, expectState State, expectUpdatedAt time.Time) error
	Delete(ctx context.Context, code string) error
	Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Request, int, error)
}
