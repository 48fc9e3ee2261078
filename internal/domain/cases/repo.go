package cases

import (
	"context"
	"errors"
	"time"
)

// ErrStale is returned by Save when no row matched the expected state and
// updated_at, either because the case is gone or because it changed.
var ErrStale = errors.New("case changed since it was read")

// Expect is the precondition of a conditional write.
type Expect struct {
	State     State
	UpdatedAt time.Time
}

type Repository interface {
	Create(ctx context.Context, c *Case) error
	GetByCode(ctx context.Context, code string) (*Case, error)
	// Save replaces the stored document for c.CaseCode only while it still
	// matches expect.
	Save(ctx context.Context, c *Case, expect Expect) error
	Delete(ctx context.Context, code string) error
	Search(ctx context.Context, f SearchFilter, limit, offset int) ([]*Case, int, error)
	GetResult(ctx context.Context, code string) (*ResultView, error)
	GetState(ctx context.Context, code string) (*StateView, error)
	// ReplacePatientCode rewrites patient_info.patient_code on every matching case.
	ReplacePatientCode(ctx context.Context, from, to string, at time.Time) (int64, error)
}
