package statistics

import (
	"context"
	"time"
)

// Repository runs the narrowing queries behind the analytics. Each call filters on
// indexed columns and returns only the fields the aggregation reads.
type Repository interface {
	// OpenCasesCreatedBefore returns En proceso and Por firmar cases created before
	// cutoff, oldest first.
	OpenCasesCreatedBefore(ctx context.Context, cutoff time.Time, pathologistID string, limit int) ([]UrgentRow, error)
	// SignedBetween returns cases with from <= signed_at < to.
	SignedBetween(ctx context.Context, from, to time.Time, f CaseFilter) ([]TurnaroundRow, error)
	// CreatedBetween returns cases with from <= created_at < to.
	CreatedBetween(ctx context.Context, from, to time.Time, pathologist string) ([]VolumeRow, error)
}
