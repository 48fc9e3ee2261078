package counter

import "context"

type Repository interface {
	// Next atomically increments the (key, year) counter, creating it at 1, and
	// returns the new value.
	Next(ctx context.Context, key string, year int) (int64, error)
	// Current returns last_number without mutation; 0 when the record is absent.
	Current(ctx context.Context, key string, year int) (int64, error)
}
