// Package store holds the tenant-scoped flag definition store: the
// persistence repository and the cache-through layer with coherent
// invalidation.
package store

import (
	"context"
	"errors"

	"github.com/flagcore/backend/internal/evaluation"
)

// ErrNotFound reports that a flag does not exist for the tenant. Absence is
// an expected outcome, not a failure.
var ErrNotFound = errors.New("flag not found")

// ErrUnavailable reports that persistence is unreachable and no stale
// definition could be served. The transport maps it to 503.
var ErrUnavailable = errors.New("definition store unavailable")

// Repository fetches authoritative flag snapshots with rules and conditions
// eagerly joined. Implementations return ErrNotFound for missing flags.
type Repository interface {
	FlagByKey(ctx context.Context, tenantID, key string) (*evaluation.Flag, error)
}
