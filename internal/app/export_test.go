package app

import (
	"context"

	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
)

// CachedScores exposes the stored outcomes that change detection runs against.
func (c *Context) CachedScores(ctx context.Context, id result.ID) (map[string]scoring.Outcome, error) {
	return c.repo.CachedScores(ctx, id)
}
