package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Repos fall back to their own *gorm.DB handle when Tx is nil, so callers
// decide the transaction boundary without repos caring.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Background is a convenience for worker-side calls with no transaction.
func Background() Context {
	return Context{Ctx: context.Background()}
}
