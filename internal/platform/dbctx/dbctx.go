package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries a request context and an optional transaction. A nil Tx
// means the repo uses its own handle.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}
