// Package fedctx pairs a context.Context with a structured logger, so a
// contextual logger can be threaded through the fan-out call tree without
// losing type safety to context.Value.
package fedctx

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doubleyewdee/MetricSystem/internal/logging"
)

// Context extends context.Context with a logger.
type Context struct {
	context.Context
	Log logging.Logger
}

// Background returns an empty Context with a default logger, analogous to
// context.Background().
func Background() *Context {
	return &Context{Context: context.Background(), Log: logging.New()}
}

// New wraps an existing context.Context with the given logger.
func New(ctx context.Context, log logging.Logger) *Context {
	return &Context{Context: ctx, Log: log}
}

// WithCancel is analogous to context.WithCancel.
func WithCancel(parent *Context) (*Context, context.CancelFunc) {
	c, cancel := context.WithCancel(parent.Context)
	return &Context{Context: c, Log: parent.Log}, cancel
}

// WithTimeout is analogous to context.WithTimeout. It is the mechanism by
// which the query client bounds a single leader request to its fanout
// timeout: a per-request timeout, not a timeout shared across the whole
// fan-out.
func WithTimeout(parent *Context, timeout time.Duration) (*Context, context.CancelFunc) {
	c, cancel := context.WithTimeout(parent.Context, timeout)
	return &Context{Context: c, Log: parent.Log}, cancel
}

// WithLogField returns a copy of parent with key=val added to the logger.
func WithLogField(parent *Context, key string, val any) *Context {
	return &Context{Context: parent.Context, Log: parent.Log.With(key, val)}
}

// ErrGroup returns a new errgroup.Group and an associated *Context derived
// from ctx, analogous to errgroup.WithContext(ctx). Used by the query
// client to run leader requests concurrently under one cancellation scope.
func ErrGroup(ctx *Context) (*errgroup.Group, *Context) {
	group, goCtx := errgroup.WithContext(ctx)
	return group, &Context{Context: goCtx, Log: ctx.Log}
}
