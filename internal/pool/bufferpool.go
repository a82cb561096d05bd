// Package pool implements a recyclable buffer pool that the persisted-data
// codec borrows scratch space from for header and body assembly, so
// encoding a record does not allocate a fresh buffer per call.
package pool

import (
	"bytes"
	"context"
	"math"
	"time"

	gcp "github.com/jolestar/go-commons-pool"
	"github.com/hashicorp/go-multierror"
)

// BufferPool lends out *bytes.Buffer scratch space for encoding/decoding a
// single record and reclaims it afterward. Every acquisition must be
// released on all exit paths, including errors.
type BufferPool interface {
	Get(ctx context.Context) (*bytes.Buffer, error)
	Put(ctx context.Context, buf *bytes.Buffer) error
	// Close drains and shuts down the pool. Safe to call once, at process
	// shutdown.
	Close(ctx context.Context) error
}

// commonsBufferPool is the default BufferPool, backed by go-commons-pool.
type commonsBufferPool struct {
	objects *gcp.ObjectPool
}

// NewBufferPool creates a BufferPool of scratch *bytes.Buffer instances,
// bounded in total/idle capacity with blocking borrow rather than
// unbounded growth.
func NewBufferPool(ctx context.Context) BufferPool {
	config := gcp.ObjectPoolConfig{
		MaxTotal:                 100,
		MaxIdle:                  50,
		MinIdle:                  10,
		BlockWhenExhausted:       true,
		MinEvictableIdleTime:     30 * time.Minute,
		SoftMinEvictableIdleTime: math.MaxInt64,
		TimeBetweenEvictionRuns:  0,
		NumTestsPerEvictionRun:   10,
	}
	factory := gcp.NewPooledObjectFactorySimple(
		func(context.Context) (interface{}, error) {
			return new(bytes.Buffer), nil
		})
	return &commonsBufferPool{objects: gcp.NewObjectPool(ctx, factory, &config)}
}

func (p *commonsBufferPool) Get(ctx context.Context) (*bytes.Buffer, error) {
	obj, err := p.objects.BorrowObject(ctx)
	if err != nil {
		return nil, err
	}
	buf := obj.(*bytes.Buffer)
	buf.Reset()
	return buf, nil
}

func (p *commonsBufferPool) Put(ctx context.Context, buf *bytes.Buffer) error {
	return p.objects.ReturnObject(ctx, buf)
}

func (p *commonsBufferPool) Close(ctx context.Context) error {
	p.objects.Close(ctx)
	return nil
}

// ReleaseAll returns every buffer in bufs to pool, combining any return
// errors into a single multierror rather than stopping at the first
// failure; every acquisition must be released regardless of whether an
// earlier release in the same scope-exit failed.
func ReleaseAll(ctx context.Context, p BufferPool, bufs ...*bytes.Buffer) error {
	var result *multierror.Error
	for _, buf := range bufs {
		if buf == nil {
			continue
		}
		if err := p.Put(ctx, buf); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
