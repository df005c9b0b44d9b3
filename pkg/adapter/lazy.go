// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"sync/atomic"
)

// cell is a write-once value initialized on first use. Concurrent callers
// wait for the one running initialization and reuse its result. A failed
// initialization is not cached, so the next caller tries again.
type cell[T any] struct {
	// sem admits one initializer at a time; waiters can give up via ctx.
	sem chan struct{}
	// val is set once init succeeded.
	val atomic.Pointer[T]
}

func newCell[T any]() *cell[T] {
	return &cell[T]{sem: make(chan struct{}, 1)}
}

// get returns the cached value or runs init.
func (c *cell[T]) get(ctx context.Context, init func(context.Context) (T, error)) (T, error) {
	if v := c.val.Load(); v != nil {
		return *v, nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	defer func() { <-c.sem }()

	if v := c.val.Load(); v != nil {
		return *v, nil
	}

	v, err := init(ctx)
	if err != nil {
		return v, err
	}

	c.val.Store(&v)

	return v, nil
}
