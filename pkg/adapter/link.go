// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// SubQueue selects a system sub-queue of an entity.
type SubQueue uint8

const (
	SubQueueNone SubQueue = iota
	SubQueueDeadLetter
	SubQueueTransferDeadLetter
)

// ParseSubQueue accepts "", "dead_letter" and "transfer_dead_letter".
func ParseSubQueue(s string) (SubQueue, error) {
	switch s {
	case "", "none":
		return SubQueueNone, nil
	case "dead_letter", "deadletter":
		return SubQueueDeadLetter, nil
	case "transfer_dead_letter", "transferdeadletter":
		return SubQueueTransferDeadLetter, nil
	default:
		return SubQueueNone, fmt.Errorf("unknown sub-queue %q", s)
	}
}

// EntityPath builds the link source address: "{entity}" for a queue,
// "{entity}/subscriptions/{subscription}" for a topic subscription, plus the
// sub-queue suffix if any.
func EntityPath(entity, subscription string, sub SubQueue) string {
	path := entity
	if subscription != "" {
		path += "/subscriptions/" + subscription
	}

	switch sub {
	case SubQueueDeadLetter:
		path += "/$DeadLetterQueue"
	case SubQueueTransferDeadLetter:
		path += "/$Transfer/$DeadLetterQueue"
	}

	return path
}

// linkProvisioner lazily begins the session and attaches the receiver link.
// Both are created once and shared by every clone of the receiver.
type linkProvisioner struct {
	// conn is the transport connection sessions are begun on.
	conn transport.Connection
	// path is the source address of the receiver link.
	path string
	// sessionOpts are passed when the session begins.
	sessionOpts transport.SessionOptions
	// linkOpts are passed when the link attaches.
	linkOpts transport.LinkOptions
	// session caches the session handle.
	session *cell[transport.Session]
	// link caches the receiver link handle.
	link *cell[transport.ReceiverLink]
	// attached flips on the first successful link attach.
	attached atomic.Bool
	// closed refuses new handles after close.
	closed atomic.Bool

	// mu orders handle registration against close.
	mu sync.Mutex
	// handles are released by close, newest first.
	handles []handle
}

// handle is an opened transport resource and the call that releases it.
type handle struct {
	name    string
	release func(context.Context) error
}

func newLinkProvisioner(conn transport.Connection, path string, sessionOpts transport.SessionOptions, linkOpts transport.LinkOptions) *linkProvisioner {
	return &linkProvisioner{
		conn:        conn,
		path:        path,
		sessionOpts: sessionOpts,
		linkOpts:    linkOpts,
		session:     newCell[transport.Session](),
		link:        newCell[transport.ReceiverLink](),
	}
}

// track registers a freshly opened handle for close. If close already ran,
// the handle is released at once and ReceiverClosedError is returned.
func (p *linkProvisioner) track(ctx context.Context, name string, release func(context.Context) error) error {
	p.mu.Lock()

	if p.closed.Load() {
		p.mu.Unlock()
		_ = release(ctx)

		return broker.ReceiverClosedError{}
	}

	p.handles = append(p.handles, handle{name: name, release: release})
	p.mu.Unlock()

	return nil
}

// Session returns the cached session, beginning it on first use.
func (p *linkProvisioner) Session(ctx context.Context) (transport.Session, error) {
	if p.closed.Load() {
		return nil, broker.ReceiverClosedError{}
	}

	s, err := p.session.get(ctx, func(ctx context.Context) (transport.Session, error) {
		opts := p.sessionOpts

		s, err := p.conn.NewSession(ctx, &opts)
		if err != nil {
			return nil, err
		}

		if err := p.track(ctx, "session", s.End); err != nil {
			return nil, err
		}

		return s, nil
	})

	return usable(p, s, "begin session", err)
}

// ReceiverLink returns the cached receiver link, attaching it on first use.
func (p *linkProvisioner) ReceiverLink(ctx context.Context) (transport.ReceiverLink, error) {
	if p.closed.Load() {
		return nil, broker.ReceiverClosedError{}
	}

	l, err := p.link.get(ctx, func(ctx context.Context) (transport.ReceiverLink, error) {
		s, err := p.Session(ctx)
		if err != nil {
			return nil, err
		}

		opts := p.linkOpts

		l, err := s.NewReceiverLink(ctx, p.path, &opts)
		if err != nil {
			return nil, broker.AmqpError{Op: "attach link", Err: err}
		}

		if err := p.track(ctx, "receiver link", l.Detach); err != nil {
			return nil, err
		}

		p.attached.Store(true)

		return l, nil
	})

	return usable(p, l, "attach link", err)
}

// usable types err and refuses handles obtained while close was running.
func usable[T any](p *linkProvisioner, v T, op string, err error) (T, error) {
	var zero T

	if err != nil {
		var (
			amqpErr   broker.AmqpError
			closedErr broker.ReceiverClosedError
		)
		if !errors.As(err, &amqpErr) && !errors.As(err, &closedErr) {
			err = broker.AmqpError{Op: op, Err: err}
		}

		return zero, err
	}

	if p.closed.Load() {
		return zero, broker.ReceiverClosedError{}
	}

	return v, nil
}

// close releases every handle opened so far, newest first. Errors are
// logged only.
func (p *linkProvisioner) close(ctx context.Context, logger *zap.Logger) {
	p.mu.Lock()

	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}

	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		if err := handles[i].release(ctx); err != nil {
			logger.Warn("release "+handles[i].name, zap.String("path", p.path), zap.Error(err))
		}
	}
}
