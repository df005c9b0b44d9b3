// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package servicebus runs a pool of handlers over a broker.Receiver,
// dispatching each received message by its subject.
package servicebus

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/infra"
)

// unroutedReason is the dead-letter reason for messages no handler accepts.
const unroutedReason = "unrouted"

// LoggerFunc is a pluggable callback for error reporting.
// Users can inject any logger by calling listener.SetLogger(customLogger).
type LoggerFunc func(error)

// Listener encapsulates common parameters of a receiver loop.
//   - receiver: the broker.Receiver messages are pulled from.
//   - gos: desired number of concurrent goroutines used by an Instance.
//   - batch, wait: how many messages one pull asks for and how long it waits
//     for each.
//
// Listener itself does not process messages; it acts as a factory that
// creates an Instance where the real work happens.
type Listener struct {
	receiver   broker.Receiver
	gos        int
	batch      int
	wait       time.Duration
	loggerFunc LoggerFunc
}

// NewListener constructs a Listener pulling one message at a time with a
// parallelism level of 1.
func NewListener(receiver broker.Receiver) *Listener {
	return &Listener{
		gos:      1,
		batch:    1,
		wait:     broker.DefaultMaxWaitTime,
		receiver: receiver,
	}
}

// SetConcurrency sets the number of goroutines that will be spawned later
// inside an Instance. It validates the input (n >= 1) and clamps the value
// by runtime.GOMAXPROCS(0).
func (l *Listener) SetConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("invalid goroutines count: %d", n)
	}

	l.gos = min(n, runtime.GOMAXPROCS(0))

	return nil
}

// SetBatch sets the number of messages requested per pull and the wait for
// each of them.
func (l *Listener) SetBatch(n int, wait time.Duration) error {
	if n < 1 {
		return fmt.Errorf("invalid batch size: %d", n)
	}

	if wait < 0 {
		return fmt.Errorf("invalid max wait time: %s", wait)
	}

	l.batch, l.wait = n, wait

	return nil
}

// SetLogger overrides the default zap logger.
// Pass nil to restore it.
func (l *Listener) SetLogger(logger LoggerFunc) {
	l.loggerFunc = logger
}

// Instance is a running listener created from Listener.
//   - workChan: channel through which the dispatcher feeds handler calls
//     to the workers.
//   - wg: WaitGroup for graceful shutdown synchronization.
//   - router: map subject → handler.
//   - stop, done: shutdown request and completion signals.
type Instance struct {
	workChan   chan func()
	wg         sync.WaitGroup
	gos        int
	batch      int
	wait       time.Duration
	router     Router
	receiver   broker.Receiver
	loggerFunc LoggerFunc

	serving  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Init takes a Router snapshot and returns a ready-to-run Instance.
// To start with another router, create a new Instance instead of mutating
// the old one.
func (l *Listener) Init(router Router) *Instance {
	logger := l.loggerFunc
	if logger == nil {
		logger = defaultLogger()
	}

	return &Instance{
		workChan:   make(chan func(), 1),
		gos:        l.gos,
		batch:      l.batch,
		wait:       l.wait,
		router:     maps.Clone(router),
		receiver:   l.receiver,
		loggerFunc: logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func defaultLogger() LoggerFunc {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("servicebus")

	return func(err error) {
		logger.Error("listener", zap.Error(err))
	}
}

// ListenAndServe starts the worker pool and pulls messages until ctx ends
// or Shutdown is called. A receive error is returned to the caller,
// enabling recovery at a higher level; Shutdown makes it return nil.
//
// Handlers run with ctx, which Shutdown does not cancel, so in-flight
// messages can still be settled.
func (l *Instance) ListenAndServe(ctx context.Context) error {
	if len(l.router) == 0 {
		return infra.EmptyRoutError{}
	}

	if !l.serving.CompareAndSwap(false, true) {
		return infra.AlreadyServingError{}
	}

	defer close(l.done)

	for range l.gos {
		l.wg.Add(1)

		go runner(l.workChan, &l.wg)
	}

	defer func() {
		close(l.workChan)
		l.wg.Wait()
	}()

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-recvCtx.Done():
		}
	}()

	wait := l.wait
	opts := &broker.ReceiveMessageOptions{MaxMessageCount: l.batch, MaxWaitTime: &wait}

	for {
		msgs, err := l.receiver.ReceiveMessages(recvCtx, l.batch, opts)

		for _, msg := range msgs {
			l.dispatch(ctx, msg)
		}

		select {
		case <-l.stop:
			return nil
		default:
		}

		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// dispatch hands msg to its handler, or disposes of it if none matches.
func (l *Instance) dispatch(ctx context.Context, msg *broker.ReceivedMessage) {
	handler, ok := l.router[msg.Subject()]
	if !ok {
		l.unrouted(ctx, msg)

		return
	}

	l.workChan <- func() {
		handler(ctx, msg, l.receiver)
	}
}

// unrouted dead-letters msg in PeekLock mode. In ReceiveAndDelete mode the
// message is already gone and is only reported.
func (l *Instance) unrouted(ctx context.Context, msg *broker.ReceivedMessage) {
	l.loggerFunc(fmt.Errorf("%w, subject: %q, message id: %s", infra.UnroutedMessage{}, msg.Subject(), msg.MessageID()))

	if l.receiver.ReceiveMode() != broker.PeekLock {
		return
	}

	reason := unroutedReason
	description := fmt.Sprintf("no handler for subject %q", msg.Subject())

	err := l.receiver.DeadLetterMessage(ctx, msg, &broker.DeadLetterOptions{
		Reason:           &reason,
		ErrorDescription: &description,
	})
	if err != nil {
		l.loggerFunc(fmt.Errorf("dead-letter unrouted message: %w", err))
	}
}

// Shutdown stops pulling, waits for the workers to drain and closes the
// receiver. It returns early with ctx.Err() if ctx ends first; the
// receiver is left open in that case.
func (l *Instance) Shutdown(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })

	if l.serving.Load() {
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := l.receiver.Close(ctx); err != nil {
		l.loggerFunc(fmt.Errorf("%w: %w", infra.ReceiverCloseError{}, err))
	}

	return nil
}

// runner executes tasks from workChan and signals completion via WaitGroup.
func runner(workChan chan func(), wg *sync.WaitGroup) {
	for work := range workChan {
		work()
	}

	wg.Done()
}
