// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

const (
	deadLetterCondition = "com.microsoft:dead-letter"
	// renewFallback is used when the broker returns an expiry we cannot read.
	renewFallback = 60 * time.Second
)

// errWaitElapsed marks a pull that ran out of MaxWaitTime.
var errWaitElapsed = errors.New("max wait time elapsed")

// State is the lifecycle state of a receiver.
type State uint8

const (
	StateUnattached State = iota
	StateAttached
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StateClosed:
		return "closed"
	default:
		return "unattached"
	}
}

// shared is the state every clone of a receiver points at.
type shared struct {
	// prov owns the session and receiver link.
	prov *linkProvisioner
	// mgmt owns the management client.
	mgmt *managementChannel
	// ledger maps lock tokens to deliveries.
	ledger *Ledger
	// refs counts open receivers using this state.
	refs atomic.Int32
	// lastPeeked is the highest sequence number peeked so far, -1 before the first peek.
	lastPeeked atomic.Int64
}

// Receiver pulls messages from a queue or topic subscription and settles them.
// It is safe for concurrent use.
type Receiver struct {
	// shared holds the link, management channel and ledger.
	shared *shared
	// mode is fixed at construction.
	mode broker.ReceiveMode
	// entity is the queue or topic name.
	entity string
	// subscription is empty for queues.
	subscription string
	// logger receives cleanup and partial-batch reports.
	logger *zap.Logger
	// metrics records receive and settlement activity.
	metrics *Metrics
	// closed is set by Close on this instance.
	closed atomic.Bool
}

var _ broker.Receiver = (*Receiver)(nil)

// Option configures NewReceiver.
type Option func(*receiverOptions)

type receiverOptions struct {
	logger  *zap.Logger
	tokens  transport.TokenProvider
	metrics *Metrics
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *receiverOptions) {
		o.logger = logger
	}
}

// WithTokenProvider sets the provider authorizing the management channel.
// The default sends an empty token.
func WithTokenProvider(tokens transport.TokenProvider) Option {
	return func(o *receiverOptions) {
		o.tokens = tokens
	}
}

// WithMetrics shares one set of instruments between receivers.
func WithMetrics(m *Metrics) Option {
	return func(o *receiverOptions) {
		o.metrics = m
	}
}

// NewReceiver returns a receiver for the entity described by cfg. Nothing is
// attached until the first operation needs it.
func NewReceiver(conn transport.Connection, cfg *ReceiverConfig, opts ...Option) (*Receiver, error) {
	if cfg == nil {
		return nil, ReceiverConfEmptyError{}
	}

	if conn == nil {
		return nil, ConnEmptyError{}
	}

	conf := *cfg
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validate receiver config: %w", err)
	}

	o := receiverOptions{
		logger: zap.NewNop(),
		tokens: transport.StaticToken(""),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.metrics == nil {
		m, err := NewMetrics()
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}

	mode, _ := broker.ParseReceiveMode(conf.ReceiveMode)
	sub, _ := ParseSubQueue(conf.SubQueue)
	path := EntityPath(conf.Entity, conf.Subscription, sub)
	logger := o.logger.With(zap.String("entity", path), zap.Stringer("mode", mode))

	prov := newLinkProvisioner(conn, path,
		transport.SessionOptions{
			IncomingWindow: conf.IncomingWindow,
			OutgoingWindow: conf.OutgoingWindow,
		},
		transport.LinkOptions{
			PreSettled: mode == broker.ReceiveAndDelete,
			Credit:     conf.Prefetch,
		})

	sh := &shared{
		prov:   prov,
		mgmt:   newManagementChannel(prov, o.tokens, conf.Namespace, conf.Breaker, logger),
		ledger: NewLedger(),
	}
	sh.refs.Store(1)
	sh.lastPeeked.Store(-1)

	return &Receiver{
		shared:       sh,
		mode:         mode,
		entity:       conf.Entity,
		subscription: conf.Subscription,
		logger:       logger,
		metrics:      o.metrics,
	}, nil
}

// Clone returns a receiver sharing this one's link, management channel and
// lock ledger. The link is torn down when the last of them is closed.
func (r *Receiver) Clone() (*Receiver, error) {
	if r.closed.Load() {
		return nil, broker.ReceiverClosedError{}
	}

	for {
		refs := r.shared.refs.Load()
		if refs <= 0 {
			return nil, broker.ReceiverClosedError{}
		}

		if r.shared.refs.CompareAndSwap(refs, refs+1) {
			break
		}
	}

	return &Receiver{
		shared:       r.shared,
		mode:         r.mode,
		entity:       r.entity,
		subscription: r.subscription,
		logger:       r.logger,
		metrics:      r.metrics,
	}, nil
}

// EntityName returns the queue or topic name.
func (r *Receiver) EntityName() string {
	return r.entity
}

// SubscriptionName returns the subscription name, empty for queues.
func (r *Receiver) SubscriptionName() string {
	return r.subscription
}

// ReceiveMode returns the mode fixed at construction.
func (r *Receiver) ReceiveMode() broker.ReceiveMode {
	return r.mode
}

// EntityPath returns the resolved link source address.
func (r *Receiver) EntityPath() string {
	return r.shared.prov.path
}

// State reports the lifecycle state of this receiver.
func (r *Receiver) State() State {
	switch {
	case r.closed.Load() || r.shared.prov.closed.Load():
		return StateClosed
	case r.shared.prov.attached.Load():
		return StateAttached
	default:
		return StateUnattached
	}
}

// ReceiveMessage receives at most one message.
func (r *Receiver) ReceiveMessage(ctx context.Context, opts *broker.ReceiveMessageOptions) (*broker.ReceivedMessage, error) {
	msgs, err := r.ReceiveMessages(ctx, 1, opts)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}

	return msgs[0], nil
}

// ReceiveMessages pulls up to maxCount messages in link arrival order.
//
// MaxWaitTime bounds each pull separately, so a batch of n may take up to n
// times MaxWaitTime; bound the whole call with ctx. Running out of wait time
// ends the batch without error. A failed pull fails the call only when
// nothing was collected yet; otherwise the partial batch is returned.
func (r *Receiver) ReceiveMessages(ctx context.Context, maxCount int, opts *broker.ReceiveMessageOptions) (_ []*broker.ReceivedMessage, err error) {
	if r.closed.Load() {
		return nil, broker.ReceiverClosedError{}
	}

	if maxCount < 0 {
		return nil, broker.InvalidRequestError{Reason: "max message count must not be negative"}
	}

	if maxCount == 0 {
		return []*broker.ReceivedMessage{}, nil
	}

	if opts == nil {
		opts = broker.DefaultReceiveMessageOptions()
	}

	ctx, span := r.metrics.startSpan(ctx, "receive", r.EntityPath())
	defer func() { r.metrics.endSpan(ctx, span, "receive", err) }()

	link, err := r.shared.prov.ReceiverLink(ctx)
	if err != nil {
		return nil, err
	}

	msgs := make([]*broker.ReceivedMessage, 0, maxCount)

	for len(msgs) < maxCount {
		d, err := r.pull(ctx, link, opts.MaxWaitTime)
		if errors.Is(err, errWaitElapsed) {
			break
		}

		if err != nil {
			if len(msgs) == 0 {
				return nil, broker.AmqpError{Op: "receive", Err: err}
			}

			r.logger.Warn("receive interrupted, returning partial batch",
				zap.Int("received", len(msgs)), zap.Error(err))

			break
		}

		msg, err := r.materializeDelivery(ctx, d)
		if err != nil {
			if len(msgs) == 0 {
				return nil, err
			}

			r.logger.Warn("receiver closed during receive, returning partial batch",
				zap.Int("received", len(msgs)))

			break
		}

		msgs = append(msgs, msg)
	}

	r.metrics.received(ctx, r.EntityPath(), len(msgs))

	return msgs, nil
}

// pull waits for the next delivery, for at most wait if set.
func (r *Receiver) pull(ctx context.Context, link transport.ReceiverLink, wait *time.Duration) (transport.Delivery, error) {
	pullCtx, cancel := ctx, context.CancelFunc(func() {})
	if wait != nil {
		pullCtx, cancel = context.WithTimeout(ctx, *wait)
	}
	defer cancel()

	d, err := link.Receive(pullCtx)
	if err != nil {
		if pullCtx.Err() != nil && ctx.Err() == nil {
			return nil, errWaitElapsed
		}

		return nil, err
	}

	if d == nil {
		return nil, errors.New("transport returned no delivery")
	}

	return d, nil
}

// materializeDelivery converts d and, in PeekLock mode, registers it under a
// fresh lock token before handing the message out. It fails only once the
// receiver is closed.
func (r *Receiver) materializeDelivery(ctx context.Context, d transport.Delivery) (*broker.ReceivedMessage, error) {
	if r.mode != broker.PeekLock {
		return materialize(d.Message(), nil), nil
	}

	token := uuid.New()
	err := r.shared.ledger.Insert(token, d)
	for errors.Is(err, errTokenInUse) {
		token = uuid.New()
		err = r.shared.ledger.Insert(token, d)
	}

	if err != nil {
		return nil, err
	}

	r.metrics.locks(ctx, 1)

	return materialize(d.Message(), &token), nil
}

// CompleteMessage accepts the delivery; the broker deletes the message.
func (r *Receiver) CompleteMessage(ctx context.Context, msg *broker.ReceivedMessage, _ *broker.CompleteMessageOptions) error {
	return r.settle(ctx, "complete", msg, func(ctx context.Context, link transport.ReceiverLink, d transport.Delivery) error {
		return link.Accept(ctx, d)
	})
}

// AbandonMessage releases the lock so the message is delivered again.
func (r *Receiver) AbandonMessage(ctx context.Context, msg *broker.ReceivedMessage, opts *broker.AbandonMessageOptions) error {
	release := &transport.ReleaseOptions{}
	if opts != nil {
		release.Annotations = maps.Clone(opts.PropertiesToModify)
	}

	return r.settle(ctx, "abandon", msg, func(ctx context.Context, link transport.ReceiverLink, d transport.Delivery) error {
		return link.Release(ctx, d, release)
	})
}

// DeadLetterMessage rejects the delivery; the broker moves the message to
// the dead-letter sub-queue with the given reason and description.
func (r *Receiver) DeadLetterMessage(ctx context.Context, msg *broker.ReceivedMessage, opts *broker.DeadLetterOptions) error {
	reject := &transport.RejectOptions{
		Condition: deadLetterCondition,
		Info:      map[string]any{},
	}

	if opts != nil {
		maps.Copy(reject.Info, opts.PropertiesToModify)

		if opts.Reason != nil {
			reject.Info[propDeadLetterReason] = *opts.Reason
		}

		if opts.ErrorDescription != nil {
			reject.Description = *opts.ErrorDescription
			reject.Info[propDeadLetterDescription] = *opts.ErrorDescription
		}
	}

	return r.settle(ctx, "dead-letter", msg, func(ctx context.Context, link transport.ReceiverLink, d transport.Delivery) error {
		return link.Reject(ctx, d, reject)
	})
}

// settle runs a disposition. The ledger entry is taken before the
// disposition is sent, so every message gets at most one attempt: if the
// disposition fails the message cannot be settled again by this receiver.
func (r *Receiver) settle(ctx context.Context, op string, msg *broker.ReceivedMessage, disposition func(context.Context, transport.ReceiverLink, transport.Delivery) error) (err error) {
	token, err := r.lockToken(op, msg)
	if err != nil {
		return err
	}

	d, ok := r.shared.ledger.Take(token)
	if !ok {
		return lockLost()
	}

	r.metrics.locks(ctx, -1)

	ctx, span := r.metrics.startSpan(ctx, op, r.EntityPath())
	defer func() {
		r.metrics.settled(ctx, op, err)
		r.metrics.endSpan(ctx, span, op, err)
	}()

	link, err := r.shared.prov.ReceiverLink(ctx)
	if err != nil {
		return err
	}

	if err := disposition(ctx, link, d); err != nil {
		return broker.AmqpError{Op: op, Err: err}
	}

	return nil
}

// DeferMessage defers the message through the management channel. The lock
// stays registered until the broker confirms, so a failed defer can be
// retried or the message settled another way.
func (r *Receiver) DeferMessage(ctx context.Context, msg *broker.ReceivedMessage, opts *broker.DeferMessageOptions) error {
	token, err := r.lockToken("defer", msg)
	if err != nil {
		return err
	}

	if !r.shared.ledger.Contains(token) {
		return lockLost()
	}

	props := map[string]any{}
	if opts != nil {
		maps.Copy(props, opts.PropertiesToModify)
	}
	props["lock-token"] = token.String()

	if _, err := r.call(ctx, opDeferMessage, props); err != nil {
		return err
	}

	if _, ok := r.shared.ledger.Take(token); ok {
		r.metrics.locks(ctx, -1)
	}

	return nil
}

// ReceiveDeferredMessage fetches a single deferred message; nil if the
// broker returned none.
func (r *Receiver) ReceiveDeferredMessage(ctx context.Context, seq int64, opts *broker.ReceiveDeferredMessagesOptions) (*broker.ReceivedMessage, error) {
	msgs, err := r.ReceiveDeferredMessages(ctx, []int64{seq}, opts)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}

	return msgs[0], nil
}

// ReceiveDeferredMessages fetches deferred messages by sequence number.
// The returned messages carry no lock token.
func (r *Receiver) ReceiveDeferredMessages(ctx context.Context, seqs []int64, _ *broker.ReceiveDeferredMessagesOptions) ([]*broker.ReceivedMessage, error) {
	if err := r.requirePeekLock("receive deferred messages"); err != nil {
		return nil, err
	}

	if len(seqs) == 0 {
		return []*broker.ReceivedMessage{}, nil
	}

	nums := make([]string, len(seqs))
	for i, seq := range seqs {
		nums[i] = strconv.FormatInt(seq, 10)
	}

	var settleMode uint32
	if r.mode == broker.PeekLock {
		settleMode = 1
	}

	resp, err := r.call(ctx, opReceiveBySequenceNumber, map[string]any{
		"sequence-numbers":     strings.Join(nums, ","),
		"receiver-settle-mode": settleMode,
	})
	if err != nil {
		return nil, err
	}

	return r.decodeMessages(opReceiveBySequenceNumber, resp)
}

// RenewMessageLock extends the message lock and returns its new expiry.
func (r *Receiver) RenewMessageLock(ctx context.Context, msg *broker.ReceivedMessage, _ *broker.RenewMessageLockOptions) (time.Time, error) {
	token, err := r.lockToken("renew message lock", msg)
	if err != nil {
		return time.Time{}, err
	}

	resp, err := r.call(ctx, opRenewLock, map[string]any{
		"lock-token": token.String(),
	})
	if err != nil {
		return time.Time{}, err
	}

	raw, ok := resp["expiration"]
	if !ok {
		raw, ok = resp["locked-until-utc"]
	}

	if !ok {
		return time.Time{}, broker.InvalidRequestError{Reason: "renew-lock response has no expiration"}
	}

	return r.parseExpiry(raw), nil
}

// parseExpiry reads the renewed lock expiry. Unknown shapes fall back to
// now plus renewFallback.
func (r *Receiver) parseExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case []time.Time:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			if t, ok := v[0].(time.Time); ok {
				return t
			}
		}
	case int64:
		return time.UnixMilli(v)
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}

	r.logger.Warn("unreadable lock expiry, assuming default", zap.String("type", fmt.Sprintf("%T", raw)))

	return time.Now().Add(renewFallback)
}

// PeekMessages reads up to maxCount messages without locking them. Without
// a start sequence number it continues after the last message peeked.
func (r *Receiver) PeekMessages(ctx context.Context, maxCount int, opts *broker.PeekMessagesOptions) ([]*broker.ReceivedMessage, error) {
	if r.closed.Load() {
		return nil, broker.ReceiverClosedError{}
	}

	if maxCount <= 0 {
		return nil, broker.InvalidRequestError{Reason: "peek max count must be greater than zero"}
	}

	if int64(maxCount) > math.MaxUint32 {
		return nil, broker.InvalidRequestError{Reason: "peek max count is too large"}
	}

	props := map[string]any{
		"message-count": uint32(maxCount),
	}

	switch {
	case opts != nil && opts.FromSequenceNumber != nil:
		props["from-sequence-number"] = *opts.FromSequenceNumber
	case r.shared.lastPeeked.Load() >= 0:
		props["from-sequence-number"] = r.shared.lastPeeked.Load() + 1
	}

	resp, err := r.call(ctx, opPeekMessage, props)
	if err != nil {
		return nil, err
	}

	msgs, err := r.decodeMessages(opPeekMessage, resp)
	if err != nil {
		return nil, err
	}

	for _, m := range msgs {
		if seq, ok := m.SequenceNumber(); ok {
			r.advancePeek(seq)
		}
	}

	return msgs, nil
}

func (r *Receiver) advancePeek(seq int64) {
	for {
		cur := r.shared.lastPeeked.Load()
		if seq <= cur || r.shared.lastPeeked.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Close releases this receiver. The last open clone detaches the link,
// closes the management client and ends the session. Cleanup errors are
// logged and never returned.
func (r *Receiver) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	if r.shared.refs.Add(-1) > 0 {
		r.logger.Debug("link still shared by other receivers, skipping detach")
		return nil
	}

	r.shared.prov.close(ctx, r.logger)

	if n := r.shared.ledger.Close(); n > 0 {
		r.logger.Info("dropping unsettled locks", zap.Int("count", n))
		r.metrics.locks(ctx, -int64(n))
	}

	return nil
}

// call runs a management operation with tracing and metrics.
func (r *Receiver) call(ctx context.Context, op string, props map[string]any) (_ map[string]any, err error) {
	ctx, span := r.metrics.startSpan(ctx, op, r.EntityPath())
	defer func() {
		r.metrics.managementCall(ctx, op, err)
		r.metrics.endSpan(ctx, span, op, err)
	}()

	return r.shared.mgmt.Call(ctx, op, props)
}

// decodeMessages parses the `messages` array of a management response. A
// response without the array holds no messages.
func (r *Receiver) decodeMessages(op string, resp map[string]any) ([]*broker.ReceivedMessage, error) {
	raw, ok := resp["messages"]
	if !ok || raw == nil {
		return []*broker.ReceivedMessage{}, nil
	}

	var entries []map[string]any

	switch v := raw.(type) {
	case []map[string]any:
		entries = v
	case []any:
		entries = make([]map[string]any, 0, len(v))
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, broker.InvalidRequestError{Reason: fmt.Sprintf("%s response entry has type %T", op, e)}
			}
			entries = append(entries, m)
		}
	default:
		return nil, broker.InvalidRequestError{Reason: fmt.Sprintf("%s response messages has type %T", op, raw)}
	}

	msgs := make([]*broker.ReceivedMessage, 0, len(entries))

	for _, e := range entries {
		data, ok := e["message"].([]byte)
		if !ok {
			return nil, broker.InvalidRequestError{Reason: op + " response entry has no binary message"}
		}

		m, err := r.shared.prov.conn.DecodeMessage(data)
		if err != nil {
			return nil, broker.AmqpError{Op: op, Err: fmt.Errorf("decode message: %w", err)}
		}

		msgs = append(msgs, materialize(m, nil))
	}

	return msgs, nil
}

// requirePeekLock fails fast on closed receivers and ReceiveAndDelete mode.
func (r *Receiver) requirePeekLock(op string) error {
	if r.closed.Load() {
		return broker.ReceiverClosedError{}
	}

	if r.mode != broker.PeekLock {
		return broker.InvalidRequestError{
			Reason: fmt.Sprintf("%s is only supported in PeekLock mode, receiver is in %s mode", op, r.mode),
		}
	}

	return nil
}

// lockToken checks the mode and returns the message lock token.
func (r *Receiver) lockToken(op string, msg *broker.ReceivedMessage) (uuid.UUID, error) {
	if err := r.requirePeekLock(op); err != nil {
		return uuid.Nil, err
	}

	if msg == nil {
		return uuid.Nil, broker.InvalidRequestError{Reason: "nil message"}
	}

	token, ok := msg.LockToken()
	if !ok {
		return uuid.Nil, broker.MessageLockLostError{Reason: "message has no lock token"}
	}

	return token, nil
}

func lockLost() error {
	return broker.MessageLockLostError{Reason: "no delivery for lock token: already settled, or lock expired"}
}
