// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package amqp1

import (
	"context"

	"github.com/Azure/go-amqp"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// delivery pairs the wire message needed for settlement with its converted form.
type delivery struct {
	raw *amqp.Message
	msg *transport.Message
}

func (d *delivery) Message() *transport.Message {
	return d.msg
}

type receiverLink struct {
	r *amqp.Receiver
}

// Receive waits for the next message. go-amqp keeps messages that arrive
// after ctx ends in the link buffer.
func (l *receiverLink) Receive(ctx context.Context) (transport.Delivery, error) {
	msg, err := l.r.Receive(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &delivery{raw: msg, msg: fromAMQP(msg)}, nil
}

func (l *receiverLink) Accept(ctx context.Context, d transport.Delivery) error {
	raw, err := unwrap(d)
	if err != nil {
		return err
	}

	return l.r.AcceptMessage(ctx, raw)
}

// Release issues a released outcome, or a modified outcome when annotations
// are given.
func (l *receiverLink) Release(ctx context.Context, d transport.Delivery, opts *transport.ReleaseOptions) error {
	raw, err := unwrap(d)
	if err != nil {
		return err
	}

	if opts == nil || len(opts.Annotations) == 0 {
		return l.r.ReleaseMessage(ctx, raw)
	}

	annotations := make(amqp.Annotations, len(opts.Annotations))
	for k, v := range opts.Annotations {
		annotations[k] = v
	}

	return l.r.ModifyMessage(ctx, raw, &amqp.ModifyMessageOptions{Annotations: annotations})
}

func (l *receiverLink) Reject(ctx context.Context, d transport.Delivery, opts *transport.RejectOptions) error {
	raw, err := unwrap(d)
	if err != nil {
		return err
	}

	var e *amqp.Error
	if opts != nil {
		e = &amqp.Error{
			Condition:   amqp.ErrCond(opts.Condition),
			Description: opts.Description,
			Info:        opts.Info,
		}
	}

	return l.r.RejectMessage(ctx, raw, e)
}

func (l *receiverLink) Detach(ctx context.Context) error {
	return l.r.Close(ctx)
}

func unwrap(d transport.Delivery) (*amqp.Message, error) {
	ad, ok := d.(*delivery)
	if !ok || ad.raw == nil {
		return nil, ForeignDeliveryError{}
	}

	return ad.raw, nil
}
