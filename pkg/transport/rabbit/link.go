// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

type consumeConfig struct {
	queue    string
	tag      string
	prefetch uint32
	autoAck  bool
}

// receiverLink consumes a queue on its own channel. After a connection loss
// it reconnects through Con and re-subscribes transparently.
type receiverLink struct {
	// con is the parent connection wrapper for reconnection logic.
	con *Con
	// cfg stores the queue name, consumer tag and prefetch.
	cfg consumeConfig

	// mu guards the channel and the two streams below across reconnects.
	mu sync.Mutex
	// rabChan is the AMQP channel used for consuming messages.
	rabChan *amqp091.Channel
	// notifyChan receives connection-close notifications for reconnection.
	notifyChan chan *amqp091.Error
	// workChan streams incoming deliveries.
	workChan <-chan amqp091.Delivery

	// isClosed indicates whether the link has been detached.
	isClosed atomic.Bool
}

func newReceiverLink(c *Con, cfg consumeConfig) (*receiverLink, error) {
	l := &receiverLink{con: c, cfg: cfg}

	if err := l.subscribe(); err != nil {
		return nil, err
	}

	return l, nil
}

// subscribe opens a channel, applies the prefetch and starts consuming.
func (l *receiverLink) subscribe() error {
	ch, notify, err := l.con.channel()
	if err != nil {
		return err
	}

	if !l.cfg.autoAck && l.cfg.prefetch > 0 {
		if err := ch.Qos(int(min(l.cfg.prefetch, math.MaxInt32)), 0, false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("set channel prefetch: %w", err)
		}
	}

	msgCh, err := ch.Consume(l.cfg.queue, l.cfg.tag, l.cfg.autoAck, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("create consumer channel: %w", err)
	}

	l.mu.Lock()
	l.rabChan, l.notifyChan, l.workChan = ch, notify, msgCh
	l.mu.Unlock()

	return nil
}

func (l *receiverLink) streams() (chan *amqp091.Error, <-chan amqp091.Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.notifyChan, l.workChan
}

// Receive returns the next delivery. Deliveries that arrive after ctx ends
// stay in the channel buffer for the next call.
func (l *receiverLink) Receive(ctx context.Context) (transport.Delivery, error) {
	l.con.links.Add(1)
	defer l.con.links.Done()

	for !l.isClosed.Load() {
		notify, work := l.streams()

		if notify == nil {
			if err := l.reconnectInit(amqp091.ErrClosed); err != nil {
				return nil, err
			}

			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.con.stop:
			return nil, ConnClosedError{}
		case val, ok := <-notify:
			if l.isClosed.Load() {
				return nil, LinkClosedError{}
			}

			if !ok {
				val = amqp091.ErrClosed
			}

			if err := l.reconnectInit(val); err != nil {
				return nil, err
			}
		case d, ok := <-work:
			if !ok {
				l.parkStream(work)
				continue
			}

			return &delivery{raw: d, msg: fromDelivery(d)}, nil
		}
	}

	return nil, LinkClosedError{}
}

// parkStream swaps a drained delivery stream for nil so Receive blocks on
// the close notification instead of spinning.
func (l *receiverLink) parkStream(work <-chan amqp091.Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.workChan == work {
		l.workChan = nil
	}
}

// reconnectInit handles a connection loss by reconnecting and re-subscribing.
// On failure the streams are dropped so the next Receive tries again.
func (l *receiverLink) reconnectInit(amqpErr *amqp091.Error) error {
	l.con.reconnect(amqpErr)

	if err := l.subscribe(); err != nil {
		l.mu.Lock()
		l.notifyChan, l.workChan = nil, nil
		l.mu.Unlock()

		l.con.logger.Warn("resubscribe", zap.String("queue", l.cfg.queue), zap.Error(err))

		return fmt.Errorf("resubscribe %s: %w", l.cfg.queue, err)
	}

	return nil
}

func (l *receiverLink) Accept(_ context.Context, d transport.Delivery) error {
	raw, err := unwrap(d)
	if err != nil {
		return err
	}

	return raw.Ack(false)
}

// Release requeues the message. RabbitMQ has no modified outcome, so
// annotations are not transmitted.
func (l *receiverLink) Release(_ context.Context, d transport.Delivery, _ *transport.ReleaseOptions) error {
	raw, err := unwrap(d)
	if err != nil {
		return err
	}

	return raw.Nack(false, true)
}

// Reject rejects without requeue; the queue's dead-letter exchange, if any,
// receives the message.
func (l *receiverLink) Reject(_ context.Context, d transport.Delivery, _ *transport.RejectOptions) error {
	raw, err := unwrap(d)
	if err != nil {
		return err
	}

	return raw.Reject(false)
}

// Detach stops consuming and closes the channel.
func (l *receiverLink) Detach(context.Context) error {
	if !l.isClosed.CompareAndSwap(false, true) {
		return nil
	}

	l.mu.Lock()
	ch := l.rabChan
	l.mu.Unlock()

	if err := ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("close consumer channel: %w", err)
	}

	return nil
}

func unwrap(d transport.Delivery) (*amqp091.Delivery, error) {
	rd, ok := d.(*delivery)
	if !ok {
		return nil, ForeignDeliveryError{}
	}

	return &rd.raw, nil
}
