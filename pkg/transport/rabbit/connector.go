// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package rabbit implements the transport interfaces over RabbitMQ
// (AMQP 0-9-1). A session maps to a prefetch window, a receiver link to a
// consuming channel, and the management node to a queue answering
// request/reply calls over direct reply-to.
package rabbit

import (
	"context"
	"fmt"
	"math/bits"
	"net/url"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// Con manages a RabbitMQ connection with automatic reconnection. Links and
// management clients re-open their channels on it after a reconnect.
type Con struct {
	// connection holds the active AMQP connection.
	connection *amqp091.Connection
	// url is the target URI for dialing the broker.
	url *url.URL
	// stop signals the reconnection loop to exit.
	stop chan struct{}
	// closeOnce guards stop.
	closeOnce sync.Once
	// cfg stores the AMQP client configuration.
	cfg amqp091.Config
	// links tracks in-flight receives to allow graceful shutdown.
	links sync.WaitGroup
	// logger receives reconnect and cleanup reports.
	logger *zap.Logger
	// maxReconnectTime caps the exponential backoff delay.
	maxReconnectTime time.Duration
	// mute serializes access during reconnection setup.
	mute sync.RWMutex
}

var _ transport.Connection = (*Con)(nil)

// Dial establishes an AMQP connection using the provided client configuration.
// A nil logger, or cfg.Logging unset, disables log output.
func Dial(cfg *Client, logger *zap.Logger) (*Con, error) {
	if cfg == nil {
		return nil, ConConfEmptyError{}
	}

	const stdMaxTime time.Duration = 0x3_ffff_ffff // ~17 seconds

	if logger == nil || !cfg.Logging {
		logger = zap.NewNop()
	}

	var (
		clientCfg = amqp091.Config{
			SASL: []amqp091.Authentication{
				&amqp091.PlainAuth{Username: cfg.Username, Password: cfg.Password},
			},
			Vhost:      cfg.VHost,
			Properties: cfg.Properties,
			Heartbeat:  cfg.TcpHeartBeat,
		}
		maxTime = stdMaxTime
		uri     = &url.URL{
			Scheme: "amqp",
			Host:   cfg.Host,
		}
	)

	if cfg.MaxReconnectTime != 0 {
		maxTime = backoffMask(cfg.MaxReconnectTime)
	}

	con, err := amqp091.DialConfig(uri.String(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial amqp091: %w", err)
	}

	return &Con{
		connection:       con,
		url:              uri,
		cfg:              clientCfg,
		stop:             make(chan struct{}),
		maxReconnectTime: maxTime,
		logger:           logger.With(zap.String("host", cfg.Host)),
	}, nil
}

// backoffMask rounds d to the nearest value of the form 2ⁿ−1 so that the
// backoff can grow as delay = mask & (delay<<1 | 1).
func backoffMask(d time.Duration) time.Duration {
	upper := time.Duration(1)<<bits.Len64(uint64(d)) - 1
	lower := upper >> 1

	if d-lower < upper-d {
		return lower
	}

	return upper
}

// reconnect runs a single reconnection sequence upon connection loss.
// Callers arriving while one is in progress return at once and pick up the
// new connection through their close notification.
func (c *Con) reconnect(err error) {
	if c.mute.TryLock() {
		c.logger.Warn("rabbit connection lost", zap.Error(err))
		c.reconnectLoop()
		c.mute.Unlock()
	}
}

// reconnectLoop re-establishes the connection with exponential backoff,
// capped by maxReconnectTime. It exits when stop is closed or a new
// connection is made.
func (c *Con) reconnectLoop() {
	const firstDelay time.Duration = 0x1_FFFF_FFF // ~1.07 seconds

	var (
		timer   = time.NewTimer(0)
		maxTime = c.maxReconnectTime
	)

	defer timer.Stop()

	for waitTime, attempt := firstDelay, 1; ; waitTime, attempt = maxTime&(waitTime<<1|1), attempt+1 {
		select {
		case <-c.stop:
			return
		case <-timer.C:
			c.logger.Info("rabbit reconnect attempt", zap.Int("attempt", attempt))

			con, err := amqp091.DialConfig(c.url.String(), c.cfg)
			if err != nil {
				timer.Reset(waitTime)

				continue
			}

			c.connection = con
			c.logger.Info("rabbit reconnect success")

			return
		}
	}
}

// channel opens a channel on the current connection along with its close
// notification.
func (c *Con) channel() (*amqp091.Channel, chan *amqp091.Error, error) {
	c.mute.RLock()
	defer c.mute.RUnlock()

	ch, err := c.connection.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("create channel: %w", err)
	}

	return ch, c.connection.NotifyClose(make(chan *amqp091.Error, 1)), nil
}

// NewSession returns a session whose links prefetch up to the incoming window.
func (c *Con) NewSession(_ context.Context, opts *transport.SessionOptions) (transport.Session, error) {
	select {
	case <-c.stop:
		return nil, ConnClosedError{}
	default:
	}

	s := &session{con: c}
	if opts != nil {
		s.window = opts.IncomingWindow
	}

	return s, nil
}

// DecodeMessage decodes the JSON envelope a management responder returns
// for each message.
func (c *Con) DecodeMessage(data []byte) (*transport.Message, error) {
	return decodeEnvelope(data)
}

// QueueDeclareAndBind declares a queue and optionally binds it to an exchange.
func (c *Con) QueueDeclareAndBind(cfg *QueueDeclareAndBind) error {
	if cfg == nil {
		return QueueConfEmptyError{}
	}

	ch, _, err := c.channel()
	if err != nil {
		return err
	}

	defer func() {
		if err := ch.Close(); err != nil {
			c.logger.Warn("close channel", zap.Error(err))
		}
	}()

	args := amqp091.Table{}
	for k, v := range cfg.Args {
		args[k] = v
	}

	if cfg.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = cfg.DeadLetterExchange
	}

	queue, err := ch.QueueDeclare(cfg.Name, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, false, args)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	if cfg.NoBind {
		return nil
	}

	if err = ch.QueueBind(queue.Name, cfg.RoutingKey, cfg.ExchangeName, false, cfg.BindArgs); err != nil {
		return fmt.Errorf("create queue binding: %w", err)
	}

	return nil
}

// DeleteQueue removes an existing queue by name.
func (c *Con) DeleteQueue(name string) error {
	ch, _, err := c.channel()
	if err != nil {
		return err
	}

	defer func() {
		if err := ch.Close(); err != nil {
			c.logger.Warn("close channel", zap.Error(err))
		}
	}()

	if _, err = ch.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}

	return nil
}

// Close stops reconnection, waits for in-flight receives to return and
// closes the connection.
func (c *Con) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })

	c.links.Wait()

	c.mute.RLock()
	defer c.mute.RUnlock()

	if err := c.connection.Close(); err != nil {
		return fmt.Errorf("close connection error: %w", err)
	}

	return nil
}
