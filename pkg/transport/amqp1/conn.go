// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package amqp1 implements the transport interfaces over AMQP 1.0 using
// github.com/Azure/go-amqp, the protocol spoken by Azure Service Bus.
package amqp1

import (
	"context"
	"fmt"

	"github.com/Azure/go-amqp"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// Conn is an AMQP 1.0 connection.
type Conn struct {
	// conn is the underlying go-amqp connection.
	conn *amqp.Conn
	// logger receives management traffic when logging is enabled.
	logger *zap.Logger
}

var _ transport.Connection = (*Conn)(nil)

// Dial connects to the broker described by cfg. A nil logger disables
// logging, as does cfg.Logging being false.
func Dial(ctx context.Context, cfg *Config, logger *zap.Logger) (*Conn, error) {
	if cfg == nil {
		return nil, ConfigEmptyError{}
	}

	if cfg.Address == "" {
		return nil, AddressEmptyError{}
	}

	if logger == nil || !cfg.Logging {
		logger = zap.NewNop()
	}

	opts := &amqp.ConnOptions{
		ContainerID: cfg.ContainerID,
		IdleTimeout: cfg.IdleTimeout,
		SASLType:    amqp.SASLTypeAnonymous(),
	}

	if cfg.Username != "" {
		opts.SASLType = amqp.SASLTypePlain(cfg.Username, cfg.Password)
	}

	conn, err := amqp.Dial(ctx, cfg.Address, opts)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	return &Conn{
		conn:   conn,
		logger: logger.With(zap.String("address", cfg.Address)),
	}, nil
}

// NewSession begins a session. go-amqp sizes session windows itself, so the
// requested windows are only reported.
func (c *Conn) NewSession(ctx context.Context, opts *transport.SessionOptions) (transport.Session, error) {
	s, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, err
	}

	if opts != nil {
		c.logger.Debug("session begun",
			zap.Uint32("incoming_window", opts.IncomingWindow),
			zap.Uint32("outgoing_window", opts.OutgoingWindow))
	}

	return &session{s: s, logger: c.logger}, nil
}

// DecodeMessage decodes an AMQP encoded message.
func (c *Conn) DecodeMessage(data []byte) (*transport.Message, error) {
	var msg amqp.Message
	if err := msg.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("unmarshal amqp message: %w", err)
	}

	return fromAMQP(&msg), nil
}

// Close closes the connection and every session on it.
func (c *Conn) Close() error {
	return c.conn.Close()
}
