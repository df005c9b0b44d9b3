// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"

	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// session has no broker counterpart; it carries the prefetch window for the
// channels its links open.
type session struct {
	con    *Con
	window uint32
}

// NewReceiverLink opens a channel and starts consuming the queue named by
// source. Link credit takes precedence over the session window for prefetch.
func (s *session) NewReceiverLink(_ context.Context, source string, opts *transport.LinkOptions) (transport.ReceiverLink, error) {
	cfg := consumeConfig{queue: source, prefetch: s.window}

	if opts != nil {
		cfg.tag = opts.Name
		cfg.autoAck = opts.PreSettled

		if opts.Credit > 0 {
			cfg.prefetch = opts.Credit
		}
	}

	l, err := newReceiverLink(s.con, cfg)
	if err != nil {
		return nil, err
	}

	return l, nil
}

// NewManagementClient prepares a request/reply client for the management
// queue named by node.
func (s *session) NewManagementClient(_ context.Context, node, name, token string) (transport.ManagementClient, error) {
	return &managementClient{
		con:    s.con,
		node:   node,
		name:   name,
		token:  token,
		logger: s.con.logger.With(zap.String("node", node)),
	}, nil
}

// End is a no-op: links own their channels.
func (s *session) End(context.Context) error {
	return nil
}
