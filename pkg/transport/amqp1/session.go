// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package amqp1

import (
	"context"
	"math"

	"github.com/Azure/go-amqp"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

type session struct {
	s      *amqp.Session
	logger *zap.Logger
}

// NewReceiverLink attaches a receiver. Pre-settled links ask the sender to
// settle on send; otherwise the receiver settles in second mode so that
// dispositions are confirmed by the broker.
func (s *session) NewReceiverLink(ctx context.Context, source string, opts *transport.LinkOptions) (transport.ReceiverLink, error) {
	ro := &amqp.ReceiverOptions{}

	if opts != nil {
		ro.Name = opts.Name

		if opts.Credit > 0 {
			ro.Credit = int32(min(opts.Credit, math.MaxInt32))
		}

		if opts.PreSettled {
			ro.RequestedSenderSettleMode = amqp.SenderSettleModeSettled.Ptr()
		} else {
			ro.SettlementMode = amqp.ReceiverSettleModeSecond.Ptr()
		}
	}

	r, err := s.s.NewReceiver(ctx, source, ro)
	if err != nil {
		return nil, err
	}

	return &receiverLink{r: r}, nil
}

// NewManagementClient prepares a request/response client on this session.
// No link is attached until Attach.
func (s *session) NewManagementClient(_ context.Context, node, name, token string) (transport.ManagementClient, error) {
	return &managementClient{
		session: s.s,
		node:    node,
		name:    name,
		token:   token,
		logger:  s.logger.With(zap.String("node", node)),
	}, nil
}

// End closes the session.
func (s *session) End(ctx context.Context) error {
	return s.s.Close(ctx)
}
