// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// Management operations understood by the broker.
const (
	opDeferMessage            = "com.microsoft:defer-message"
	opReceiveBySequenceNumber = "com.microsoft:receive-by-sequence-number"
	opRenewLock               = "com.microsoft:renew-lock"
	opPeekMessage             = "com.microsoft:peek-message"
)

// managementChannel lazily attaches the request/response link used for the
// operations AMQP has no disposition for.
type managementChannel struct {
	// prov supplies the shared session.
	prov *linkProvisioner
	// tokens authorizes the management client for the entity.
	tokens transport.TokenProvider
	// scope is the token audience.
	scope string
	// node is the management node address.
	node string
	// client caches the attached management client.
	client *cell[transport.ManagementClient]
	// breaker fails calls fast after repeated transport failures.
	breaker *gobreaker.CircuitBreaker
}

// BreakerConfig tunes the management circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32 `env:"BREAKER_THRESHOLD" yaml:"failure_threshold"`
	// ResetTimeout is how long the breaker stays open.
	ResetTimeout time.Duration `env:"BREAKER_RESET" yaml:"reset_timeout"`
}

func newManagementChannel(prov *linkProvisioner, tokens transport.TokenProvider, namespace string, cfg BreakerConfig, logger *zap.Logger) *managementChannel {
	scope := prov.path
	if namespace != "" {
		scope = "amqps://" + namespace + "/" + prov.path
	}

	return &managementChannel{
		prov:   prov,
		tokens: tokens,
		scope:  scope,
		node:   prov.path + "/$management",
		client: newCell[transport.ManagementClient](),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        prov.path,
			MaxRequests: 1,
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("management circuit breaker state changed",
					zap.String("entity", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Client returns the attached management client, creating it on first use.
func (m *managementChannel) Client(ctx context.Context) (transport.ManagementClient, error) {
	c, err := m.client.get(ctx, func(ctx context.Context) (transport.ManagementClient, error) {
		s, err := m.prov.Session(ctx)
		if err != nil {
			return nil, err
		}

		token, err := m.tokens.Token(ctx, m.scope)
		if err != nil {
			return nil, broker.AmqpError{Op: "get token", Err: err}
		}

		name := "receiver-management-" + uuid.NewString()

		c, err := s.NewManagementClient(ctx, m.node, name, token.Token)
		if err != nil {
			return nil, broker.AmqpError{Op: "create management client", Err: err}
		}

		if err := c.Attach(ctx); err != nil {
			return nil, broker.AmqpError{Op: "attach management client", Err: err}
		}

		if err := m.prov.track(ctx, "management client", c.Close); err != nil {
			return nil, err
		}

		return c, nil
	})

	return usable(m.prov, c, "attach management client", err)
}

// Call runs one management operation through the breaker.
func (m *managementChannel) Call(ctx context.Context, op string, props map[string]any) (map[string]any, error) {
	if m.prov.closed.Load() {
		return nil, broker.ReceiverClosedError{}
	}

	resp, err := m.breaker.Execute(func() (interface{}, error) {
		c, err := m.Client(ctx)
		if err != nil {
			return nil, err
		}

		return c.Call(ctx, op, props)
	})
	if err != nil {
		var (
			amqpErr   broker.AmqpError
			closedErr broker.ReceiverClosedError
		)
		if errors.As(err, &amqpErr) || errors.As(err, &closedErr) {
			return nil, err
		}

		return nil, broker.AmqpError{Op: op, Err: err}
	}

	out, ok := resp.(map[string]any)
	if !ok && resp != nil {
		return nil, broker.AmqpError{Op: op, Err: fmt.Errorf("unexpected response type %T", resp)}
	}

	return out, nil
}
