// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package amqp1

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Management request and response application properties.
const (
	propOperation         = "operation"
	propSecurityToken     = "security_token"
	propStatusCode        = "statusCode"
	propStatusDescription = "statusDescription"
)

// managementClient runs request/response exchanges against a management
// node over a sender and a receiver link. Calls are serialized: the reply
// link carries one outstanding request at a time.
type managementClient struct {
	session *amqp.Session
	node    string
	name    string
	token   string
	logger  *zap.Logger

	// mu serializes calls and guards the links.
	mu       sync.Mutex
	sender   *amqp.Sender
	receiver *amqp.Receiver
	// replyTo is the address responses are routed to.
	replyTo string
}

// Attach opens the sender and the reply receiver.
func (m *managementClient) Attach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sender != nil {
		return nil
	}

	replyTo := m.name + "-reply"

	sender, err := m.session.NewSender(ctx, m.node, &amqp.SenderOptions{
		Name:          m.name + "-sender",
		SourceAddress: replyTo,
	})
	if err != nil {
		return fmt.Errorf("attach management sender: %w", err)
	}

	receiver, err := m.session.NewReceiver(ctx, m.node, &amqp.ReceiverOptions{
		Name:          m.name + "-receiver",
		TargetAddress: replyTo,
		Credit:        1,
	})
	if err != nil {
		_ = sender.Close(ctx)
		return fmt.Errorf("attach management receiver: %w", err)
	}

	m.sender, m.receiver, m.replyTo = sender, receiver, replyTo

	return nil
}

// Call sends one management request and waits for the response with the
// matching correlation id.
func (m *managementClient) Call(ctx context.Context, operation string, properties map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sender == nil {
		return nil, errors.New("management client is not attached")
	}

	id := uuid.NewString()

	req := &amqp.Message{
		Properties: &amqp.MessageProperties{
			MessageID: id,
			ReplyTo:   &m.replyTo,
		},
		ApplicationProperties: map[string]any{
			propOperation:     operation,
			propSecurityToken: m.token,
		},
		Value: properties,
	}

	if err := m.sender.Send(ctx, req, nil); err != nil {
		return nil, fmt.Errorf("send %s request: %w", operation, err)
	}

	m.logger.Debug("management request sent", zap.String("operation", operation), zap.String("message_id", id))

	for {
		resp, err := m.receiver.Receive(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("receive %s response: %w", operation, err)
		}

		if err := m.receiver.AcceptMessage(ctx, resp); err != nil {
			m.logger.Warn("accept management response", zap.Error(err))
		}

		if resp.Properties == nil || fmt.Sprint(resp.Properties.CorrelationID) != id {
			m.logger.Debug("dropping uncorrelated management response", zap.String("operation", operation))
			continue
		}

		return responseBody(operation, resp)
	}
}

// responseBody checks the status and returns the map body. 204 carries no body.
func responseBody(operation string, resp *amqp.Message) (map[string]any, error) {
	code, ok := statusCode(resp.ApplicationProperties[propStatusCode])
	if !ok {
		return nil, fmt.Errorf("%s response has no status code", operation)
	}

	switch code {
	case 200:
		body, ok := normalize(resp.Value).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s response body has type %T", operation, resp.Value)
		}

		return body, nil
	case 204:
		return map[string]any{}, nil
	default:
		desc, _ := resp.ApplicationProperties[propStatusDescription].(string)
		return nil, ManagementStatusError{Operation: operation, Code: code, Description: desc}
	}
}

// normalize rewrites maps keyed by symbols or other simple values into
// string keyed maps, recursively.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case map[string]any:
		for k, e := range val {
			val[k] = normalize(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = normalize(e)
		}
		return val
	default:
		return v
	}
}

func statusCode(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// Close detaches both links.
func (m *managementClient) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sender == nil {
		return nil
	}

	err := errors.Join(m.sender.Close(ctx), m.receiver.Close(ctx))
	m.sender, m.receiver = nil, nil

	return err
}
