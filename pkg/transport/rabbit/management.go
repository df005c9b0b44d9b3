// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// directReplyTo is RabbitMQ's pseudo-queue for request/reply without a
	// reply queue of our own.
	directReplyTo = "amq.rabbitmq.reply-to"

	headerSecurityToken = "security_token"
	contentTypeJSON     = "application/json"
)

// rpcResponse is the body a management responder replies with.
type rpcResponse struct {
	StatusCode        int            `json:"statusCode"`
	StatusDescription string         `json:"statusDescription"`
	Body              map[string]any `json:"body"`
	Messages          []rpcMessage   `json:"messages"`
}

// rpcMessage carries one JSON message envelope, base64 encoded.
type rpcMessage struct {
	Message []byte `json:"message"`
}

// managementClient publishes requests to the management queue and reads the
// replies over direct reply-to. Calls are serialized on one channel.
type managementClient struct {
	con    *Con
	node   string
	name   string
	token  string
	logger *zap.Logger

	// mu serializes calls and guards the channel.
	mu      sync.Mutex
	rabChan *amqp091.Channel
	replies <-chan amqp091.Delivery
}

// Attach opens the channel and subscribes to direct reply-to.
func (m *managementClient) Attach(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attach()
}

func (m *managementClient) attach() error {
	if m.rabChan != nil && !m.rabChan.IsClosed() {
		return nil
	}

	ch, _, err := m.con.channel()
	if err != nil {
		return err
	}

	replies, err := ch.Consume(directReplyTo, m.name, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume direct reply-to: %w", err)
	}

	m.rabChan, m.replies = ch, replies

	return nil
}

// Call publishes one request and waits for the reply with the matching
// correlation id. A closed channel is re-opened once per call.
func (m *managementClient) Call(ctx context.Context, operation string, properties map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rabChan == nil {
		return nil, errors.New("management client is not attached")
	}

	if err := m.attach(); err != nil {
		return nil, fmt.Errorf("reattach management channel: %w", err)
	}

	body, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}

	id := uuid.NewString()

	err = m.rabChan.PublishWithContext(ctx, "", m.node, false, false, amqp091.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: id,
		MessageId:     id,
		ReplyTo:       directReplyTo,
		Type:          operation,
		Headers:       amqp091.Table{headerSecurityToken: m.token},
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("publish %s request: %w", operation, err)
	}

	m.logger.Debug("management request sent", zap.String("operation", operation), zap.String("message_id", id))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.con.stop:
			return nil, ConnClosedError{}
		case d, ok := <-m.replies:
			if !ok {
				return nil, fmt.Errorf("receive %s response: %w", operation, amqp091.ErrClosed)
			}

			if d.CorrelationId != id {
				m.logger.Debug("dropping uncorrelated management response", zap.String("operation", operation))
				continue
			}

			return decodeResponse(operation, d.Body)
		}
	}
}

// decodeResponse checks the status and flattens the reply into the map
// shape shared with the AMQP 1.0 transport.
func decodeResponse(operation string, data []byte) (map[string]any, error) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", operation, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	default:
		return nil, ManagementStatusError{Operation: operation, Code: resp.StatusCode, Description: resp.StatusDescription}
	}

	out := resp.Body
	if out == nil {
		out = map[string]any{}
	}

	if resp.Messages != nil {
		msgs := make([]map[string]any, len(resp.Messages))
		for i, msg := range resp.Messages {
			msgs[i] = map[string]any{"message": msg.Message}
		}
		out["messages"] = msgs
	}

	return out, nil
}

// Close cancels the reply consumer and closes the channel.
func (m *managementClient) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rabChan == nil {
		return nil
	}

	err := m.rabChan.Close()
	m.rabChan = nil

	if err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("close management channel: %w", err)
	}

	return nil
}
