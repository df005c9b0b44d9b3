// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

func TestFromDelivery(t *testing.T) {
	ts := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	msg := fromDelivery(amqp091.Delivery{
		Headers: amqp091.Table{
			"tenant":            "acme",
			"x-sequence-number": int64(17),
			"x-delivery-count":  int32(2),
		},
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		Priority:      4,
		CorrelationId: "c-1",
		Expiration:    "60000",
		MessageId:     "m-1",
		Timestamp:     ts,
		RoutingKey:    "orders.created",
		Redelivered:   true,
		Body:          []byte(`{"id":1}`),
	})

	assert.Equal(t, "acme", msg.ApplicationProperties["tenant"])
	assert.Equal(t, int64(17), msg.Annotations[annotationSequenceNumber])

	require.NotNil(t, msg.Header)
	assert.True(t, msg.Header.Durable)
	assert.Equal(t, uint8(4), msg.Header.Priority)
	assert.Equal(t, time.Minute, msg.Header.TTL)
	assert.Equal(t, uint32(2), msg.Header.DeliveryCount)

	p := msg.Properties
	require.NotNil(t, p)
	assert.Equal(t, "m-1", p.MessageID)
	assert.Equal(t, "c-1", p.CorrelationID)
	assert.Equal(t, "application/json", *p.ContentType)
	assert.Equal(t, "orders.created", *p.Subject, "routing key without a type")
	assert.Equal(t, ts, *p.CreationTime)
	assert.Nil(t, p.ReplyTo)

	assert.Equal(t, transport.BodyBinary, msg.Body.Kind)
	assert.Equal(t, [][]byte{[]byte(`{"id":1}`)}, msg.Body.Data)
}

func TestFromDeliveryPrefersType(t *testing.T) {
	msg := fromDelivery(amqp091.Delivery{Type: "order.created", RoutingKey: "orders", Redelivered: true})

	assert.Equal(t, "order.created", *msg.Properties.Subject)
	assert.Equal(t, uint32(1), msg.Header.DeliveryCount)
	assert.Equal(t, transport.BodyEmpty, msg.Body.Kind)
	assert.Nil(t, msg.Properties.MessageID)
}

func TestDecodeEnvelope(t *testing.T) {
	seq := int64(42)
	enqueued := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	data, err := json.Marshal(envelope{
		MessageID:      "m-42",
		Subject:        "order.created",
		SessionID:      "s-1",
		SequenceNumber: &seq,
		EnqueuedTime:   &enqueued,
		Properties:     map[string]any{"k": "v"},
		Body:           []byte("deferred"),
	})
	require.NoError(t, err)

	msg, err := (&Con{}).DecodeMessage(data)
	require.NoError(t, err)

	assert.Equal(t, "m-42", msg.Properties.MessageID)
	assert.Equal(t, "order.created", *msg.Properties.Subject)
	assert.Equal(t, "s-1", *msg.Properties.GroupID)
	assert.Equal(t, seq, msg.Annotations[annotationSequenceNumber])
	assert.True(t, enqueued.Equal(msg.Annotations[annotationEnqueuedTime].(time.Time)))
	assert.Equal(t, "v", msg.ApplicationProperties["k"])
	assert.Equal(t, [][]byte{[]byte("deferred")}, msg.Body.Data)

	_, err = (&Con{}).DecodeMessage([]byte("{"))
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := decodeResponse("peek", []byte(`{
		"statusCode": 200,
		"messages": [{"message": "eyJpZCI6MX0="}]
	}`))
	require.NoError(t, err)

	msgs, ok := resp["messages"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte(`{"id":1}`), msgs[0]["message"])

	resp, err = decodeResponse("renew", []byte(`{"statusCode": 200, "body": {"expiration": "2026-10-18T12:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18T12:00:00Z", resp["expiration"])

	resp, err = decodeResponse("defer", []byte(`{"statusCode": 204}`))
	require.NoError(t, err)
	assert.Empty(t, resp)

	_, err = decodeResponse("renew", []byte(`{"statusCode": 410, "statusDescription": "lock lost"}`))
	var status ManagementStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 410, status.Code)
	assert.Equal(t, "lock lost", status.Description)
}

func TestBackoffMask(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 1000, want: 1023},
		{in: 600, want: 511},
		{in: 1023, want: 1023},
	}

	for _, tt := range tests {
		got := backoffMask(tt.in)
		assert.Equal(t, tt.want, got, "mask for %d", tt.in)
		assert.Zero(t, got&(got+1), "mask must be of the form 2^n-1")
	}
}

func TestDialValidation(t *testing.T) {
	_, err := Dial(nil, nil)
	assert.ErrorIs(t, err, ConConfEmptyError{})
}

func TestUnwrapForeignDelivery(t *testing.T) {
	_, err := unwrap(foreign{})
	assert.ErrorIs(t, err, ForeignDeliveryError{})
}

type foreign struct{}

func (foreign) Message() *transport.Message { return nil }

// TestRabbitConnector needs CONNECTOR=host|username|password.
func TestRabbitConnector(t *testing.T) {
	val, ok := os.LookupEnv("CONNECTOR")
	if !ok {
		t.Skip("Skipping RabbitMQ connector test")
		return
	}

	arg := strings.Split(val, "|")
	if len(arg) != 3 {
		t.Errorf("invalid args count: %d", len(arg))
		return
	}

	con, err := Dial(&Client{
		Host:     arg[0],
		Username: arg[1],
		Password: arg[2],
	}, nil)
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, con.Close())
	}()

	queueCfg := &QueueDeclareAndBind{
		Name:    "servicebus-test",
		NoBind:  true,
		Durable: true,
	}
	require.NoError(t, con.QueueDeclareAndBind(queueCfg))

	defer func() {
		assert.NoError(t, con.DeleteQueue(queueCfg.Name))
	}()

	ch, _, err := con.channel()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = ch.PublishWithContext(ctx, "", queueCfg.Name, false, false, amqp091.Publishing{
		ContentType: "text/plain",
		Type:        "greeting",
		Body:        []byte("hello"),
	})
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	s, err := con.NewSession(ctx, &transport.SessionOptions{IncomingWindow: 10})
	require.NoError(t, err)

	link, err := s.NewReceiverLink(ctx, queueCfg.Name, nil)
	require.NoError(t, err)

	d, err := link.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, "greeting", *d.Message().Properties.Subject)
	assert.Equal(t, [][]byte{[]byte("hello")}, d.Message().Body.Data)

	require.NoError(t, link.Accept(ctx, d))
	require.NoError(t, link.Detach(ctx))
	require.NoError(t, s.End(ctx))
}
