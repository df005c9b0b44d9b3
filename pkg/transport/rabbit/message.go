// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"strconv"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// Headers with a broker meaning, lifted into annotations.
const (
	headerSequenceNumber = "x-sequence-number"
	headerDeliveryCount  = "x-delivery-count"
	headerEnqueuedTime   = "x-enqueued-time"

	annotationSequenceNumber = "x-opt-sequence-number"
	annotationEnqueuedTime   = "x-opt-enqueued-time"
)

// delivery wraps an AMQP delivery with its converted message.
type delivery struct {
	// raw holds the original delivery, needed for Ack/Nack/Reject.
	raw amqp091.Delivery
	// msg is the transport view of raw.
	msg *transport.Message
}

func (d *delivery) Message() *transport.Message {
	return d.msg
}

// fromDelivery maps an AMQP 0-9-1 delivery onto a transport message. The
// message type, or the routing key when unset, becomes the subject.
func fromDelivery(d amqp091.Delivery) *transport.Message {
	msg := &transport.Message{
		Header: &transport.Header{
			Durable:  d.DeliveryMode == amqp091.Persistent,
			Priority: d.Priority,
		},
		Annotations:           map[string]any{},
		ApplicationProperties: map[string]any{},
		Properties:            &transport.Properties{},
	}

	for k, v := range d.Headers {
		msg.ApplicationProperties[k] = v
	}

	if ttl, err := strconv.ParseInt(d.Expiration, 10, 64); err == nil {
		msg.Header.TTL = time.Duration(ttl) * time.Millisecond
	}

	if n, ok := tableInt(d.Headers, headerDeliveryCount); ok {
		msg.Header.DeliveryCount = uint32(n)
	} else if d.Redelivered {
		msg.Header.DeliveryCount = 1
	}

	if n, ok := tableInt(d.Headers, headerSequenceNumber); ok {
		msg.Annotations[annotationSequenceNumber] = n
	}

	if t, ok := d.Headers[headerEnqueuedTime].(time.Time); ok {
		msg.Annotations[annotationEnqueuedTime] = t
	}

	p := msg.Properties
	if d.MessageId != "" {
		p.MessageID = d.MessageId
	}
	if d.CorrelationId != "" {
		p.CorrelationID = d.CorrelationId
	}
	if d.UserId != "" {
		p.UserID = []byte(d.UserId)
	}
	if !d.Timestamp.IsZero() {
		ts := d.Timestamp
		p.CreationTime = &ts
	}

	p.ContentType = optional(d.ContentType)
	p.ContentEncoding = optional(d.ContentEncoding)
	p.ReplyTo = optional(d.ReplyTo)

	p.Subject = optional(d.Type)
	if p.Subject == nil {
		p.Subject = optional(d.RoutingKey)
	}

	if len(d.Body) > 0 {
		msg.Body = transport.Body{Kind: transport.BodyBinary, Data: [][]byte{d.Body}}
	}

	return msg
}

func tableInt(t amqp091.Table, key string) (int64, bool) {
	switch n := t[key].(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
