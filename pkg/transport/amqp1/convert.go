// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package amqp1

import (
	"fmt"

	"github.com/Azure/go-amqp"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// fromAMQP converts a go-amqp message. Annotation keys are symbols on the
// wire and become strings.
func fromAMQP(m *amqp.Message) *transport.Message {
	if m == nil {
		return &transport.Message{}
	}

	out := &transport.Message{
		ApplicationProperties: m.ApplicationProperties,
	}

	if h := m.Header; h != nil {
		out.Header = &transport.Header{
			Durable:       h.Durable,
			Priority:      h.Priority,
			TTL:           h.TTL,
			FirstAcquirer: h.FirstAcquirer,
			DeliveryCount: h.DeliveryCount,
		}
	}

	if len(m.Annotations) > 0 {
		out.Annotations = make(map[string]any, len(m.Annotations))
		for k, v := range m.Annotations {
			out.Annotations[fmt.Sprint(k)] = v
		}
	}

	if p := m.Properties; p != nil {
		out.Properties = &transport.Properties{
			MessageID:          p.MessageID,
			UserID:             p.UserID,
			To:                 p.To,
			Subject:            p.Subject,
			ReplyTo:            p.ReplyTo,
			CorrelationID:      p.CorrelationID,
			ContentType:        p.ContentType,
			ContentEncoding:    p.ContentEncoding,
			AbsoluteExpiryTime: p.AbsoluteExpiryTime,
			CreationTime:       p.CreationTime,
			GroupID:            p.GroupID,
			GroupSequence:      p.GroupSequence,
			ReplyToGroupID:     p.ReplyToGroupID,
		}
	}

	switch {
	case len(m.Data) > 0:
		out.Body = transport.Body{Kind: transport.BodyBinary, Data: m.Data}
	case m.Value != nil:
		out.Body = transport.Body{Kind: transport.BodyValue, Value: m.Value}
	case len(m.Sequence) > 0:
		out.Body = transport.Body{Kind: transport.BodySequence, Sequence: m.Sequence}
	}

	return out
}
