// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// envelope is the JSON form of a message inside a management reply.
type envelope struct {
	MessageID      string         `json:"message_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ContentType    string         `json:"content_type,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	ReplyTo        string         `json:"reply_to,omitempty"`
	SequenceNumber *int64         `json:"sequence_number,omitempty"`
	EnqueuedTime   *time.Time     `json:"enqueued_time,omitempty"`
	DeliveryCount  uint32         `json:"delivery_count,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	Body           []byte         `json:"body,omitempty"`
}

func decodeEnvelope(data []byte) (*transport.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal message envelope: %w", err)
	}

	msg := &transport.Message{
		Header:                &transport.Header{DeliveryCount: env.DeliveryCount},
		Annotations:           map[string]any{},
		ApplicationProperties: env.Properties,
		Properties: &transport.Properties{
			Subject:     optional(env.Subject),
			ReplyTo:     optional(env.ReplyTo),
			ContentType: optional(env.ContentType),
			GroupID:     optional(env.SessionID),
		},
	}

	if env.MessageID != "" {
		msg.Properties.MessageID = env.MessageID
	}

	if env.CorrelationID != "" {
		msg.Properties.CorrelationID = env.CorrelationID
	}

	if env.SequenceNumber != nil {
		msg.Annotations[annotationSequenceNumber] = *env.SequenceNumber
	}

	if env.EnqueuedTime != nil {
		msg.Annotations[annotationEnqueuedTime] = *env.EnqueuedTime
	}

	if len(env.Body) > 0 {
		msg.Body = transport.Body{Kind: transport.BodyBinary, Data: [][]byte{env.Body}}
	}

	return msg, nil
}
