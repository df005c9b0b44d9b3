// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// Broker annotations and properties carrying system metadata.
const (
	annotationEnqueuedTime     = "x-opt-enqueued-time"
	annotationSequenceNumber   = "x-opt-sequence-number"
	annotationLockedUntil      = "x-opt-locked-until"
	annotationDeadLetterSource = "x-opt-deadletter-source"

	propDeadLetterReason      = "DeadLetterReason"
	propDeadLetterDescription = "DeadLetterErrorDescription"
)

// materialize maps a transport message onto a ReceivedMessage. It is pure:
// minting a lock token and registering the delivery is the caller's job.
func materialize(msg *transport.Message, token *uuid.UUID) *broker.ReceivedMessage {
	if msg == nil {
		msg = &transport.Message{}
	}

	props := make(map[string]string, len(msg.ApplicationProperties))
	for k, v := range msg.ApplicationProperties {
		props[k] = stringify(v)
	}

	parts := broker.MessageParts{
		BodyKind:   msg.Body.Kind,
		Properties: props,
		System:     systemProperties(msg),
		LockToken:  token,
	}

	switch msg.Body.Kind {
	case transport.BodyBinary:
		parts.Body = bytes.Join(msg.Body.Data, nil)
	case transport.BodyValue:
		parts.Value = msg.Body.Value
		switch v := msg.Body.Value.(type) {
		case []byte:
			parts.Body = v
		case string:
			parts.Body = []byte(v)
		default:
			// lossy: a diagnostic rendering, not an AMQP encoding
			parts.Body = fmt.Appendf(nil, "%v", v)
		}
	case transport.BodySequence:
		parts.Body = fmt.Appendf(nil, "%v", msg.Body.Sequence)
	}

	return broker.NewReceivedMessage(parts)
}

func systemProperties(msg *transport.Message) broker.SystemProperties {
	var sys broker.SystemProperties

	if p := msg.Properties; p != nil {
		if p.MessageID != nil {
			sys.MessageID = ptr(stringify(p.MessageID))
		}
		if p.CorrelationID != nil {
			sys.CorrelationID = ptr(stringify(p.CorrelationID))
		}
		sys.SessionID = p.GroupID
		sys.ContentType = p.ContentType
		sys.ReplyTo = p.ReplyTo
		sys.To = p.To
		sys.Subject = p.Subject
	}

	if h := msg.Header; h != nil {
		sys.DeliveryCount = ptr(h.DeliveryCount)
		if h.TTL > 0 {
			sys.TimeToLive = ptr(h.TTL)
		}
	}

	if t, ok := msg.Annotations[annotationEnqueuedTime].(time.Time); ok {
		sys.EnqueuedTime = &t
	}
	if seq, ok := asInt64(msg.Annotations[annotationSequenceNumber]); ok {
		sys.SequenceNumber = &seq
	}
	if t, ok := msg.Annotations[annotationLockedUntil].(time.Time); ok {
		sys.LockedUntil = &t
	}
	if s, ok := msg.Annotations[annotationDeadLetterSource].(string); ok {
		sys.DeadLetterSource = &s
	}

	if s, ok := msg.ApplicationProperties[propDeadLetterReason].(string); ok {
		sys.DeadLetterReason = &s
	}
	if s, ok := msg.ApplicationProperties[propDeadLetterDescription].(string); ok {
		sys.DeadLetterErrorDescription = &s
	}

	return sys
}

// stringify converts an AMQP simple value to its string form. Types without
// a native conversion fall back to their %v rendering.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func ptr[T any](v T) *T {
	return &v
}
