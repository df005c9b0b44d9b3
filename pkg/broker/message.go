// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

const mimeReadLimit = 512 //bytes that mime will read

func init() {
	mimetype.SetLimit(mimeReadLimit)
}

// ReceiveMode governs whether messages are locked and must be settled.
type ReceiveMode uint8

const (
	// PeekLock locks each message to the receiver until it is settled.
	PeekLock ReceiveMode = iota
	// ReceiveAndDelete removes each message from the broker on delivery.
	ReceiveAndDelete
)

// String implements fmt.Stringer.
func (m ReceiveMode) String() string {
	if m == ReceiveAndDelete {
		return "ReceiveAndDelete"
	}

	return "PeekLock"
}

// ParseReceiveMode accepts "peek_lock" / "receive_and_delete" in any case,
// with or without the underscore.
func ParseReceiveMode(s string) (ReceiveMode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "", "peeklock":
		return PeekLock, nil
	case "receiveanddelete":
		return ReceiveAndDelete, nil
	default:
		return PeekLock, fmt.Errorf("unknown receive mode %q", s)
	}
}

// SystemProperties holds broker and AMQP-standard metadata. Nil fields were
// absent on the wire.
type SystemProperties struct {
	MessageID                  *string
	CorrelationID              *string
	SessionID                  *string
	ContentType                *string
	ReplyTo                    *string
	To                         *string
	Subject                    *string
	EnqueuedTime               *time.Time
	SequenceNumber             *int64
	DeliveryCount              *uint32
	TimeToLive                 *time.Duration
	LockedUntil                *time.Time
	DeadLetterSource           *string
	DeadLetterReason           *string
	DeadLetterErrorDescription *string
}

// ReceivedMessage is an immutable message obtained from a receiver.
type ReceivedMessage struct {
	// body is the payload, verbatim for binary bodies.
	body []byte
	// kind records which body section the payload was rendered from.
	kind transport.BodyKind
	// value is the raw amqp-value section when kind is BodyValue.
	value any
	// properties are the application properties flattened to strings.
	properties map[string]string
	// system holds the broker metadata.
	system SystemProperties
	// lockToken is set only for live PeekLock receives.
	lockToken *uuid.UUID
}

// MessageParts are the inputs of NewReceivedMessage.
type MessageParts struct {
	Body       []byte
	BodyKind   transport.BodyKind
	Value      any
	Properties map[string]string
	System     SystemProperties
	LockToken  *uuid.UUID
}

// NewReceivedMessage builds a message from its parts. The maps are copied.
func NewReceivedMessage(p MessageParts) *ReceivedMessage {
	msg := &ReceivedMessage{
		body:       p.Body,
		kind:       p.BodyKind,
		value:      p.Value,
		properties: maps.Clone(p.Properties),
		system:     p.System,
	}

	if msg.properties == nil {
		msg.properties = map[string]string{}
	}

	if p.LockToken != nil {
		token := *p.LockToken
		msg.lockToken = &token
	}

	return msg
}

// Body returns the raw payload.
func (m *ReceivedMessage) Body() []byte {
	return m.body
}

// BodyKind reports which AMQP body section the payload came from. Anything
// but binary is a diagnostic rendering, not a wire-faithful encoding.
func (m *ReceivedMessage) BodyKind() transport.BodyKind {
	return m.kind
}

// Value returns the raw amqp-value body, nil for other body kinds.
func (m *ReceivedMessage) Value() any {
	return m.value
}

// Properties returns a copy of the application properties.
func (m *ReceivedMessage) Properties() map[string]string {
	return maps.Clone(m.properties)
}

// Property returns one application property.
func (m *ReceivedMessage) Property(key string) (string, bool) {
	v, ok := m.properties[key]
	return v, ok
}

// SystemProperties returns the broker metadata.
func (m *ReceivedMessage) SystemProperties() SystemProperties {
	return m.system
}

// LockToken returns the client lock token, if the message holds a lock.
func (m *ReceivedMessage) LockToken() (uuid.UUID, bool) {
	if m.lockToken == nil {
		return uuid.Nil, false
	}

	return *m.lockToken, true
}

// MessageID returns the message id, empty if absent.
func (m *ReceivedMessage) MessageID() string {
	return deref(m.system.MessageID)
}

// Subject returns the subject (AMQP label), empty if absent.
func (m *ReceivedMessage) Subject() string {
	return deref(m.system.Subject)
}

// SequenceNumber returns the broker-assigned sequence number.
func (m *ReceivedMessage) SequenceNumber() (int64, bool) {
	if m.system.SequenceNumber == nil {
		return 0, false
	}

	return *m.system.SequenceNumber, true
}

// ContentType returns the declared content type, empty if absent.
func (m *ReceivedMessage) ContentType() string {
	return deref(m.system.ContentType)
}

// DetectContentType returns the declared content type, or sniffs it from
// the body when the sender did not set one.
func (m *ReceivedMessage) DetectContentType() string {
	if ct := m.ContentType(); ct != "" {
		return ct
	}

	return mimetype.Detect(m.body).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
