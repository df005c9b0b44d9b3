// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package transport

import "time"

// BodyKind tags which AMQP body section a message carries.
type BodyKind uint8

const (
	BodyEmpty BodyKind = iota
	BodyBinary
	BodyValue
	BodySequence
)

// String implements fmt.Stringer.
func (k BodyKind) String() string {
	switch k {
	case BodyBinary:
		return "binary"
	case BodyValue:
		return "value"
	case BodySequence:
		return "sequence"
	default:
		return "empty"
	}
}

// Body is the tagged union of the AMQP body sections. Only the field
// matching Kind is meaningful.
type Body struct {
	Kind     BodyKind
	Data     [][]byte
	Value    any
	Sequence [][]any
}

// Header is the AMQP header section.
type Header struct {
	Durable       bool
	Priority      uint8
	TTL           time.Duration
	FirstAcquirer bool
	DeliveryCount uint32
}

// Properties is the AMQP properties section. Nil pointers are absent fields.
type Properties struct {
	MessageID          any
	UserID             []byte
	To                 *string
	Subject            *string
	ReplyTo            *string
	CorrelationID      any
	ContentType        *string
	ContentEncoding    *string
	AbsoluteExpiryTime *time.Time
	CreationTime       *time.Time
	GroupID            *string
	GroupSequence      *uint32
	ReplyToGroupID     *string
}

// Message is a transport-neutral view of a delivered message.
type Message struct {
	Header                *Header
	Annotations           map[string]any
	Properties            *Properties
	ApplicationProperties map[string]any
	Body                  Body
}
