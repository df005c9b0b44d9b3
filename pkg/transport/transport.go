// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Package transport declares the narrow surface the receiver consumes from an
// AMQP transport: sessions, receiver links, management request/response
// clients and the binary message codec. Concrete implementations live in the
// amqp1 (AMQP 1.0, Service Bus) and rabbit (AMQP 0-9-1) subpackages.
package transport

import (
	"context"
	"time"
)

// Connection is an established connection to the broker.
type Connection interface {
	// NewSession begins a session on the connection.
	NewSession(ctx context.Context, opts *SessionOptions) (Session, error)

	// DecodeMessage decodes a binary encoded message, as returned inside
	// management responses.
	DecodeMessage(data []byte) (*Message, error)

	// Close tears the connection down.
	Close() error
}

// SessionOptions carries the flow-control windows requested for a session.
type SessionOptions struct {
	IncomingWindow uint32
	OutgoingWindow uint32
}

// Session multiplexes links over a connection.
type Session interface {
	// NewReceiverLink attaches a receiving link to the source address.
	NewReceiverLink(ctx context.Context, source string, opts *LinkOptions) (ReceiverLink, error)

	// NewManagementClient creates a request/response client for the management
	// node. The client is not usable until Attach returns.
	NewManagementClient(ctx context.Context, node, name, token string) (ManagementClient, error)

	// End ends the session.
	End(ctx context.Context) error
}

// LinkOptions configures a receiver link.
type LinkOptions struct {
	// PreSettled requests deliveries settled by the sender (receive-and-delete).
	PreSettled bool
	// Credit is the number of deliveries the link may prefetch.
	Credit uint32
	// Name is the link name; empty lets the transport pick one.
	Name string
}

// ReceiverLink pulls deliveries and settles them.
//
// Receive must tolerate being abandoned through ctx: a delivery that arrives
// after the context ends stays buffered for the next call instead of being lost.
type ReceiverLink interface {
	Receive(ctx context.Context) (Delivery, error)
	Accept(ctx context.Context, d Delivery) error
	Release(ctx context.Context, d Delivery, opts *ReleaseOptions) error
	Reject(ctx context.Context, d Delivery, opts *RejectOptions) error
	Detach(ctx context.Context) error
}

// ReleaseOptions carries annotations for a modified outcome. With no
// annotations the transport issues a plain release.
type ReleaseOptions struct {
	Annotations map[string]any
}

// RejectOptions carries the rejection error attached to a rejected outcome.
type RejectOptions struct {
	Condition   string
	Description string
	Info        map[string]any
}

// ManagementClient issues broker specific request/response operations.
type ManagementClient interface {
	Attach(ctx context.Context) error
	Call(ctx context.Context, operation string, properties map[string]any) (map[string]any, error)
	Close(ctx context.Context) error
}

// Delivery is the broker handle needed to settle a received message.
type Delivery interface {
	Message() *Message
}

// TokenProvider issues access tokens for an audience.
type TokenProvider interface {
	Token(ctx context.Context, scope string) (AccessToken, error)
}

// AccessToken is a bearer token with its expiry.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// StaticToken returns the same token for every scope. ExpiresOn is left zero.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context, string) (AccessToken, error) {
	return AccessToken{Token: string(s)}, nil
}
