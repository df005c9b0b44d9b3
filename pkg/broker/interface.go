// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import (
	"context"
	"time"
)

// Settler defines the settlement operations available on a received message.
// Handlers get a Settler rather than the full Receiver.
type Settler interface {
	// CompleteMessage removes the message from the entity.
	CompleteMessage(ctx context.Context, msg *ReceivedMessage, opts *CompleteMessageOptions) error

	// AbandonMessage releases the lock so the message can be delivered again.
	AbandonMessage(ctx context.Context, msg *ReceivedMessage, opts *AbandonMessageOptions) error

	// DeadLetterMessage moves the message to the dead-letter sub-queue.
	DeadLetterMessage(ctx context.Context, msg *ReceivedMessage, opts *DeadLetterOptions) error

	// DeferMessage sets the message aside; it is retrievable by sequence number only.
	DeferMessage(ctx context.Context, msg *ReceivedMessage, opts *DeferMessageOptions) error

	// RenewMessageLock extends the lock and returns the new expiry.
	RenewMessageLock(ctx context.Context, msg *ReceivedMessage, opts *RenewMessageLockOptions) (time.Time, error)
}

// Receiver defines the interface for pulling messages from a queue or a topic
// subscription. Every method returns a typed error from this package.
type Receiver interface {
	Settler

	// ReceiveMessage returns a single message, or nil when none arrived in time.
	ReceiveMessage(ctx context.Context, opts *ReceiveMessageOptions) (*ReceivedMessage, error)

	// ReceiveMessages returns up to maxCount messages in link arrival order.
	ReceiveMessages(ctx context.Context, maxCount int, opts *ReceiveMessageOptions) ([]*ReceivedMessage, error)

	// ReceiveDeferredMessage fetches one deferred message, or nil if the broker has none.
	ReceiveDeferredMessage(ctx context.Context, seq int64, opts *ReceiveDeferredMessagesOptions) (*ReceivedMessage, error)

	// ReceiveDeferredMessages fetches deferred messages by sequence number.
	ReceiveDeferredMessages(ctx context.Context, seqs []int64, opts *ReceiveDeferredMessagesOptions) ([]*ReceivedMessage, error)

	// PeekMessages reads messages without locking them.
	PeekMessages(ctx context.Context, maxCount int, opts *PeekMessagesOptions) ([]*ReceivedMessage, error)

	// EntityName returns the queue or topic name.
	EntityName() string

	// SubscriptionName returns the subscription name, empty for queues.
	SubscriptionName() string

	// ReceiveMode returns the mode fixed at construction.
	ReceiveMode() ReceiveMode

	// Close releases the link and session. It never fails; cleanup errors are logged.
	Close(ctx context.Context) error
}
