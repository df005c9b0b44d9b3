// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import "time"

// DefaultMaxWaitTime bounds each pull when no options are given.
const DefaultMaxWaitTime = 60 * time.Second

// ReceiveMessageOptions configures ReceiveMessage and ReceiveMessages.
type ReceiveMessageOptions struct {
	// MaxMessageCount is the batch size used by callers that do not pass an
	// explicit count, such as the listener.
	MaxMessageCount int
	// MaxWaitTime bounds the wait for each message, not the whole call. Nil
	// waits until a message arrives or the context ends.
	MaxWaitTime *time.Duration
}

// DefaultReceiveMessageOptions returns {MaxMessageCount: 1, MaxWaitTime: 60s}.
func DefaultReceiveMessageOptions() *ReceiveMessageOptions {
	wait := DefaultMaxWaitTime

	return &ReceiveMessageOptions{
		MaxMessageCount: 1,
		MaxWaitTime:     &wait,
	}
}

// CompleteMessageOptions is reserved for future use.
type CompleteMessageOptions struct{}

// AbandonMessageOptions configures AbandonMessage.
type AbandonMessageOptions struct {
	// PropertiesToModify are sent as annotations of a modified outcome.
	PropertiesToModify map[string]any
}

// DeadLetterOptions configures DeadLetterMessage.
type DeadLetterOptions struct {
	Reason             *string
	ErrorDescription   *string
	PropertiesToModify map[string]any
}

// DeferMessageOptions configures DeferMessage.
type DeferMessageOptions struct {
	PropertiesToModify map[string]any
}

// ReceiveDeferredMessagesOptions is reserved for future use.
type ReceiveDeferredMessagesOptions struct{}

// RenewMessageLockOptions is reserved for future use.
type RenewMessageLockOptions struct{}

// PeekMessagesOptions configures PeekMessages.
type PeekMessagesOptions struct {
	// FromSequenceNumber is the first sequence number to peek. Nil continues
	// after the last message this receiver peeked.
	FromSequenceNumber *int64
}
