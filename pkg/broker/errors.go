// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import "fmt"

// InvalidRequestError is returned when an operation is not valid in the
// receiver's mode, or the input or a broker response is malformed.
type InvalidRequestError struct {
	Reason string
}

// MessageLockLostError is returned when a message has no lock token or the
// receiver no longer holds the delivery for it: never locked, already
// settled, or expired.
type MessageLockLostError struct {
	Reason string
}

// AmqpError wraps a failure surfaced by the transport or the management link.
type AmqpError struct {
	// Op names the failed operation, e.g. "receive" or "com.microsoft:peek-message".
	Op  string
	Err error
}

// ReceiverClosedError is returned when an operation is attempted after Close.
type ReceiverClosedError struct{}

// Error implements the error interface for InvalidRequestError.
func (e InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// Error implements the error interface for MessageLockLostError.
func (e MessageLockLostError) Error() string {
	return "message lock lost: " + e.Reason
}

// Error implements the error interface for AmqpError.
func (e AmqpError) Error() string {
	return fmt.Sprintf("amqp %s: %v", e.Op, e.Err)
}

// Unwrap exposes the transport error.
func (e AmqpError) Unwrap() error {
	return e.Err
}

// Error implements the error interface for ReceiverClosedError.
func (ReceiverClosedError) Error() string {
	return "receiver already closed, unable to provide"
}
