// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

// ReceiverConfEmptyError indicates that a nil receiver configuration was
// provided when creating a new receiver.
type ReceiverConfEmptyError struct{}

// ConnEmptyError indicates that no transport connection was provided.
type ConnEmptyError struct{}

// EntityEmptyError indicates that the receiver configuration names no entity.
type EntityEmptyError struct{}

// Error implements the error interface for ReceiverConfEmptyError.
// It notifies that receiver configuration was not provided.
func (ReceiverConfEmptyError) Error() string {
	return "empty receiver config passed, unable to create"
}

// Error implements the error interface for ConnEmptyError.
func (ConnEmptyError) Error() string {
	return "nil connection passed, unable to create"
}

// Error implements the error interface for EntityEmptyError.
func (EntityEmptyError) Error() string {
	return "empty entity name, unable to resolve path"
}
