// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import "fmt"

// ConnClosedError is returned when operations are attempted on a closed connection.
type ConnClosedError struct{}

// ConConfEmptyError indicates that a nil client configuration was passed to Dial.
type ConConfEmptyError struct{}

// QueueConfEmptyError indicates that a nil queue declaration was passed.
type QueueConfEmptyError struct{}

// LinkClosedError is returned when receiving is attempted after the link has been detached.
type LinkClosedError struct{}

// ForeignDeliveryError is returned when a link is asked to settle a delivery
// it did not produce.
type ForeignDeliveryError struct{}

// ManagementStatusError is a non-success status returned by the management responder.
type ManagementStatusError struct {
	Operation   string
	Code        int
	Description string
}

// Error implements the error interface for ConnClosedError.
// It indicates the client explicitly closed the connection.
func (ConnClosedError) Error() string {
	return "connection closed by client"
}

// Error implements the error interface for ConConfEmptyError.
func (ConConfEmptyError) Error() string {
	return "empty client config passed, unable to dial"
}

// Error implements the error interface for QueueConfEmptyError.
func (QueueConfEmptyError) Error() string {
	return "empty queue config passed, unable to declare"
}

// Error implements the error interface for LinkClosedError.
// It signals that the link has already been detached.
func (LinkClosedError) Error() string {
	return "link already detached, unable to provide"
}

func (ForeignDeliveryError) Error() string {
	return "delivery was not received on a rabbit link"
}

func (e ManagementStatusError) Error() string {
	return fmt.Sprintf("management %s failed with status %d: %s", e.Operation, e.Code, e.Description)
}
