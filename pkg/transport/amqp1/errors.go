// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package amqp1

import "fmt"

// ConfigEmptyError is returned by Dial when no configuration was passed.
type ConfigEmptyError struct{}

// AddressEmptyError is returned by Dial when the broker address is empty.
type AddressEmptyError struct{}

// ForeignDeliveryError is returned when a link is asked to settle a delivery
// it did not produce.
type ForeignDeliveryError struct{}

// ManagementStatusError is a non-success status returned by the management node.
type ManagementStatusError struct {
	Operation   string
	Code        int64
	Description string
}

func (ConfigEmptyError) Error() string {
	return "empty amqp config passed, unable to dial"
}

func (AddressEmptyError) Error() string {
	return "empty broker address, unable to dial"
}

func (ForeignDeliveryError) Error() string {
	return "delivery was not received on an amqp1 link"
}

func (e ManagementStatusError) Error() string {
	return fmt.Sprintf("management %s failed with status %d: %s", e.Operation, e.Code, e.Description)
}
