// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package infra

type EmptyRoutError struct {
}

func (EmptyRoutError) Error() string {
	return "empty route"
}

type UnroutedMessage struct {
}

func (UnroutedMessage) Error() string {
	return "unrouted message"
}

type ReceiverCloseError struct {
}

func (ReceiverCloseError) Error() string {
	return "close receiver, dropped with error"
}

// AlreadyServingError is returned when ListenAndServe is called twice on
// the same instance.
type AlreadyServingError struct {
}

func (AlreadyServingError) Error() string {
	return "instance is already serving"
}
