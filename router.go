// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package servicebus

import (
	"context"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
)

// Handler processes one message. In PeekLock mode it is responsible for
// settling the message through settler.
type Handler func(ctx context.Context, msg *broker.ReceivedMessage, settler broker.Settler)

// Router maps a message subject to its handler.
type Router map[string]Handler

func NewRouter() Router {
	return make(Router)
}

func (r Router) Add(subject string, h Handler) {
	r[subject] = h
}
