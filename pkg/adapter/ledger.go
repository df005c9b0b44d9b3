// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

// errTokenInUse reports an insert under a token that is still live.
var errTokenInUse = errors.New("lock token already in use")

// Ledger maps client lock tokens to the deliveries needed to settle them.
// The mutex guards map operations only and is never held across I/O.
//
// Tokens are fresh random UUIDs, so a settled token never comes back and
// the ledger keeps nothing once an entry is taken.
type Ledger struct {
	mu sync.Mutex
	// live holds unsettled deliveries.
	live map[uuid.UUID]transport.Delivery
	// closed refuses new entries once the receiver has shut down.
	closed bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		live: make(map[uuid.UUID]transport.Delivery),
	}
}

// Insert registers a delivery under token. It fails with errTokenInUse if
// the token is live and with broker.ReceiverClosedError after Close.
func (l *Ledger) Insert(token uuid.UUID, d transport.Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return broker.ReceiverClosedError{}
	}

	if _, ok := l.live[token]; ok {
		return errTokenInUse
	}

	l.live[token] = d

	return nil
}

// Take removes and returns the delivery for token.
func (l *Ledger) Take(token uuid.UUID) (transport.Delivery, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.live[token]
	if !ok {
		return nil, false
	}

	delete(l.live, token)

	return d, true
}

// Contains reports whether token has a live entry.
func (l *Ledger) Contains(token uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.live[token]

	return ok
}

// Len returns the number of unsettled deliveries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.live)
}

// Clear drops every live entry and returns how many there were.
func (l *Ledger) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.live)
	l.live = make(map[uuid.UUID]transport.Delivery)

	return n
}

// Close clears the ledger and refuses further inserts.
func (l *Ledger) Close() int {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	return l.Clear()
}
