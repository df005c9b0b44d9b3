// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
)

func TestLedgerTakeOnce(t *testing.T) {
	l := NewLedger()
	token := uuid.New()
	d := newDelivery("a", nil)

	require.NoError(t, l.Insert(token, d))
	assert.ErrorIs(t, l.Insert(token, d), errTokenInUse, "live token")
	assert.True(t, l.Contains(token))
	assert.Equal(t, 1, l.Len())

	got, ok := l.Take(token)
	require.True(t, ok)
	assert.Same(t, d, got)

	_, ok = l.Take(token)
	assert.False(t, ok)
	assert.Zero(t, l.Len())
	assert.Empty(t, l.live, "taken entries leave nothing behind")
}

func TestLedgerClear(t *testing.T) {
	l := NewLedger()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, l.Insert(a, newDelivery("a", nil)))
	require.NoError(t, l.Insert(b, newDelivery("b", nil)))

	assert.Equal(t, 2, l.Clear())
	assert.Zero(t, l.Len())
	assert.False(t, l.Contains(a))
	assert.NoError(t, l.Insert(uuid.New(), newDelivery("c", nil)), "cleared ledger stays usable")
}

func TestLedgerClose(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Insert(uuid.New(), newDelivery("a", nil)))

	assert.Equal(t, 1, l.Close())
	assert.Zero(t, l.Len())
	assert.ErrorIs(t, l.Insert(uuid.New(), newDelivery("b", nil)), broker.ReceiverClosedError{})
	assert.Zero(t, l.Len())
}

func TestLedgerConcurrentTake(t *testing.T) {
	l := NewLedger()
	token := uuid.New()
	require.NoError(t, l.Insert(token, newDelivery("a", nil)))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.Take(token); ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, taken)
}
