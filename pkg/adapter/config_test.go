// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	name := filepath.Join(t.TempDir(), "receiver.yaml")
	require.NoError(t, os.WriteFile(name, []byte(body), 0o600))

	return name
}

func TestLoadConfig(t *testing.T) {
	name := writeConfig(t, `
namespace: ns.servicebus.windows.net
entity: orders
subscription: billing
sub_queue: dead_letter
receive_mode: receive_and_delete
prefetch: 20
breaker:
  reset_timeout: 5s
`)

	cfg, err := LoadConfig(name)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Entity)
	assert.Equal(t, "billing", cfg.Subscription)
	assert.Equal(t, "receive_and_delete", cfg.ReceiveMode)
	assert.Equal(t, uint32(20), cfg.Prefetch)
	assert.Equal(t, uint32(defaultWindow), cfg.IncomingWindow)
	assert.Equal(t, uint32(defaultBreakerThreshold), cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Breaker.ResetTimeout)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no entity", body: "namespace: ns\n"},
		{name: "bad mode", body: "entity: q\nreceive_mode: browse\n"},
		{name: "bad sub queue", body: "entity: q\nsub_queue: parked\n"},
		{name: "not yaml", body: "entity: [q\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateNoEntity(t *testing.T) {
	cfg := DefaultReceiverConfig()

	assert.ErrorIs(t, cfg.Validate(), EntityEmptyError{})
}
