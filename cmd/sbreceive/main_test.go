// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()

	name := filepath.Join(t.TempDir(), "sbreceive.yaml")
	require.NoError(t, os.WriteFile(name, []byte(body), 0o600))

	return name
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadConfig(t *testing.T) {
	name := writeFile(t, `
transport: amqp1
amqp1:
  address: amqps://ns.servicebus.windows.net
  username: ignored
receiver:
  namespace: ns.servicebus.windows.net
  entity: orders
`)

	cfg, err := loadConfig(name, env(map[string]string{
		envUsername: "RootManageSharedAccessKey",
		envPassword: "secret",
		envToken:    "SharedAccessSignature sr=x",
	}))
	require.NoError(t, err)

	assert.Equal(t, "RootManageSharedAccessKey", cfg.AMQP1.Username)
	assert.Equal(t, "secret", cfg.AMQP1.Password)
	assert.Equal(t, "SharedAccessSignature sr=x", cfg.token)
	assert.Equal(t, "orders", cfg.Receiver.Entity)
	assert.Equal(t, "peek_lock", cfg.Receiver.ReceiveMode)
}

func TestLoadConfigRabbit(t *testing.T) {
	name := writeFile(t, `
transport: rabbit
rabbit:
  host: localhost:5672
  reconnect: 10s
queue:
  name: orders
  no_bind: true
  dead_letter_exchange: orders.dlx
receiver:
  entity: orders
  receive_mode: receive_and_delete
`)

	cfg, err := loadConfig(name, env(nil))
	require.NoError(t, err)

	require.NotNil(t, cfg.Queue)
	assert.Equal(t, "orders.dlx", cfg.Queue.DeadLetterExchange)
	assert.Equal(t, "localhost:5672", cfg.Rabbit.Host)
	assert.Empty(t, cfg.Rabbit.Username)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown transport", body: "transport: kafka\nreceiver:\n  entity: q\n"},
		{name: "no address", body: "transport: amqp1\nreceiver:\n  entity: q\n"},
		{name: "no rabbit host", body: "transport: rabbit\nreceiver:\n  entity: q\n"},
		{name: "no entity", body: "amqp1:\n  address: amqp://localhost\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeFile(t, tt.body), env(nil))
			assert.Error(t, err)
		})
	}
}

func TestRootCommandFailsBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "log level",
			args: []string{"--log-level", "loud", "peek"},
			want: "parse log level",
		},
		{
			name: "missing config",
			args: []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "peek"},
			want: "read config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCommand()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})

			err := cmd.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDeferredRequiresSequenceNumbers(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"deferred"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestParseSequenceNumbers(t *testing.T) {
	seqs, err := parseSequenceNumbers([]string{"7", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, seqs)

	_, err = parseSequenceNumbers([]string{"7", "x"})
	assert.ErrorContains(t, err, `"x"`)
}

func testMessage(id string, seq *int64, contentType *string, body []byte) *broker.ReceivedMessage {
	return broker.NewReceivedMessage(broker.MessageParts{
		Body: body,
		System: broker.SystemProperties{
			MessageID:      &id,
			SequenceNumber: seq,
			ContentType:    contentType,
		},
	})
}

func TestPrintMessages(t *testing.T) {
	seq := int64(12)
	ct := "application/json"

	var out bytes.Buffer
	require.NoError(t, printMessages(&out, []*broker.ReceivedMessage{
		testMessage("a", &seq, &ct, []byte(`{"id":1}`)),
		testMessage("b", nil, &ct, []byte{0xff, 0x00}),
	}))

	assert.Equal(t, "12\ta\tapplication/json\t{\"id\":1}\n-\tb\tapplication/json\t\"\\xff\\x00\"\n", out.String())
}

type recordingSettler struct {
	broker.Settler

	completed, abandoned []string
	fail                 bool
}

func (s *recordingSettler) CompleteMessage(_ context.Context, msg *broker.ReceivedMessage, _ *broker.CompleteMessageOptions) error {
	s.completed = append(s.completed, msg.MessageID())
	if s.fail {
		return broker.MessageLockLostError{Reason: "expired"}
	}

	return nil
}

func (s *recordingSettler) AbandonMessage(_ context.Context, msg *broker.ReceivedMessage, _ *broker.AbandonMessageOptions) error {
	s.abandoned = append(s.abandoned, msg.MessageID())

	return nil
}

func TestSettleAll(t *testing.T) {
	msgs := []*broker.ReceivedMessage{
		testMessage("a", nil, nil, nil),
		testMessage("b", nil, nil, nil),
	}

	s := &recordingSettler{}
	require.NoError(t, settleAll(context.Background(), s, msgs, false))
	assert.Equal(t, []string{"a", "b"}, s.abandoned)
	assert.Empty(t, s.completed)

	s = &recordingSettler{fail: true}
	err := settleAll(context.Background(), s, msgs, true)
	assert.Equal(t, []string{"a", "b"}, s.completed)

	var lost broker.MessageLockLostError
	assert.True(t, errors.As(err, &lost))
}
