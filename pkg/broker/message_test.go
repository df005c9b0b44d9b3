// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReceiveMessageOptions(t *testing.T) {
	opts := DefaultReceiveMessageOptions()

	assert.Equal(t, 1, opts.MaxMessageCount)
	require.NotNil(t, opts.MaxWaitTime)
	assert.Equal(t, 60*time.Second, *opts.MaxWaitTime)
}

func TestParseReceiveMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ReceiveMode
		wantErr bool
	}{
		{in: "", want: PeekLock},
		{in: "peek_lock", want: PeekLock},
		{in: "PeekLock", want: PeekLock},
		{in: "receive_and_delete", want: ReceiveAndDelete},
		{in: "RECEIVEANDDELETE", want: ReceiveAndDelete},
		{in: "at_most_once", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReceiveMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReceivedMessageIsImmutable(t *testing.T) {
	props := map[string]string{"k": "v"}
	token := uuid.New()

	msg := NewReceivedMessage(MessageParts{Properties: props, LockToken: &token})

	props["k"] = "changed"
	token = uuid.Nil

	got := msg.Properties()
	assert.Equal(t, "v", got["k"])

	got["k"] = "mutated"
	v, ok := msg.Property("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	lock, ok := msg.LockToken()
	assert.True(t, ok)
	assert.NotEqual(t, uuid.Nil, lock)
}

func TestDetectContentType(t *testing.T) {
	declared := "application/vnd.orders+json"

	tests := []struct {
		name   string
		body   []byte
		system SystemProperties
		want   string
	}{
		{name: "declared", body: []byte("{}"), system: SystemProperties{ContentType: &declared}, want: declared},
		{name: "json", body: []byte(`{"id": 1}`), want: "application/json"},
		{name: "text", body: []byte("plain words"), want: "text/plain; charset=utf-8"},
		{name: "png", body: []byte("\x89PNG\r\n\x1a\n"), want: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewReceivedMessage(MessageParts{Body: tt.body, System: tt.system})
			assert.Equal(t, tt.want, msg.DetectContentType())
		})
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(AmqpError{Op: "receive", Err: cause})

	assert.EqualError(t, err, "amqp receive: connection reset")
	assert.ErrorIs(t, err, cause)

	assert.EqualError(t, InvalidRequestError{Reason: "bad"}, "invalid request: bad")
	assert.EqualError(t, MessageLockLostError{Reason: "gone"}, "message lock lost: gone")
	assert.ErrorIs(t, error(ReceiverClosedError{}), ReceiverClosedError{})
}
