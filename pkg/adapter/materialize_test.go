// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

func TestMaterializeSystemProperties(t *testing.T) {
	enqueued := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	locked := enqueued.Add(time.Minute)
	id := uuid.MustParse("5b1a3c4e-0000-4000-8000-000000000001")

	msg := &transport.Message{
		Header: &transport.Header{DeliveryCount: 2, TTL: time.Hour},
		Annotations: map[string]any{
			"x-opt-enqueued-time":     enqueued,
			"x-opt-sequence-number":   int64(7),
			"x-opt-locked-until":      locked,
			"x-opt-deadletter-source": "orders",
		},
		Properties: &transport.Properties{
			MessageID:     id,
			CorrelationID: uint64(99),
			Subject:       ptr("order.created"),
			ContentType:   ptr("application/json"),
			GroupID:       ptr("session-1"),
		},
		ApplicationProperties: map[string]any{
			"DeadLetterReason": "poison",
			"attempt":          int32(3),
			"ok":               true,
			"at":               enqueued,
		},
		Body: transport.Body{Kind: transport.BodyBinary, Data: [][]byte{[]byte(`{"id":`), []byte(`1}`)}},
	}

	got := materialize(msg, nil)

	want := broker.SystemProperties{
		MessageID:        ptr(id.String()),
		CorrelationID:    ptr("99"),
		SessionID:        ptr("session-1"),
		ContentType:      ptr("application/json"),
		Subject:          ptr("order.created"),
		EnqueuedTime:     &enqueued,
		SequenceNumber:   ptr(int64(7)),
		DeliveryCount:    ptr(uint32(2)),
		TimeToLive:       ptr(time.Hour),
		LockedUntil:      &locked,
		DeadLetterSource: ptr("orders"),
		DeadLetterReason: ptr("poison"),
	}

	if diff := cmp.Diff(want, got.SystemProperties()); diff != "" {
		t.Errorf("system properties mismatch (-want +got):\n%s", diff)
	}

	wantProps := map[string]string{
		"DeadLetterReason": "poison",
		"attempt":          "3",
		"ok":               "true",
		"at":               "2026-10-18T09:30:00Z",
	}
	if diff := cmp.Diff(wantProps, got.Properties()); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, `{"id":1}`, string(got.Body()))
	assert.Equal(t, "application/json", got.DetectContentType())
	assert.Equal(t, "order.created", got.Subject())
	_, locked2 := got.LockToken()
	assert.False(t, locked2)
}

func TestMaterializeBodies(t *testing.T) {
	tests := []struct {
		name string
		body transport.Body
		want string
	}{
		{name: "empty", body: transport.Body{}, want: ""},
		{name: "binary", body: transport.Body{Kind: transport.BodyBinary, Data: [][]byte{[]byte("raw")}}, want: "raw"},
		{name: "string value", body: transport.Body{Kind: transport.BodyValue, Value: "text"}, want: "text"},
		{name: "binary value", body: transport.Body{Kind: transport.BodyValue, Value: []byte("bin")}, want: "bin"},
		{name: "numeric value", body: transport.Body{Kind: transport.BodyValue, Value: int64(42)}, want: "42"},
		{
			name: "sequence",
			body: transport.Body{Kind: transport.BodySequence, Sequence: [][]any{{"a", int32(1)}}},
			want: "[[a 1]]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := materialize(&transport.Message{Body: tt.body}, nil)

			assert.Equal(t, tt.want, string(got.Body()))
			assert.Equal(t, tt.body.Kind, got.BodyKind())
		})
	}
}

func TestMaterializeLockToken(t *testing.T) {
	token := uuid.New()

	got := materialize(nil, &token)

	gotToken, ok := got.LockToken()
	assert.True(t, ok)
	assert.Equal(t, token, gotToken)
	assert.Empty(t, got.Body())
	assert.Empty(t, got.Properties())
}
