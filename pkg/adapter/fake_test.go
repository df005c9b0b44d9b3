// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
)

type fakeDelivery struct {
	msg *transport.Message
}

func (d *fakeDelivery) Message() *transport.Message {
	return d.msg
}

func newDelivery(body string, props map[string]any) *fakeDelivery {
	return &fakeDelivery{msg: &transport.Message{
		ApplicationProperties: props,
		Body: transport.Body{
			Kind: transport.BodyBinary,
			Data: [][]byte{[]byte(body)},
		},
	}}
}

type pullResult struct {
	d   transport.Delivery
	err error
}

type fakeLink struct {
	source string
	opts   transport.LinkOptions
	queue  chan pullResult

	mu             sync.Mutex
	accepted       []transport.Delivery
	released       []transport.Delivery
	releaseOpts    []*transport.ReleaseOptions
	rejected       []transport.Delivery
	rejectOpts     []*transport.RejectOptions
	dispositionErr error
	detachErr      error
	detached       int
}

func (l *fakeLink) Receive(ctx context.Context) (transport.Delivery, error) {
	select {
	case res := <-l.queue:
		return res.d, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLink) Accept(_ context.Context, d transport.Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accepted = append(l.accepted, d)

	return l.dispositionErr
}

func (l *fakeLink) Release(_ context.Context, d transport.Delivery, opts *transport.ReleaseOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.released = append(l.released, d)
	l.releaseOpts = append(l.releaseOpts, opts)

	return l.dispositionErr
}

func (l *fakeLink) Reject(_ context.Context, d transport.Delivery, opts *transport.RejectOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rejected = append(l.rejected, d)
	l.rejectOpts = append(l.rejectOpts, opts)

	return l.dispositionErr
}

func (l *fakeLink) Detach(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.detached++

	return l.detachErr
}

func (l *fakeLink) dispositions() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.accepted) + len(l.released) + len(l.rejected)
}

type mgmtCall struct {
	op    string
	props map[string]any
}

type fakeManagement struct {
	node, name, token string

	mu       sync.Mutex
	calls    []mgmtCall
	respond  func(op string, props map[string]any) (map[string]any, error)
	attached int
	closed   int
}

func (m *fakeManagement) Attach(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attached++

	return nil
}

func (m *fakeManagement) Call(_ context.Context, op string, props map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, mgmtCall{op: op, props: props})
	respond := m.respond
	m.mu.Unlock()

	if respond == nil {
		return map[string]any{}, nil
	}

	return respond(op, props)
}

func (m *fakeManagement) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed++

	return nil
}

func (m *fakeManagement) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

func (m *fakeManagement) lastCall() mgmtCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls[len(m.calls)-1]
}

type fakeSession struct {
	conn *fakeConn

	ended atomic.Int32
}

func (s *fakeSession) NewReceiverLink(_ context.Context, source string, opts *transport.LinkOptions) (transport.ReceiverLink, error) {
	s.conn.links.Add(1)

	if s.conn.attachGate != nil {
		s.conn.attaching <- struct{}{}
		<-s.conn.attachGate
	}

	if s.conn.attachErr != nil {
		return nil, s.conn.attachErr
	}

	s.conn.link.source = source
	s.conn.link.opts = *opts

	return s.conn.link, nil
}

func (s *fakeSession) NewManagementClient(_ context.Context, node, name, token string) (transport.ManagementClient, error) {
	s.conn.mgmtClients.Add(1)

	s.conn.mgmt.node = node
	s.conn.mgmt.name = name
	s.conn.mgmt.token = token

	return s.conn.mgmt, nil
}

func (s *fakeSession) End(context.Context) error {
	s.ended.Add(1)
	return nil
}

// fakeConn counts every network-facing call the receiver makes.
type fakeConn struct {
	link    *fakeLink
	mgmt    *fakeManagement
	session *fakeSession

	sessions    atomic.Int32
	links       atomic.Int32
	mgmtClients atomic.Int32
	attachErr   error

	// attachGate holds link attaches until closed; attaching signals entry.
	attachGate chan struct{}
	attaching  chan struct{}

	// decoded maps encoded payloads to the messages they decode to.
	decoded map[string]*transport.Message
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		link:    &fakeLink{queue: make(chan pullResult, 64)},
		mgmt:    &fakeManagement{},
		decoded: map[string]*transport.Message{},
	}
	c.session = &fakeSession{conn: c}

	return c
}

// gateAttach makes the next link attach wait for the returned release.
func (c *fakeConn) gateAttach() (entered <-chan struct{}, release func()) {
	c.attachGate = make(chan struct{})
	c.attaching = make(chan struct{}, 1)

	return c.attaching, func() { close(c.attachGate) }
}

func (c *fakeConn) NewSession(context.Context, *transport.SessionOptions) (transport.Session, error) {
	c.sessions.Add(1)
	return c.session, nil
}

func (c *fakeConn) DecodeMessage(data []byte) (*transport.Message, error) {
	m, ok := c.decoded[string(data)]
	if !ok {
		return nil, errors.New("undecodable payload")
	}

	return m, nil
}

func (c *fakeConn) Close() error {
	return nil
}

// networkCalls is the number of sessions, link attaches, management calls
// and dispositions issued so far.
func (c *fakeConn) networkCalls() int {
	return int(c.sessions.Load()) + int(c.links.Load()) + c.mgmt.callCount() + c.link.dispositions()
}

func (c *fakeConn) push(ds ...transport.Delivery) {
	for _, d := range ds {
		c.link.queue <- pullResult{d: d}
	}
}

func (c *fakeConn) pushErr(err error) {
	c.link.queue <- pullResult{err: err}
}

type recordingTokens struct {
	scopes []string
}

func (t *recordingTokens) Token(_ context.Context, scope string) (transport.AccessToken, error) {
	t.scopes = append(t.scopes, scope)
	return transport.AccessToken{Token: "sas-token"}, nil
}

func newTestReceiver(t *testing.T, mode broker.ReceiveMode, mutate ...func(*ReceiverConfig)) (*Receiver, *fakeConn) {
	t.Helper()

	cfg := DefaultReceiverConfig()
	cfg.Entity = "orders"
	if mode == broker.ReceiveAndDelete {
		cfg.ReceiveMode = "receive_and_delete"
	}

	for _, m := range mutate {
		m(&cfg)
	}

	conn := newFakeConn()

	r, err := NewReceiver(conn, &cfg)
	require.NoError(t, err)

	return r, conn
}

// blocking waits for each message until one arrives or ctx ends.
func blocking() *broker.ReceiveMessageOptions {
	return &broker.ReceiveMessageOptions{}
}

func waitFor(d time.Duration) *broker.ReceiveMessageOptions {
	return &broker.ReceiveMessageOptions{MaxWaitTime: &d}
}
