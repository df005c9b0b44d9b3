// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package amqp1

import (
	"time"
)

// Config describes how to reach an AMQP 1.0 broker.
type Config struct {
	// Address is the broker URL, amqp:// or amqps://.
	Address string `env:"ADDRESS" yaml:"address"`
	// Username and Password enable SASL PLAIN; with an empty username the
	// connection authenticates anonymously. For Service Bus these are the
	// SAS key name and key.
	Username string `env:"USERNAME" yaml:"-"`
	Password string `env:"PASSWORD" yaml:"-"`
	// ContainerID identifies this client to the broker; random if empty.
	ContainerID string `env:"CONTAINER_ID" yaml:"container_id"`
	// IdleTimeout is the idle timeout advertised to the broker.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" yaml:"idle_timeout"`
	// Logging toggles debug output of management traffic.
	Logging bool `env:"LOGGING" yaml:"logging"`
}
