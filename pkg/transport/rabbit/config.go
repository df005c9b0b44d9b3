// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbit

import (
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Client describes how to reach a RabbitMQ broker.
type Client struct {
	Username         string        `env:"USERNAME" yaml:"-"`
	Password         string        `env:"PASSWORD" yaml:"-"`
	Host             string        `env:"HOST" yaml:"host"`
	VHost            string        `env:"VHOST" yaml:"vhost"`
	TcpHeartBeat     time.Duration `env:"HEARTBEAT" yaml:"tcp_heartbeat"`
	Properties       amqp091.Table `env:"PROPERTIES" yaml:"properties"`
	MaxReconnectTime time.Duration `env:"RECONNECT" yaml:"reconnect"`
	Logging          bool          `env:"LOGGING" yaml:"logging"`
}

// QueueDeclareAndBind declares the queue a receiver reads from and, unless
// NoBind is set, binds it to an exchange.
type QueueDeclareAndBind struct {
	Name         string        `env:"NAME" yaml:"name"`
	NoBind       bool          `env:"NO_BIND" yaml:"no_bind"`
	RoutingKey   string        `env:"ROUTING_KEY" yaml:"routing_key"`
	ExchangeName string        `env:"EXCHANGE_NAME" yaml:"exchange_name"`
	BindArgs     amqp091.Table `env:"BIND_ARGS" yaml:"bind_args"`
	Durable      bool          `env:"DURABLE" yaml:"durable"`
	AutoDelete   bool          `env:"AUTO_DELETE" yaml:"auto_delete"`
	Exclusive    bool          `env:"EXCLUSIVE" yaml:"exclusive"`
	// DeadLetterExchange receives rejected messages; maps to x-dead-letter-exchange.
	DeadLetterExchange string        `env:"DLX" yaml:"dead_letter_exchange"`
	Args               amqp091.Table `env:"ARGS" yaml:"args"`
}
