// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/GwynCerbin/go_servicebus/pkg/adapter"
	"github.com/GwynCerbin/go_servicebus/pkg/transport"
	"github.com/GwynCerbin/go_servicebus/pkg/transport/amqp1"
	"github.com/GwynCerbin/go_servicebus/pkg/transport/rabbit"
)

const (
	transportAMQP1  = "amqp1"
	transportRabbit = "rabbit"
)

// Secrets never come from the config file.
const (
	envUsername = "SB_USERNAME"
	envPassword = "SB_PASSWORD"
	envToken    = "SB_TOKEN"
)

// Config is the sbreceive config file.
type Config struct {
	// Transport is "amqp1" (Service Bus) or "rabbit".
	Transport string                      `yaml:"transport"`
	AMQP1     amqp1.Config                `yaml:"amqp1"`
	Rabbit    rabbit.Client               `yaml:"rabbit"`
	Queue     *rabbit.QueueDeclareAndBind `yaml:"queue"`
	Receiver  adapter.ReceiverConfig      `yaml:"receiver"`

	// token authorizes management calls; read from SB_TOKEN.
	token string
}

// loadConfig reads filename over the defaults, fills secrets through lookup
// and validates the result.
func loadConfig(filename string, lookup func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Transport: transportAMQP1,
		Receiver:  adapter.DefaultReceiverConfig(),
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	username, _ := lookup(envUsername)
	password, _ := lookup(envPassword)
	cfg.token, _ = lookup(envToken)

	cfg.AMQP1.Username, cfg.AMQP1.Password = username, password
	cfg.Rabbit.Username, cfg.Rabbit.Password = username, password

	if err = cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case transportAMQP1:
		if c.AMQP1.Address == "" {
			return amqp1.AddressEmptyError{}
		}
	case transportRabbit:
		if c.Rabbit.Host == "" {
			return fmt.Errorf("rabbit.host cannot be empty")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}

	return nil
}

// connect dials the configured transport. For rabbit, the queue section is
// declared before the receiver uses it.
func (c *Config) connect(ctx context.Context, logger *zap.Logger) (transport.Connection, error) {
	if c.Transport == transportAMQP1 {
		conn, err := amqp1.Dial(ctx, &c.AMQP1, logger)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	con, err := rabbit.Dial(&c.Rabbit, logger)
	if err != nil {
		return nil, err
	}

	if c.Queue != nil {
		if err = con.QueueDeclareAndBind(c.Queue); err != nil {
			if cerr := con.Close(); cerr != nil {
				logger.Warn("close connection", zap.Error(cerr))
			}

			return nil, err
		}
	}

	return con, nil
}

// newReceiver builds a receiver over conn.
func (c *Config) newReceiver(conn transport.Connection, logger *zap.Logger) (*adapter.Receiver, error) {
	return adapter.NewReceiver(conn, &c.Receiver,
		adapter.WithLogger(logger),
		adapter.WithTokenProvider(transport.StaticToken(c.token)),
	)
}
