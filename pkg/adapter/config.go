// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
)

const (
	defaultWindow           = 5000
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second
)

// ReceiverConfig describes the entity a receiver reads from and how.
type ReceiverConfig struct {
	Namespace      string        `env:"NAMESPACE" yaml:"namespace"`
	Entity         string        `env:"ENTITY" yaml:"entity"`
	Subscription   string        `env:"SUBSCRIPTION" yaml:"subscription"`
	SubQueue       string        `env:"SUB_QUEUE" yaml:"sub_queue"`
	ReceiveMode    string        `env:"RECEIVE_MODE" yaml:"receive_mode"`
	IncomingWindow uint32        `env:"INCOMING_WINDOW" yaml:"incoming_window"`
	OutgoingWindow uint32        `env:"OUTGOING_WINDOW" yaml:"outgoing_window"`
	Prefetch       uint32        `env:"PREFETCH" yaml:"prefetch"`
	Breaker        BreakerConfig `env:"BREAKER" yaml:"breaker"`
}

// DefaultReceiverConfig returns a PeekLock config with default windows and
// breaker settings. Entity must still be set.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		ReceiveMode:    "peek_lock",
		IncomingWindow: defaultWindow,
		OutgoingWindow: defaultWindow,
		Breaker: BreakerConfig{
			FailureThreshold: defaultBreakerThreshold,
			ResetTimeout:     defaultBreakerReset,
		},
	}
}

// Validate checks the config and fills zero breaker settings with defaults.
func (c *ReceiverConfig) Validate() error {
	if c.Entity == "" {
		return EntityEmptyError{}
	}

	if _, err := broker.ParseReceiveMode(c.ReceiveMode); err != nil {
		return fmt.Errorf("receive_mode: %w", err)
	}

	if _, err := ParseSubQueue(c.SubQueue); err != nil {
		return fmt.Errorf("sub_queue: %w", err)
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = defaultBreakerThreshold
	}

	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = defaultBreakerReset
	}

	return nil
}

// LoadConfig reads a YAML receiver config over DefaultReceiverConfig and
// validates it.
func LoadConfig(filename string) (*ReceiverConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read receiver config: %w", err)
	}

	cfg := DefaultReceiverConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse receiver config: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver config: %w", err)
	}

	return &cfg, nil
}
