// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

// Command sbreceive peeks, receives and fetches deferred messages from a
// Service Bus entity or a RabbitMQ queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "sbreceive:", err)
		os.Exit(1)
	}
}
