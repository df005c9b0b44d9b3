// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package main

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/GwynCerbin/go_servicebus/pkg/broker"
)

// printMessages writes one tab separated line per message: sequence number,
// message id, detected content type and body. Bodies that are not valid
// UTF-8 are quoted.
func printMessages(w io.Writer, msgs []*broker.ReceivedMessage) error {
	for _, msg := range msgs {
		seq := "-"
		if n, ok := msg.SequenceNumber(); ok {
			seq = strconv.FormatInt(n, 10)
		}

		body := string(msg.Body())
		if !utf8.Valid(msg.Body()) {
			body = strconv.Quote(body)
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", seq, msg.MessageID(), msg.DetectContentType(), body); err != nil {
			return fmt.Errorf("print message: %w", err)
		}
	}

	return nil
}
