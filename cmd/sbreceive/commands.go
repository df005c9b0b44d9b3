// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GwynCerbin/go_servicebus/pkg/adapter"
	"github.com/GwynCerbin/go_servicebus/pkg/broker"
)

// app carries state set up by the root command for its subcommands.
type app struct {
	configFile string
	logLevel   string

	cfg    *Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "sbreceive",
		Short:         "Receive, peek and fetch deferred messages from a queue or subscription",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "sbreceive.yaml", "path to the YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newPeekCommand(a),
		newReceiveCommand(a),
		newDeferredCommand(a),
	)

	return cmd
}

func (a *app) setup() error {
	level, err := zap.ParseAtomicLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level

	if a.logger, err = zcfg.Build(); err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	a.cfg, err = loadConfig(a.configFile, os.LookupEnv)

	return err
}

// withReceiver connects, runs fn with a fresh receiver and tears both down.
func (a *app) withReceiver(ctx context.Context, fn func(*adapter.Receiver) error) error {
	conn, err := a.cfg.connect(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	defer func() {
		if err := conn.Close(); err != nil {
			a.logger.Warn("close connection", zap.Error(err))
		}
	}()

	recv, err := a.cfg.newReceiver(conn, a.logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = recv.Close(context.WithoutCancel(ctx))
	}()

	return fn(recv)
}

func newPeekCommand(a *app) *cobra.Command {
	var (
		count int
		from  int64
	)

	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Read messages without locking them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &broker.PeekMessagesOptions{}
			if from >= 0 {
				opts.FromSequenceNumber = &from
			}

			return a.withReceiver(cmd.Context(), func(recv *adapter.Receiver) error {
				msgs, err := recv.PeekMessages(cmd.Context(), count, opts)
				if err != nil {
					return fmt.Errorf("peek: %w", err)
				}

				return printMessages(cmd.OutOrStdout(), msgs)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 10, "maximum number of messages to peek")
	cmd.Flags().Int64Var(&from, "from", -1, "first sequence number; negative continues from the start")

	return cmd
}

func newReceiveCommand(a *app) *cobra.Command {
	var (
		count    int
		wait     time.Duration
		complete bool
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive messages; in peek_lock mode they are abandoned unless --complete is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			return a.withReceiver(ctx, func(recv *adapter.Receiver) error {
				msgs, err := recv.ReceiveMessages(ctx, count, &broker.ReceiveMessageOptions{MaxWaitTime: &wait})
				if perr := printMessages(cmd.OutOrStdout(), msgs); perr != nil {
					return perr
				}

				if err != nil {
					return fmt.Errorf("receive: %w", err)
				}

				if recv.ReceiveMode() != broker.PeekLock {
					return nil
				}

				return settleAll(ctx, recv, msgs, complete)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "maximum number of messages to receive")
	cmd.Flags().DurationVar(&wait, "wait", broker.DefaultMaxWaitTime, "maximum wait for each message")
	cmd.Flags().BoolVar(&complete, "complete", false, "complete received messages instead of abandoning them")

	return cmd
}

func settleAll(ctx context.Context, settler broker.Settler, msgs []*broker.ReceivedMessage, complete bool) error {
	var errs []error

	for _, msg := range msgs {
		var err error
		if complete {
			err = settler.CompleteMessage(ctx, msg, nil)
		} else {
			err = settler.AbandonMessage(ctx, msg, nil)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", msg.MessageID(), err))
		}
	}

	return errors.Join(errs...)
}

func newDeferredCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deferred SEQ...",
		Short: "Fetch deferred messages by sequence number",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seqs, err := parseSequenceNumbers(args)
			if err != nil {
				return err
			}

			return a.withReceiver(cmd.Context(), func(recv *adapter.Receiver) error {
				msgs, err := recv.ReceiveDeferredMessages(cmd.Context(), seqs, nil)
				if err != nil {
					return fmt.Errorf("receive deferred: %w", err)
				}

				return printMessages(cmd.OutOrStdout(), msgs)
			})
		},
	}
}

func parseSequenceNumbers(args []string) ([]int64, error) {
	seqs := make([]int64, 0, len(args))

	for _, arg := range args {
		seq, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sequence number %q: %w", arg, err)
		}

		seqs = append(seqs, seq)
	}

	return seqs, nil
}
