package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/platform"
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-letter queues",
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <queue>",
	Short: "Move dead-lettered messages back onto their source queue",
	Long: `Consume <queue>_dead_letter and republish each message to <queue> with its
original message id, so consumers that already recorded it still skip it.
Stops after --max messages or when the dead-letter queue stays idle for --idle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idle, _ := cmd.Flags().GetDuration("idle")
		limit, _ := cmd.Flags().GetInt("max")

		cfg := profile.BrokerConfig("dlq")
		dialer, err := platform.NewDialer(cfg)
		if err != nil {
			return err
		}
		sender := broker.NewSender(dialer, cfg.Queue, logger)
		defer sender.Close()

		n, err := replayDeadLetters(cmd.Context(), dialer, sender, args[0], ReplayOptions{Idle: idle, Max: limit}, logger)
		if jsonOutput {
			out := map[string]any{"queue": args[0], "replayed": n}
			if err != nil {
				out["error"] = err.Error()
			}
			if perr := printJSON(os.Stdout, out); perr != nil {
				return perr
			}
		} else {
			fmt.Printf("%s: %d message(s) replayed\n", args[0], n)
		}
		return err
	},
}

func init() {
	dlqReplayCmd.Flags().Duration("idle", 2*time.Second, "stop after the dead-letter queue is idle this long")
	dlqReplayCmd.Flags().Int("max", 0, "stop after this many messages (0 = all)")
	dlqCmd.AddCommand(dlqReplayCmd)
}

type ReplayOptions struct {
	Idle time.Duration
	Max  int
}

type republisher interface {
	Send(ctx context.Context, queue string, msg broker.Publishing) error
}

// replayDeadLetters drains the dead-letter queue of queue back into queue.
// Each message is acknowledged only after the republish was confirmed.
func replayDeadLetters(ctx context.Context, dialer broker.Dialer, out republisher, queue string, opts ReplayOptions, logger *slog.Logger) (int, error) {
	if opts.Idle <= 0 {
		opts.Idle = 2 * time.Second
	}
	dlq := broker.DeadLetterQueue(queue)

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	ch, err := conn.Channel(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	if err := ch.DeclareQueue(ctx, dlq, broker.DefaultQueueOptions()); err != nil {
		return 0, err
	}
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deliveries, err := ch.Consume(consumeCtx, dlq)
	if err != nil {
		return 0, err
	}

	idle := time.NewTimer(opts.Idle)
	defer idle.Stop()

	var n int
	for opts.Max <= 0 || n < opts.Max {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-idle.C:
			return n, nil
		case d, ok := <-deliveries:
			if !ok {
				return n, broker.Connectivity("consume", errors.New("dead-letter stream closed"))
			}
			logger.Debug("replaying dead letter", "message_id", d.MessageID, "reason", d.Header(inbox.HeaderDeathReason), "attempts", d.Header(inbox.HeaderDeathAttempts))
			if err := out.Send(ctx, queue, revive(d)); err != nil {
				_ = d.Nack(true)
				return n, fmt.Errorf("republish %s: %w", d.MessageID, err)
			}
			if err := d.Ack(); err != nil {
				// the message may be replayed twice; the inbox skips the copy
				return n, fmt.Errorf("ack dead letter %s: %w", d.MessageID, err)
			}
			n++
			idle.Reset(opts.Idle)
		}
	}
	return n, nil
}

// revive rebuilds the original message from a dead letter.
func revive(d broker.Delivery) broker.Publishing {
	msg := broker.Publishing{
		ContentType: d.ContentType,
		Persistent:  true,
		MessageID:   d.MessageID,
		Type:        d.Type,
		Headers:     make(map[string]string, len(d.Headers)),
		Body:        d.Body,
		Republish:   true,
	}
	for k, v := range d.Headers {
		switch k {
		case inbox.HeaderDeathReason, inbox.HeaderDeathQueue, inbox.HeaderDeathAttempts:
		default:
			msg.Headers[k] = v
		}
	}
	return msg
}
