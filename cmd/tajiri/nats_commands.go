package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	natspkg "github.com/tajiricircle/tajiri/service/nats"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/urfave/cli/v2"
)

// streamCommand follows events on the tajiri JetStream stream.
func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream ledger, fraud alert or trust score events",
		ArgsUsage: "[PHONE]",
		Description: `Follow events published to NATS JetStream.

Events are published to tajiri.{kind}.{phone digits}. Without PHONE every
phone is streamed. Each event is printed as one JSON line.

Examples:
  tajiri nats stream 0712345678
  tajiri nats stream --kind alerts --must-jq '.risk_level == "scam"'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "Event kind: txns, alerts or trust",
				Value:   natspkg.KindTransaction,
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events instead of only new ones",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 streams until interrupted)",
			},
			mustJQFlag(),
		},
		Action: func(c *cli.Context) error {
			kind := c.String("kind")
			switch kind {
			case natspkg.KindTransaction, natspkg.KindAlert, natspkg.KindTrust:
			default:
				return fmt.Errorf("unknown event kind %q (use txns, alerts or trust)", kind)
			}

			var phone string
			if c.NArg() > 0 {
				normalized, err := pipeline.NormalizePhone(c.Args().First())
				if err != nil {
					return err
				}
				phone = normalized
			}

			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			nc, err := natspkg.Connect(c.String("nats-url"), "tajiri-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := natspkg.SubjectFilter(kind, phone)
			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			fmt.Fprintf(c.App.ErrWriter, "Subscribing to %s (Ctrl-C to exit)\n", subject)

			events := make(chan []byte, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msg.Ack()
				events <- msg.Data()
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			return forwardEvents(ctx, c.App.Writer, c.App.ErrWriter, events, filters, c.Int("count"))
		},
	}
}

// forwardEvents prints events matching every filter until ctx ends or
// limit matches were printed.
func forwardEvents(ctx context.Context, out, errOut io.Writer, events <-chan []byte, filters []*gojq.Code, limit int) error {
	matched := 0
	for {
		select {
		case data := <-events:
			var event interface{}
			if err := json.Unmarshal(data, &event); err != nil {
				fmt.Fprintf(errOut, "Error parsing event: %v\n", err)
				continue
			}
			if !matchesAll(filters, event) {
				continue
			}
			matched++
			fmt.Fprintln(out, string(data))

			if limit > 0 && matched >= limit {
				return nil
			}

		case <-ctx.Done():
			fmt.Fprintf(errOut, "\nReceived %d matching events\n", matched)
			return nil
		}
	}
}

// inspectStreamCommand shows information about the JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TAJIRI JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "tajiri-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream:       %s\n", info.Config.Name)
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
