package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"swarmd/internal/config"
	"swarmd/internal/event"
	"swarmd/internal/natsbus"
)

// runArchive drains the durable event stream into a zstd NDJSON archive. Run
// it while the gateway is stopped; it opens the same NATS store dir.
func runArchive(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: swarmd archive -f <output.ndjson.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, err := natsbus.NewServer(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer srv.Close()

	client, err := natsbus.NewClient(srv)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	js, err := client.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.StreamInfo(natsbus.EventStreamName); err != nil {
		return fmt.Errorf("event stream not found, was the gateway run with durable queues? %w", err)
	}

	sub, err := js.SubscribeSync(natsbus.EventStreamSubject,
		nats.OrderedConsumer(), nats.DeliverAll())
	if err != nil {
		return fmt.Errorf("subscribe to event stream: %w", err)
	}
	defer sub.Unsubscribe()

	var events []event.Event
	for {
		msg, err := sub.NextMsg(2 * time.Second)
		if err == nats.ErrTimeout {
			break
		}
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}

		var ev event.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("skipping malformed event", "subject", msg.Subject, "error", err)
			continue
		}
		events = append(events, ev)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if err := event.WriteArchive(f, events); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	fmt.Printf("Archive complete: %d events\n", len(events))
	return nil
}

// runReplay publishes an archived batch back onto the bus, preserving the
// original relative timing scaled by -speed.
func runReplay(args []string) error {
	var inputPath string
	speed := 0.0

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-speed":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -speed")
			}
			i++
			v, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				return fmt.Errorf("invalid -speed value: %w", err)
			}
			speed = v
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: swarmd replay -f <archive.ndjson.zst> [-speed <multiplier>]\n")
		return fmt.Errorf("missing -f flag")
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	events, err := event.ReadArchive(f)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("Archive contains no events.")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, err := natsbus.NewServer(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer srv.Close()

	var bus event.Bus
	if cfg.Queue.Durable {
		bus, err = natsbus.NewDurableEventBus(srv)
	} else {
		bus, err = natsbus.NewEventBus(srv)
	}
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer bus.Close()

	replayer := event.NewReplayer(bus, speed)
	if err := replayer.Replay(context.Background(), events); err != nil {
		return err
	}

	fmt.Printf("Replay complete: %d events\n", len(events))
	return nil
}
