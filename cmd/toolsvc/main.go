// Command toolsvc is the responder side of the tool dispatch bus: it pulls
// execution requests from the durable consumer, runs the registered
// handlers, and answers on each request's reply inbox. Deployments extend
// it by registering their own handlers; the built-ins here are the
// smoke-test tools.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hivegrid/colony/bus"
	"github.com/hivegrid/colony/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("COLONY_CONFIG"), "path to colony.toml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 1. Load config
	cfg := config.Load(*configPath)

	// 2. Connect the bus
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("toolsvc"))
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	// 3. Build the responder service
	svc, err := bus.NewService(nc,
		bus.ServiceLogger(logger),
		bus.ServiceSubject(cfg.NATS.SubjectExecReq),
		bus.ServiceStream(cfg.NATS.StreamExecReq),
		bus.ServiceConsumer(cfg.NATS.ConsumerName),
		bus.ServiceAckWait(cfg.NATS.AckWait.Duration),
		bus.ServiceWorkers(cfg.NATS.Workers),
	)
	if err != nil {
		log.Fatalf("bus service: %v", err)
	}

	// 4. Register built-in handlers
	svc.Register("echo", bus.Echo)
	svc.Register("current_time", currentTime)

	// 5. Pull until signalled; in-flight executions finish before exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tool service: %v", err)
	}
}

// currentTime reports the responder's wall clock, a liveness probe for bus
// deployments.
func currentTime(_ context.Context, _ []byte) (any, error) {
	now := time.Now()
	return map[string]any{"unix": now.Unix(), "rfc3339": now.Format(time.RFC3339)}, nil
}
