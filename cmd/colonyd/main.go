// Command colonyd wires the full runtime (store, bus, registry, model,
// engine) and runs one agent task to completion. The task result is printed
// to stdout as JSON; a signal stops the loop at the next turn boundary and
// the wiring shuts down in order: tasks drain, then the bus closes, then
// the store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	colony "github.com/hivegrid/colony"
	"github.com/hivegrid/colony/bus"
	"github.com/hivegrid/colony/internal/config"
	"github.com/hivegrid/colony/observer"
	"github.com/hivegrid/colony/provider/openaichat"
	"github.com/hivegrid/colony/registry"
	"github.com/hivegrid/colony/store/postgres"
	"github.com/hivegrid/colony/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("COLONY_CONFIG"), "path to colony.toml")
		repo       = flag.String("repo", "", "repository URL the agent operates on")
		role       = flag.String("role", "", "agent role to run")
		agentID    = flag.String("id", "", "agent id (derived from the prompt when empty)")
		prompt     = flag.String("prompt", "", "initial user prompt")
		reasoning  = flag.String("reasoning", "", "reasoning effort override (low, medium, high)")
		graphOut   = flag.String("graph", "", "print the spawn graph on exit (mermaid or dot)")
	)
	flag.Parse()
	if *repo == "" || *role == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "colonyd: -repo, -role, and -prompt are required")
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg := config.Load(*configPath)

	// 2. Open the conversation store (deferred closers run in reverse, so
	// the store closes last)
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	// 3. Connect the bus and ensure the request stream exists
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("colonyd"))
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()
	dispatcher, err := bus.NewDispatcher(nc,
		bus.WithLogger(logger),
		bus.WithSubject(cfg.NATS.SubjectExecReq),
		bus.WithReplyPrefix(cfg.NATS.SubjectExecResp),
		bus.WithStream(cfg.NATS.StreamExecReq),
		bus.WithPublishTimeout(cfg.NATS.PublishAckTimeout.Duration),
	)
	if err != nil {
		log.Fatalf("bus: %v", err)
	}
	if err := dispatcher.Init(ctx); err != nil {
		log.Fatalf("bus init: %v", err)
	}

	// 4. Registry client + tool snapshot, kept fresh in the background
	reg := registry.NewClient(cfg.Registry.URL,
		registry.WithLogger(logger),
		registry.WithTTL(cfg.Registry.CacheTTL.Duration),
	)
	toolset := colony.NewToolset(reg, colony.ToolsetLogger(logger))
	if err := toolset.StartRefresher(ctx, cfg.Registry.CacheTTL.Duration); err != nil {
		log.Fatalf("toolset: %v", err)
	}

	// 5. Model client with transient-error retry
	var model colony.Model = openaichat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openaichat.WithLogger(logger))
	model = colony.WithRetry(model, colony.RetryLogger(logger))

	// 6. Observer (opt-in via config)
	var dispatch colony.Dispatcher = dispatcher
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for name, p := range cfg.Observer.Pricing {
			pricing[name] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(context.Background()) //nolint:errcheck
		model = observer.WrapModel(model, cfg.LLM.Model, inst)
		dispatch = observer.WrapDispatcher(dispatch, inst)
		logger.Info("OTEL observability enabled")
	}

	// 7. Engine, summariser, runtime
	summarizer := colony.NewSummarizer(store, model, cfg.Summary.TurnThreshold,
		colony.SummarizerModel(cfg.Summary.Model),
		colony.SummarizerLogger(logger),
	)
	engineOpts := []colony.EngineOption{
		colony.WithLogger(logger),
		colony.WithDefaultModel(cfg.LLM.Model),
		colony.WithDispatchTimeout(cfg.Engine.TurnExecTimeout.Duration),
		colony.WithMaxIterations(cfg.Engine.MaxIterations),
		colony.WithSummarizer(summarizer),
	}
	if cfg.LLM.SystemPrompt != "" {
		engineOpts = append(engineOpts, colony.WithSystemPrompt(cfg.LLM.SystemPrompt))
	}
	if cfg.LLM.ToolChoice != "" {
		engineOpts = append(engineOpts, colony.WithToolChoice(cfg.LLM.ToolChoice))
	}
	engine := colony.NewEngine(store, model, dispatch, reg, toolset, engineOpts...)
	runtime := colony.NewRuntime(store, engine,
		colony.RuntimeLogger(logger),
		colony.RuntimeMaxTasks(cfg.Runtime.MaxTaskThreads),
	)

	// 8. Run the task; a signal cancels ctx and the loop stops at the next
	// turn boundary
	var runner observer.TaskRunner = runtime
	if inst != nil {
		runner = observer.WrapRunner(runtime, inst)
	}
	res, err := runner.RunAgentTask(ctx, colony.Task{
		Key:       colony.AgentKey{Role: *role, ID: *agentID, Repo: *repo},
		Prompt:    *prompt,
		Reasoning: *reasoning,
	})
	if err != nil {
		logger.Error("agent task failed", "error", err)
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))

	if *graphOut != "" {
		if *graphOut == "dot" {
			fmt.Fprint(os.Stderr, runtime.Graph().DOT())
		} else {
			fmt.Fprint(os.Stderr, runtime.Graph().Mermaid())
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

// openStore opens the backend named by the config. The returned closer
// releases the store and, for postgres, the pool the daemon owns.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (colony.ConversationStore, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.New(pool, postgres.WithLogger(logger))
		if err := st.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, func() {
			_ = st.Close()
			pool.Close()
		}, nil
	default:
		st := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
		if err := st.Init(ctx); err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}
