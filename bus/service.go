package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hivegrid/colony"
)

const (
	defaultConsumer = "exec-workers"
	defaultAckWait  = 30 * time.Second
	defaultWorkers  = 8
)

// Handler executes one tool invocation. args is the raw JSON argument
// object from the request. The returned value is marshalled into the
// response envelope; a returned error becomes a status=failure envelope.
type Handler func(ctx context.Context, args []byte) (any, error)

// Echo returns its argument object unchanged. It is the built-in
// smoke-test tool every deployment carries.
func Echo(_ context.Context, args []byte) (any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	return v, nil
}

// replyPublisher is the slice of *nats.Conn the service needs to answer
// requests.
type replyPublisher interface {
	Publish(subject string, data []byte) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// ServiceLogger sets a structured logger for the service.
// If not set, no logs are emitted.
func ServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// ServiceWorkers bounds concurrent tool executions.
func ServiceWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// ServiceAckWait sets how long the broker waits for an ack before
// redelivering a pulled request.
func ServiceAckWait(d time.Duration) ServiceOption {
	return func(s *Service) { s.ackWait = d }
}

// ServiceConsumer sets the durable consumer name.
func ServiceConsumer(name string) ServiceOption {
	return func(s *Service) { s.consumer = name }
}

// ServiceStream sets the JetStream stream name.
func ServiceStream(name string) ServiceOption {
	return func(s *Service) { s.stream = name }
}

// ServiceSubject sets the subject execution requests arrive on.
func ServiceSubject(subject string) ServiceOption {
	return func(s *Service) { s.subject = subject }
}

// Service is the responder side of the bus: a pull loop over the durable
// consumer that offloads each request to a bounded worker pool, publishes
// the response envelope on the request's reply inbox, and always acks.
//
// Redelivery after a crash means a tool can run twice; handlers should be
// idempotent. The dispatcher reads only the first response on an inbox.
type Service struct {
	pub      replyPublisher
	js       jetstream.JetStream
	stream   string
	subject  string
	consumer string
	ackWait  time.Duration
	workers  int
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewService creates a Service on an existing NATS connection.
// The caller owns the connection and is responsible for closing it.
func NewService(nc *nats.Conn, opts ...ServiceOption) (*Service, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, &colony.ErrBus{Op: "jetstream", Err: err}
	}
	s := &Service{
		pub:      nc,
		js:       js,
		stream:   defaultStream,
		subject:  defaultSubject,
		consumer: defaultConsumer,
		ackWait:  defaultAckWait,
		workers:  defaultWorkers,
		logger:   nopLogger,
		handlers: map[string]Handler{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Register makes a tool available under name. Registering the same name
// twice replaces the handler.
func (s *Service) Register(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

// Run ensures the stream and durable consumer, then pulls requests until
// ctx is cancelled. It blocks; cancel ctx to stop. In-flight executions
// finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	stream, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      s.stream,
		Subjects:  []string{s.subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return &colony.ErrBus{Op: "ensure stream", Err: err}
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   s.consumer,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   s.ackWait,
	})
	if err != nil {
		return &colony.ErrBus{Op: "ensure consumer", Err: err}
	}

	it, err := cons.Messages(jetstream.PullMaxMessages(s.workers))
	if err != nil {
		return &colony.ErrBus{Op: "subscribe consumer", Err: err}
	}
	go func() {
		<-ctx.Done()
		it.Stop()
	}()

	s.logger.Info("bus: service started",
		"stream", s.stream, "subject", s.subject, "consumer", s.consumer, "workers", s.workers)

	sem := make(chan struct{}, s.workers)
	for {
		msg, err := it.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				break
			}
			s.logger.Warn("bus: pull failed", "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Shutting down; leave the request for redelivery.
			msg.Nak() //nolint:errcheck
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-sem }()
			s.process(ctx, msg)
		}()
	}

	s.wg.Wait()
	s.logger.Info("bus: service stopped")
	return nil
}

// process handles one pulled request end to end. The request is acked no
// matter what happened: execution outcomes travel in the envelope, and an
// unparseable request is poison the stream must not redeliver forever.
func (s *Service) process(ctx context.Context, msg jetstream.Msg) {
	defer func() {
		if err := msg.Ack(); err != nil {
			s.logger.Warn("bus: ack failed", "error", err)
		}
	}()

	var req wireRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		s.logger.Warn("bus: unparseable request dropped", "error", err)
		return
	}
	if req.ReplyTo == "" {
		s.logger.Warn("bus: request without reply inbox dropped", "tool", req.Tool)
		return
	}

	env := s.execute(ctx, req)
	s.logger.Info("bus: tool executed",
		"tool", req.Tool, "status", env.Status, "exec_time", env.Meta.ExecTime)

	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("bus: encode envelope failed", "tool", req.Tool, "error", err)
		return
	}
	if err := s.pub.Publish(req.ReplyTo, data); err != nil {
		s.logger.Error("bus: reply publish failed", "tool", req.Tool, "reply_to", req.ReplyTo, "error", err)
	}
}

// execute resolves and runs the handler, timing the execution. Handler
// errors and panics become status=failure envelopes.
func (s *Service) execute(ctx context.Context, req wireRequest) (env envelope) {
	env.V = envelopeVersion

	s.mu.Lock()
	h, ok := s.handlers[req.Tool]
	s.mu.Unlock()
	if !ok {
		env.Status = colony.DispatchError
		env.Error = &colony.ToolError{Code: CodeToolNotFound, Message: fmt.Sprintf("tool %q is not registered", req.Tool)}
		return env
	}

	start := time.Now()
	defer func() {
		env.Meta.ExecTime = time.Since(start).Seconds()
		if p := recover(); p != nil {
			env.Status = colony.DispatchFailure
			env.Response = nil
			env.Error = &colony.ToolError{Code: CodeExecutionError, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	result, err := h(ctx, req.Args)
	if err != nil {
		env.Status = colony.DispatchFailure
		env.Error = &colony.ToolError{Code: CodeExecutionError, Message: err.Error()}
		return env
	}
	data, err := json.Marshal(result)
	if err != nil {
		env.Status = colony.DispatchFailure
		env.Error = &colony.ToolError{Code: CodeExecutionError, Message: "encode result: " + err.Error()}
		return env
	}
	env.Status = colony.DispatchOK
	env.Response = data
	return env
}
