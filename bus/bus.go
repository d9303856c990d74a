// Package bus implements the tool dispatch bus over NATS JetStream.
//
// Execution requests flow through one durable stream and responses come
// back on per-request core NATS inboxes, so callers get a blocking
// call-a-tool-get-a-result contract while tools run out of process.
// The Dispatcher is the requester side; Service is the responder.
//
// Both sides accept an externally-owned *nats.Conn via constructor
// injection. The caller connects and closes it.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hivegrid/colony"
)

const (
	defaultSubject        = "EXEC_REQ"
	defaultReplyPrefix    = "EXEC_RESP"
	defaultStream         = "EXEC_REQ"
	defaultPublishTimeout = 5 * time.Second
)

// envelopeVersion is the wire version stamped on every response envelope.
const envelopeVersion = 1

// Error codes carried in response envelopes.
const (
	CodeTimeout        = "TIMEOUT"
	CodeToolNotFound   = "TOOL_NOT_FOUND"
	CodeExecutionError = "EXECUTION_ERROR"
)

// wireRequest is the published form of a colony.ToolRequest. Args travel
// as a raw JSON object, never base64.
type wireRequest struct {
	Tool      string          `json:"tool_name"`
	Args      json.RawMessage `json:"input_args"`
	RepoURL   string          `json:"repo_url"`
	RepoOwner string          `json:"repo_owner,omitempty"`
	RepoName  string          `json:"repo_name,omitempty"`
	TurnIndex int             `json:"turn_id,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	ReplyTo   string          `json:"reply_to"`
}

// envelope is the versioned response published on the reply inbox.
type envelope struct {
	V        int               `json:"v"`
	Status   string            `json:"status"`
	Response json.RawMessage   `json:"response,omitempty"`
	Error    *colony.ToolError `json:"error,omitempty"`
	Meta     envelopeMeta      `json:"meta"`
}

type envelopeMeta struct {
	ExecTime float64 `json:"exec_time"`
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a structured logger for the dispatcher.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSubject sets the subject execution requests are published on.
func WithSubject(subject string) DispatcherOption {
	return func(d *Dispatcher) { d.subject = subject }
}

// WithReplyPrefix sets the prefix for per-request reply inboxes.
func WithReplyPrefix(prefix string) DispatcherOption {
	return func(d *Dispatcher) { d.replyPrefix = prefix }
}

// WithStream sets the JetStream stream name ensured by Init.
func WithStream(name string) DispatcherOption {
	return func(d *Dispatcher) { d.stream = name }
}

// WithPublishTimeout bounds the wait for the broker's publish ack.
func WithPublishTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.pubTimeout = d }
}

// Dispatcher implements colony.Dispatcher over JetStream. One instance is
// safe for concurrent use; every in-flight request holds its own reply
// inbox, so outstanding dispatches never cross wires.
type Dispatcher struct {
	nc          *nats.Conn
	js          jetstream.JetStream
	subject     string
	replyPrefix string
	stream      string
	pubTimeout  time.Duration
	logger      *slog.Logger
}

var _ colony.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher on an existing NATS connection.
// The caller owns the connection and is responsible for closing it.
func NewDispatcher(nc *nats.Conn, opts ...DispatcherOption) (*Dispatcher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, &colony.ErrBus{Op: "jetstream", Err: err}
	}
	d := &Dispatcher{
		nc:          nc,
		js:          js,
		subject:     defaultSubject,
		replyPrefix: defaultReplyPrefix,
		stream:      defaultStream,
		pubTimeout:  defaultPublishTimeout,
		logger:      nopLogger,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Init ensures the request stream exists. Safe to call multiple times;
// the responder side runs the same ensure, so either may start first.
func (d *Dispatcher) Init(ctx context.Context) error {
	_, err := d.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      d.stream,
		Subjects:  []string{d.subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return &colony.ErrBus{Op: "ensure stream", Err: err}
	}
	d.logger.Debug("bus: stream ready", "stream", d.stream, "subject", d.subject)
	return nil
}

// Execute publishes one tool invocation and blocks for its response.
//
// The reply inbox is subscribed before the request is published, so the
// response cannot be lost to a subscribe race. A missing publish ack is a
// retryable transport error; a missing response inside the caller's
// deadline is not an error at all but a status=error response, which the
// engine persists as a failed tool turn. Late duplicates on the inbox are
// dropped by the deferred unsubscribe.
func (d *Dispatcher) Execute(ctx context.Context, req colony.ToolRequest) (colony.ToolResponse, error) {
	replyTo := d.replyPrefix + "." + colony.NewInboxID()

	sub, err := d.nc.SubscribeSync(replyTo)
	if err != nil {
		return colony.ToolResponse{}, &colony.ErrBus{Op: "subscribe", Err: err}
	}
	defer sub.Unsubscribe() //nolint:errcheck

	data, err := marshalRequest(req, replyTo)
	if err != nil {
		return colony.ToolResponse{}, &colony.ErrBus{Op: "encode request", Err: err}
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.pubTimeout)
	defer cancel()
	ack, err := d.js.Publish(pubCtx, d.subject, data)
	if err != nil {
		return colony.ToolResponse{}, &colony.ErrBus{Op: "publish", Retryable: true, Err: err}
	}
	d.logger.Debug("bus: request published",
		"tool", req.Tool, "stream", ack.Stream, "seq", ack.Sequence, "reply_to", replyTo)

	msg, err := sub.NextMsgWithContext(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("bus: response timeout", "tool", req.Tool, "reply_to", replyTo)
		return colony.ToolResponse{
			Status: colony.DispatchError,
			Err:    &colony.ToolError{Code: CodeTimeout, Message: "no response before dispatch deadline"},
		}, nil
	case err != nil:
		return colony.ToolResponse{}, &colony.ErrBus{Op: "await response", Err: err}
	}

	resp, err := decodeEnvelope(msg.Data)
	if err != nil {
		return colony.ToolResponse{}, &colony.ErrBus{Op: "decode response", Err: err}
	}
	d.logger.Debug("bus: response received", "tool", req.Tool, "status", resp.Status, "exec_time", resp.ExecTime)
	return resp, nil
}

func marshalRequest(req colony.ToolRequest, replyTo string) ([]byte, error) {
	args := json.RawMessage(req.Args)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return json.Marshal(wireRequest{
		Tool:      req.Tool,
		Args:      args,
		RepoURL:   req.RepoURL,
		RepoOwner: req.RepoOwner,
		RepoName:  req.RepoName,
		TurnIndex: req.TurnIndex,
		Metadata:  req.Metadata,
		ReplyTo:   replyTo,
	})
}

func decodeEnvelope(data []byte) (colony.ToolResponse, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return colony.ToolResponse{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.V != envelopeVersion {
		return colony.ToolResponse{}, fmt.Errorf("unsupported envelope version %d", env.V)
	}
	return colony.ToolResponse{
		Status:   env.Status,
		Response: env.Response,
		Err:      env.Error,
		ExecTime: env.Meta.ExecTime,
	}, nil
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
