package colony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"
)

// Toolset holds the tool specifications agents may call. Snapshots are
// immutable; Refresh swaps in a new one atomically so readers never observe
// a partially loaded set. A background refresher keeps the set current on a
// bounded interval.
type Toolset struct {
	source ToolSource
	logger *slog.Logger
	snap   atomic.Pointer[toolSnapshot]
}

type toolSnapshot struct {
	specs map[string]ToolSpec
	order []string
}

// ToolsetOption configures a Toolset.
type ToolsetOption func(*Toolset)

// ToolsetLogger sets the structured logger for refresh events.
func ToolsetLogger(l *slog.Logger) ToolsetOption {
	return func(t *Toolset) { t.logger = l }
}

// NewToolset returns a Toolset backed by src. The set is empty until the
// first Refresh.
func NewToolset(src ToolSource, opts ...ToolsetOption) *Toolset {
	t := &Toolset{source: src, logger: nopLogger}
	for _, opt := range opts {
		opt(t)
	}
	t.snap.Store(&toolSnapshot{specs: map[string]ToolSpec{}})
	return t
}

// Refresh fetches the tool list from the source and swaps in a new snapshot.
// Specs whose parameter schema fails to compile are dropped with a warning;
// a model must never be offered a tool it cannot legally call.
func (t *Toolset) Refresh(ctx context.Context) error {
	specs, err := t.source.Tools(ctx)
	if err != nil {
		return fmt.Errorf("refresh toolset: %w", err)
	}
	snap := &toolSnapshot{specs: make(map[string]ToolSpec, len(specs))}
	for _, spec := range specs {
		if spec.Name == "" {
			t.logger.Warn("dropping unnamed tool spec")
			continue
		}
		if err := compileSchema(spec.Name, spec.Parameters); err != nil {
			t.logger.Warn("dropping tool with invalid schema", "tool", spec.Name, "error", err)
			continue
		}
		if _, dup := snap.specs[spec.Name]; dup {
			t.logger.Warn("dropping duplicate tool spec", "tool", spec.Name)
			continue
		}
		snap.specs[spec.Name] = spec
		snap.order = append(snap.order, spec.Name)
	}
	t.snap.Store(snap)
	t.logger.Debug("toolset refreshed", "tools", len(snap.order))
	return nil
}

// Spec returns the specification for a tool by name.
func (t *Toolset) Spec(name string) (ToolSpec, bool) {
	spec, ok := t.snap.Load().specs[name]
	return spec, ok
}

// Names returns the tool names in the snapshot's stable order.
func (t *Toolset) Names() []string {
	snap := t.snap.Load()
	out := make([]string, len(snap.order))
	copy(out, snap.order)
	return out
}

// Definitions projects the snapshot to model-facing tool definitions,
// restricted to the allowed names in their given order. Unknown names are
// skipped. A nil allowed list exposes every tool in snapshot order.
func (t *Toolset) Definitions(allowed []string) []ToolDefinition {
	snap := t.snap.Load()
	if allowed == nil {
		allowed = snap.order
	}
	defs := make([]ToolDefinition, 0, len(allowed))
	for _, name := range allowed {
		if spec, ok := snap.specs[name]; ok {
			defs = append(defs, spec.Definition())
		}
	}
	return defs
}

// StartRefresher performs an immediate refresh and then keeps the snapshot
// current in the background, paced to one fetch per interval. It returns
// once the initial refresh completes; the background loop stops when ctx
// is cancelled.
func (t *Toolset) StartRefresher(ctx context.Context, interval time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if err := t.Refresh(ctx); err != nil {
		return err
	}
	go func() {
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if err := t.Refresh(ctx); err != nil {
				t.logger.Warn("background toolset refresh failed", "error", err)
			}
		}
	}()
	return nil
}

// compileSchema verifies that params is a valid JSON Schema document.
// Empty parameters are allowed (the definition substitutes a bare object).
func compileSchema(name string, params json.RawMessage) error {
	if len(params) == 0 {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	if _, err := compiler.Compile(url); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return nil
}
