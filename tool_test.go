package colony

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestToolsetRefresh(t *testing.T) {
	ts := newTestToolset(t, testSpecs)

	names := ts.Names()
	if len(names) != len(testSpecs) {
		t.Fatalf("got %d tools, want %d", len(names), len(testSpecs))
	}
	for i, spec := range testSpecs {
		if names[i] != spec.Name {
			t.Errorf("names[%d] = %q, want %q (source order preserved)", i, names[i], spec.Name)
		}
	}

	spec, ok := ts.Spec("write_file")
	if !ok {
		t.Fatal("write_file should be present")
	}
	if !spec.Mutating() {
		t.Error("write_file should be mutating")
	}
}

func TestToolsetRefreshDropsBadSpecs(t *testing.T) {
	specs := []ToolSpec{
		{Name: "good", Description: "works", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "", Description: "unnamed"},
		{Name: "broken", Parameters: json.RawMessage(`{not json`)},
		{Name: "good", Description: "duplicate of the first"},
	}
	ts := NewToolset(staticTools(specs))
	if err := ts.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := ts.Names(); !reflect.DeepEqual(got, []string{"good"}) {
		t.Errorf("names = %v, want only the valid spec", got)
	}
	spec, _ := ts.Spec("good")
	if spec.Description != "works" {
		t.Errorf("description = %q, the first occurrence wins", spec.Description)
	}
}

func TestToolsetRefreshSourceErrorKeepsSnapshot(t *testing.T) {
	ts := newTestToolset(t, testSpecs)

	failing := NewToolset(failingSource{})
	if err := failing.Refresh(context.Background()); err == nil {
		t.Error("expected the source error to surface")
	}

	// A Toolset holding a good snapshot keeps serving it after a failed refresh.
	ts.source = failingSource{}
	if err := ts.Refresh(context.Background()); err == nil {
		t.Fatal("expected the source error to surface")
	}
	if len(ts.Names()) != len(testSpecs) {
		t.Error("a failed refresh must not clear the snapshot")
	}
}

type failingSource struct{}

func (failingSource) Tools(_ context.Context) ([]ToolSpec, error) {
	return nil, errors.New("registry unreachable")
}

func TestToolsetDefinitions(t *testing.T) {
	ts := newTestToolset(t, testSpecs)

	// nil exposes everything in snapshot order.
	all := ts.Definitions(nil)
	if len(all) != len(testSpecs) {
		t.Fatalf("got %d definitions, want %d", len(all), len(testSpecs))
	}
	if all[0].Name != "echo" {
		t.Errorf("first definition = %q, want echo", all[0].Name)
	}

	// An allowed list filters and orders; unknown names are skipped.
	some := ts.Definitions([]string{"build", "echo", "no_such_tool"})
	if len(some) != 2 || some[0].Name != "build" || some[1].Name != "echo" {
		t.Errorf("definitions = %+v, want [build echo]", some)
	}

	// An empty non-nil list exposes nothing.
	if got := ts.Definitions([]string{}); len(got) != 0 {
		t.Errorf("got %d definitions for an empty allow list, want 0", len(got))
	}
}

func TestToolsetDefinitionsSubstituteEmptyParams(t *testing.T) {
	ts := newTestToolset(t, []ToolSpec{{Name: "bare", Description: "no params"}})
	defs := ts.Definitions(nil)
	if len(defs) != 1 {
		t.Fatal("expected one definition")
	}
	if string(defs[0].Parameters) != "{}" {
		t.Errorf("parameters = %q, want the empty object", defs[0].Parameters)
	}
}

func TestToolsetEmptyBeforeRefresh(t *testing.T) {
	ts := NewToolset(staticTools(testSpecs))
	if len(ts.Names()) != 0 {
		t.Error("a fresh toolset serves nothing until the first refresh")
	}
	if _, ok := ts.Spec("echo"); ok {
		t.Error("no specs before the first refresh")
	}
}

func TestStartRefresherInitialRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := NewToolset(staticTools(testSpecs))
	if err := ts.StartRefresher(ctx, time.Hour); err != nil {
		t.Fatal(err)
	}
	if len(ts.Names()) != len(testSpecs) {
		t.Error("the initial refresh must complete before StartRefresher returns")
	}
}
