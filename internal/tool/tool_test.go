package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	xerrors "LabNexus/internal/errors"
)

type fakeTool struct {
	name   string
	schema string
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake tool" }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }
func (t *fakeTool) SideEffect() SideEffect  { return SideEffectNone }
func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) Result {
	return Ok("done")
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeTool{name: "alpha"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Register(&fakeTool{name: "beta"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := registry.Lookup("alpha"); !ok {
		t.Fatalf("registered tool not found")
	}
	if _, ok := registry.Lookup("missing"); ok {
		t.Fatalf("lookup of missing tool must fail")
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeTool{name: "alpha"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := registry.Register(&fakeTool{name: "alpha"})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected CONFLICT for duplicate name, got %v", err)
	}
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeTool{name: "  "}); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected error for nil tool")
	}
}

const testSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"count": {"type": "integer", "minimum": 1}
	},
	"required": ["title"],
	"additionalProperties": false
}`

func TestValidateParams(t *testing.T) {
	ft := &fakeTool{name: "alpha", schema: testSchema}

	if res := ValidateParams(ft, json.RawMessage(`{"title":"ok","count":2}`)); res != nil {
		t.Fatalf("valid params rejected: %+v", res)
	}

	res := ValidateParams(ft, json.RawMessage(`{"count":0}`))
	if res == nil {
		t.Fatalf("expected validation failure")
	}
	if res.OK || res.ErrKind != xerrors.CodeInvalidToolInput {
		t.Fatalf("unexpected result: %+v", res)
	}
	// 校验信息要足够具体，推理引擎才能据此修正参数。
	if !strings.Contains(res.ErrMessage, "title") {
		t.Fatalf("message should name the missing property: %s", res.ErrMessage)
	}

	if res := ValidateParams(ft, json.RawMessage(`not json`)); res == nil || res.OK {
		t.Fatalf("malformed JSON must fail validation")
	}
}

func TestValidateParamsNoSchema(t *testing.T) {
	ft := &fakeTool{name: "alpha"}
	if res := ValidateParams(ft, json.RawMessage(`anything`)); res != nil {
		t.Fatalf("tools without schema accept any params, got %+v", res)
	}
}

func TestValidateParamsEmptyParams(t *testing.T) {
	ft := &fakeTool{name: "alpha", schema: testSchema}
	res := ValidateParams(ft, nil)
	if res == nil {
		t.Fatalf("empty params must fail a schema with required fields")
	}
}

func TestResultRender(t *testing.T) {
	ok := Ok("all good")
	if ok.Render() != "all good" {
		t.Fatalf("unexpected render: %s", ok.Render())
	}
	fail := Errorf(xerrors.CodeNotFound, "experiment %s missing", "exp_a1")
	rendered := fail.Render()
	if !strings.Contains(rendered, string(xerrors.CodeNotFound)) || !strings.Contains(rendered, "exp_a1") {
		t.Fatalf("unexpected render: %s", rendered)
	}
}
