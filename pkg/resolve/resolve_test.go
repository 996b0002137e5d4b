package resolve

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/gclocal/pkg/schema"
)

func TestResolveAppliesDefaults(t *testing.T) {
	raw := map[string]any{
		"script":    []any{"echo hi"},
		"variables": map[string]any{"A": "1"},
	}
	r, err := Resolve("job", raw, map[string]any{"job": raw})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cfg := r.Config
	if cfg.Stage != "test" {
		t.Errorf("Stage = %q, want test", cfg.Stage)
	}
	if cfg.When != schema.WhenOnSuccess {
		t.Errorf("When = %q, want on_success", cfg.When)
	}
	if cfg.AllowFailure {
		t.Error("AllowFailure = true, want false")
	}
	if !reflect.DeepEqual([]string(cfg.Script), []string{"echo hi"}) {
		t.Errorf("Script = %v", cfg.Script)
	}
	if cfg.Variables["A"] != "1" {
		t.Errorf("Variables = %v", cfg.Variables)
	}
	if cfg.Image != nil || cfg.BeforeScript != nil || cfg.AfterScript != nil {
		t.Errorf("unexpected defaults: image=%v before=%v after=%v", cfg.Image, cfg.BeforeScript, cfg.AfterScript)
	}
}

func TestMergeNestedAndSequences(t *testing.T) {
	parent := map[string]any{
		"variables": map[string]any{"A": "parent", "B": "parent"},
		"script":    []any{"parent-1", "parent-2"},
		"stage":     "build",
	}
	own := map[string]any{
		"variables": map[string]any{"B": "own", "C": "own"},
		"script":    []any{"own-1"},
	}
	got := Merge(parent, own)

	wantVars := map[string]any{"A": "parent", "B": "own", "C": "own"}
	if !reflect.DeepEqual(got["variables"], wantVars) {
		t.Errorf("variables = %v, want %v", got["variables"], wantVars)
	}
	if !reflect.DeepEqual(got["script"], []any{"own-1"}) {
		t.Errorf("script = %v, want sequence replaced wholesale", got["script"])
	}
	if got["stage"] != "build" {
		t.Errorf("stage = %v", got["stage"])
	}

	// Inputs are untouched.
	if len(parent["variables"].(map[string]any)) != 2 || len(parent["script"].([]any)) != 2 {
		t.Error("Merge modified its dst argument")
	}
	got["variables"].(map[string]any)["A"] = "changed"
	if parent["variables"].(map[string]any)["A"] != "parent" {
		t.Error("Merge result aliases dst")
	}
}

func TestMergeOrderIndependentForDisjointKeys(t *testing.T) {
	a := map[string]any{"image": "alpine", "variables": map[string]any{"A": "1"}}
	b := map[string]any{"stage": "build", "variables": map[string]any{"B": "2"}}
	own := map[string]any{"script": []any{"true"}, "variables": map[string]any{"C": "3"}}

	ab := Merge(Merge(Merge(nil, a), b), own)
	ba := Merge(Merge(Merge(nil, b), a), own)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("merge order changed result:\n%v\n%v", ab, ba)
	}
	again := Merge(ab, ab)
	if !reflect.DeepEqual(ab, again) {
		t.Errorf("merge is not idempotent: %v vs %v", ab, again)
	}
}

func TestFlattenMultiLevel(t *testing.T) {
	globals := map[string]any{
		".base": map[string]any{
			"image":     "alpine",
			"variables": map[string]any{"LEVEL": "base", "BASE": "yes"},
		},
		".middle": map[string]any{
			"extends":   ".base",
			"variables": map[string]any{"LEVEL": "middle"},
			"stage":     "build",
		},
		".other": map[string]any{
			"before_script": []any{"setup"},
		},
	}
	raw := map[string]any{
		"extends": []any{".middle", ".other"},
		"script":  []any{"run"},
	}
	r, err := Resolve("job", raw, globals)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cfg := r.Config
	if cfg.Image == nil || cfg.Image.Name != "alpine" {
		t.Errorf("Image = %+v, want inherited from .base", cfg.Image)
	}
	if cfg.Stage != "build" {
		t.Errorf("Stage = %q", cfg.Stage)
	}
	if cfg.Variables["LEVEL"] != "middle" || cfg.Variables["BASE"] != "yes" {
		t.Errorf("Variables = %v", cfg.Variables)
	}
	if !reflect.DeepEqual([]string(cfg.BeforeScript), []string{"setup"}) {
		t.Errorf("BeforeScript = %v", cfg.BeforeScript)
	}
	if _, ok := r.Flat["extends"]; ok {
		t.Error("flattened definition still has extends")
	}
	if _, ok := raw["extends"]; !ok {
		t.Error("Resolve modified the raw definition")
	}
}

func TestFlattenUnknownFragment(t *testing.T) {
	raw := map[string]any{"extends": ".missing", "script": []any{"true"}}
	_, err := Resolve("build", raw, map[string]any{})
	if !errors.Is(err, ErrUnknownFragment) {
		t.Fatalf("err = %v, want ErrUnknownFragment", err)
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Fragment != ".missing" || ce.Job != "build" {
		t.Errorf("ConfigError = %+v", ce)
	}
	if !strings.Contains(err.Error(), ".missing is used by build") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestFlattenCycles(t *testing.T) {
	tests := []struct {
		name    string
		globals map[string]any
		extends string
	}{
		{
			name:    "self",
			globals: map[string]any{".a": map[string]any{"extends": ".a"}},
			extends: ".a",
		},
		{
			name: "mutual",
			globals: map[string]any{
				".a": map[string]any{"extends": ".b"},
				".b": map[string]any{"extends": ".a"},
			},
			extends: ".a",
		},
		{
			name:    "long ring",
			globals: ring(MaxDepth),
			extends: ".f0",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{"extends": tt.extends, "script": []any{"true"}}
			_, err := Resolve("job", raw, tt.globals)
			if !errors.Is(err, ErrInheritanceCycle) {
				t.Fatalf("err = %v, want ErrInheritanceCycle", err)
			}
		})
	}
}

func TestFlattenChainDepth(t *testing.T) {
	ok := chain(MaxDepth - 1)
	raw := map[string]any{"extends": ".f0", "script": []any{"true"}}
	r, err := Resolve("job", raw, ok)
	if err != nil {
		t.Fatalf("chain of %d: %v", MaxDepth-1, err)
	}
	last := fmt.Sprintf("f%d", MaxDepth-2)
	if r.Config.Variables[last] != "set" {
		t.Errorf("deepest fragment variable %s not inherited: %v", last, r.Config.Variables)
	}

	for _, n := range []int{MaxDepth, MaxDepth + 1} {
		_, err = Resolve("job", raw, chain(n))
		if !errors.Is(err, ErrInheritanceCycle) {
			t.Errorf("chain of %d: err = %v, want ErrInheritanceCycle", n, err)
		}
	}
}

func TestFlattenFanOutCycles(t *testing.T) {
	tests := []struct {
		name    string
		globals map[string]any
	}{
		{
			name:    "repeated self",
			globals: map[string]any{".a": map[string]any{"extends": []any{".a", ".a"}}},
		},
		{
			name: "two parents back to the root",
			globals: map[string]any{
				".a": map[string]any{"extends": []any{".b", ".c"}},
				".b": map[string]any{"extends": ".a"},
				".c": map[string]any{"extends": ".a"},
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{"extends": ".a", "script": []any{"true"}}
			done := make(chan error, 1)
			go func() {
				_, err := Resolve("job", raw, tt.globals)
				done <- err
			}()
			select {
			case err := <-done:
				if !errors.Is(err, ErrInheritanceCycle) {
					t.Fatalf("err = %v, want ErrInheritanceCycle", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Resolve did not return")
			}
		})
	}
}

func TestFlattenDiamond(t *testing.T) {
	globals := map[string]any{
		".base": map[string]any{"variables": map[string]any{"BASE": "yes"}, "stage": "build"},
		".a":    map[string]any{"extends": ".base", "variables": map[string]any{"A": "1"}},
		".b":    map[string]any{"extends": ".base", "variables": map[string]any{"B": "2"}},
	}
	raw := map[string]any{"extends": []any{".a", ".b"}, "script": []any{"true"}}
	r, err := Resolve("job", raw, globals)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v := r.Config.Variables
	if v["BASE"] != "yes" || v["A"] != "1" || v["B"] != "2" {
		t.Errorf("Variables = %v", v)
	}
	if r.Config.Stage != "build" {
		t.Errorf("Stage = %q", r.Config.Stage)
	}
}

func TestResolveEmptyScript(t *testing.T) {
	globals := map[string]any{".base": map[string]any{"image": "alpine"}}
	_, err := Resolve("lint", map[string]any{"extends": ".base"}, globals)
	if !errors.Is(err, ErrEmptyScript) {
		t.Fatalf("err = %v, want ErrEmptyScript", err)
	}
	if !strings.Contains(err.Error(), "lint must have script specified") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestResolveDefaultBlock(t *testing.T) {
	globals := map[string]any{
		"default": map[string]any{
			"before_script": []any{"from-default"},
			"artifacts":     map[string]any{"paths": []any{"out/"}},
		},
		"image":        "legacy:1",
		"after_script": []any{"legacy-after"},
	}

	r, err := Resolve("a", map[string]any{"script": []any{"true"}}, globals)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cfg := r.Config
	if !reflect.DeepEqual([]string(cfg.BeforeScript), []string{"from-default"}) {
		t.Errorf("BeforeScript = %v", cfg.BeforeScript)
	}
	if !reflect.DeepEqual([]string(cfg.AfterScript), []string{"legacy-after"}) {
		t.Errorf("AfterScript = %v", cfg.AfterScript)
	}
	if cfg.Image == nil || cfg.Image.Name != "legacy:1" {
		t.Errorf("Image = %+v", cfg.Image)
	}
	if cfg.Artifacts == nil || !reflect.DeepEqual(cfg.Artifacts.Paths, []string{"out/"}) {
		t.Errorf("Artifacts = %+v", cfg.Artifacts)
	}

	// An explicit empty list disables the default.
	r, err = Resolve("b", map[string]any{"script": []any{"true"}, "before_script": []any{}}, globals)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(r.Config.BeforeScript) != 0 {
		t.Errorf("BeforeScript = %v, want empty", r.Config.BeforeScript)
	}
}

func TestResolveInvalidJob(t *testing.T) {
	raw := map[string]any{"script": []any{"true"}, "when": "sometimes"}
	_, err := Resolve("job", raw, nil)
	if !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("err = %v, want ErrInvalidJob", err)
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || len(ce.Details) == 0 {
		t.Errorf("expected validation details, got %+v", ce)
	}
}

func TestResolveReportsUnusedKeys(t *testing.T) {
	raw := map[string]any{"script": []any{"true"}, "tags": []any{"docker"}}
	r, err := Resolve("job", raw, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(r.Unused, []string{"tags"}) {
		t.Errorf("Unused = %v", r.Unused)
	}
}

// chain builds .f0 -> .f1 -> ... -> .f(n-1), each setting its own variable.
func chain(n int) map[string]any {
	globals := make(map[string]any, n)
	for i := 0; i < n; i++ {
		frag := map[string]any{"variables": map[string]any{fmt.Sprintf("f%d", i): "set"}}
		if i+1 < n {
			frag["extends"] = fmt.Sprintf(".f%d", i+1)
		}
		globals[fmt.Sprintf(".f%d", i)] = frag
	}
	return globals
}

// ring builds a cycle of n fragments.
func ring(n int) map[string]any {
	globals := chain(n)
	globals[fmt.Sprintf(".f%d", n-1)].(map[string]any)["extends"] = ".f0"
	return globals
}
