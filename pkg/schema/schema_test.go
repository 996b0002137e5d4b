package schema

import (
	"encoding/json"
	"reflect"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

const samplePipeline = `
stages: [build, test]
variables:
  GLOBAL: one
  NUMBER: 3
  DESCRIBED:
    value: yes-please
    description: shown in the UI
.base:
  image: alpine:3.19
compile:
  stage: build
  extends: .base
  script:
    - make
lint:
  script: golangci-lint run
`

func TestLoadPipeline(t *testing.T) {
	p, err := Load(strings.NewReader(samplePipeline))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(p.Stages, []string{"build", "test"}) {
		t.Errorf("Stages = %v", p.Stages)
	}
	if !reflect.DeepEqual(p.JobNames, []string{"compile", "lint"}) {
		t.Errorf("JobNames = %v, want document order without hidden jobs", p.JobNames)
	}
	if _, ok := p.Globals[".base"]; !ok {
		t.Error("hidden fragment .base missing from globals")
	}
	if p.Variables["NUMBER"] != "3" {
		t.Errorf("NUMBER = %q, want 3", p.Variables["NUMBER"])
	}
	if p.Variables["DESCRIBED"] != "yes-please" {
		t.Errorf("DESCRIBED = %q", p.Variables["DESCRIBED"])
	}
	if p.MaxJobNameLength() != len("compile") {
		t.Errorf("MaxJobNameLength = %d", p.MaxJobNameLength())
	}
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/repo/.gitlab-ci.yml", []byte(samplePipeline), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadFile(fs, "/repo/.gitlab-ci.yml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !reflect.DeepEqual(p.JobNames, []string{"compile", "lint"}) {
		t.Errorf("JobNames = %v", p.JobNames)
	}

	_, err = LoadFile(fs, "/repo/missing.yml")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestLoadPipelineDefaultStages(t *testing.T) {
	p, err := Load(strings.NewReader("job:\n  script: [true]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(p.Stages, DefaultStages) {
		t.Errorf("Stages = %v, want %v", p.Stages, DefaultStages)
	}
}

func TestLoadPipelineRejectsScalarJob(t *testing.T) {
	if _, err := Load(strings.NewReader("job: echo\n")); err == nil {
		t.Error("expected error for a job that is not a mapping")
	}
}

func TestLoadPipelineEmpty(t *testing.T) {
	if _, err := Load(strings.NewReader("")); err == nil {
		t.Error("expected error for empty document")
	}
}

func TestDecodeVariants(t *testing.T) {
	raw := map[string]any{
		"image":       "node:20",
		"environment": "review",
		"script":      []any{"echo a", []any{"echo b", "echo c"}},
		"needs":       []any{"build", map[string]any{"job": "lint", "artifacts": true}},
		"variables":   map[string]any{"PORT": 8080, "FLAG": true},
		"cache":       map[string]any{"paths": []any{"node_modules"}},
		"tags":        []any{"docker"},
	}
	cfg, unused, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Image == nil || cfg.Image.Name != "node:20" {
		t.Errorf("Image = %+v", cfg.Image)
	}
	if cfg.Environment == nil || cfg.Environment.Name != "review" || cfg.Environment.URL != "" {
		t.Errorf("Environment = %+v", cfg.Environment)
	}
	if !reflect.DeepEqual([]string(cfg.Script), []string{"echo a", "echo b", "echo c"}) {
		t.Errorf("Script = %v", cfg.Script)
	}
	if !reflect.DeepEqual([]string(cfg.Needs), []string{"build", "lint"}) {
		t.Errorf("Needs = %v", cfg.Needs)
	}
	if cfg.Variables["PORT"] != "8080" || cfg.Variables["FLAG"] != "true" {
		t.Errorf("Variables = %v", cfg.Variables)
	}
	if cfg.Dependencies != nil {
		t.Errorf("Dependencies = %v, want nil when unspecified", cfg.Dependencies)
	}
	if !reflect.DeepEqual(unused, []string{"cache", "tags"}) {
		t.Errorf("unused = %v, want [cache tags]", unused)
	}
}

func TestDecodeStructuredForms(t *testing.T) {
	raw := map[string]any{
		"script":      "true",
		"image":       map[string]any{"name": "python:3", "entrypoint": []any{""}},
		"environment": map[string]any{"name": "prod", "url": "https://example.com"},
		"needs":       []any{},
	}
	cfg, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Image.Name != "python:3" || !reflect.DeepEqual(cfg.Image.Entrypoint, []string{""}) {
		t.Errorf("Image = %+v", cfg.Image)
	}
	if cfg.Environment.URL != "https://example.com" {
		t.Errorf("Environment = %+v", cfg.Environment)
	}
	if cfg.Needs == nil || len(cfg.Needs) != 0 {
		t.Errorf("Needs = %#v, want empty non-nil list", cfg.Needs)
	}
}

func TestNormalizeVariablesErrors(t *testing.T) {
	if _, err := NormalizeVariables("nope"); err == nil {
		t.Error("expected error for scalar variables block")
	}
	if _, err := NormalizeVariables(map[string]any{"A": map[string]any{"description": "x"}}); err == nil {
		t.Error("expected error for mapping without value")
	}
}

func TestWhenValid(t *testing.T) {
	for _, w := range []When{WhenOnSuccess, WhenManual, WhenNever, WhenAlways, WhenOnFailure} {
		if !w.Valid() {
			t.Errorf("%q should be valid", w)
		}
	}
	if When("sometimes").Valid() {
		t.Error("sometimes should not be valid")
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc["title"] != "gclocal job definition" {
		t.Errorf("title = %v", doc["title"])
	}
	if !strings.Contains(string(data), "on_failure") {
		t.Error("schema should enumerate when values")
	}
}

func TestValidateJob(t *testing.T) {
	valid := map[string]any{
		"script":    []any{"echo hi"},
		"image":     "alpine",
		"variables": map[string]any{"A": 1},
		"needs":     []any{map[string]any{"job": "build"}},
		"cache":     map[string]any{"key": "x"},
	}
	if errs := ValidateJob(valid); errs != nil {
		t.Errorf("unexpected errors: %v", errs)
	}

	invalid := map[string]any{
		"script": []any{"echo hi"},
		"when":   "sometimes",
	}
	errs := ValidateJob(invalid)
	if len(errs) == 0 {
		t.Fatal("expected validation error for unknown when")
	}
	found := false
	for _, e := range errs {
		if e.Path == "when" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error at path when, got %v", errs)
	}
}
