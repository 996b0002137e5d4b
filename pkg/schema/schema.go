// Package schema defines the Go struct types for CI job definitions and
// provides pipeline document loading, JSON Schema export and validation.
package schema

import (
	"fmt"
	"sort"
)

// When is the run decision of a job.
type When string

const (
	WhenOnSuccess When = "on_success"
	WhenManual    When = "manual"
	WhenNever     When = "never"
	WhenAlways    When = "always"
	WhenOnFailure When = "on_failure"
)

// Valid reports whether w is one of the known run decisions.
func (w When) Valid() bool {
	switch w {
	case WhenOnSuccess, WhenManual, WhenNever, WhenAlways, WhenOnFailure:
		return true
	}
	return false
}

// JobConfig is a job definition after inheritance has been flattened.
// Fragments (hidden jobs, the default block) share the same shape.
type JobConfig struct {
	Description  string       `yaml:"description,omitempty"   json:"description,omitempty"`
	Extends      StringList   `yaml:"extends,omitempty"       json:"extends,omitempty"`
	Stage        string       `yaml:"stage,omitempty"         json:"stage,omitempty"`
	Image        *Image       `yaml:"image,omitempty"         json:"image,omitempty"`
	BeforeScript StringList   `yaml:"before_script,omitempty" json:"before_script,omitempty"`
	Script       StringList   `yaml:"script,omitempty"        json:"script,omitempty"`
	AfterScript  StringList   `yaml:"after_script,omitempty"  json:"after_script,omitempty"`
	Variables    Variables    `yaml:"variables,omitempty"     json:"variables,omitempty"`
	Rules        []Rule       `yaml:"rules,omitempty"         json:"rules,omitempty"`
	When         When         `yaml:"when,omitempty"          json:"when,omitempty" jsonschema:"enum=on_success,enum=manual,enum=never,enum=always,enum=on_failure"`
	AllowFailure bool         `yaml:"allow_failure,omitempty" json:"allow_failure,omitempty"`
	Needs        StringList   `yaml:"needs,omitempty"         json:"needs,omitempty"`
	Dependencies StringList   `yaml:"dependencies,omitempty"  json:"dependencies,omitempty"`
	Artifacts    *Artifacts   `yaml:"artifacts,omitempty"     json:"artifacts,omitempty"`
	Environment  *Environment `yaml:"environment,omitempty"   json:"environment,omitempty"`
}

// StringList accepts either a single string or a (possibly nested) list of
// strings. Nested lists are flattened, as GitLab does for script anchors.
type StringList []string

// Image is the container image a job runs in. Written either as a bare
// reference or as {name, entrypoint}.
type Image struct {
	Name       string   `yaml:"name"                 json:"name" jsonschema:"required"`
	Entrypoint []string `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
}

// Environment is the deployment environment of a job. Written either as a
// bare name or as {name, url}; always normalized to the structured form.
type Environment struct {
	Name string `yaml:"name"          json:"name" jsonschema:"required"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Artifacts lists paths copied back to the host after a containerized run.
// Paths may contain variable references.
type Artifacts struct {
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty"`
}

// Rule is a single conditional clause of a job's rules list.
type Rule struct {
	If           string `yaml:"if,omitempty"            json:"if,omitempty"`
	When         When   `yaml:"when,omitempty"          json:"when,omitempty" jsonschema:"enum=on_success,enum=manual,enum=never,enum=always,enum=on_failure"`
	AllowFailure *bool  `yaml:"allow_failure,omitempty" json:"allow_failure,omitempty"`
}

// Variables maps variable names to raw (unexpanded) values.
type Variables map[string]string

// Keys returns the variable names in sorted order.
func (v Variables) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeVariables converts a decoded YAML variables block into
// Variables. Values may be scalars or {value, description} mappings.
func NormalizeVariables(raw any) (Variables, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("variables: expected mapping, got %T", raw)
	}
	out := make(Variables, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case map[string]any:
			inner, ok := val["value"]
			if !ok {
				return nil, fmt.Errorf("variables.%s: mapping form requires a value key", k)
			}
			out[k] = fmt.Sprint(inner)
		case []any:
			return nil, fmt.Errorf("variables.%s: lists are not supported", k)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// flattenStrings turns a string or nested list into a flat string slice.
// Mapping items contribute their "job" key, the shape needs entries take.
func flattenStrings(raw any) ([]string, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for i, item := range val {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case []any:
				nested, err := flattenStrings(it)
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			case map[string]any:
				name, ok := it["job"].(string)
				if !ok {
					return nil, fmt.Errorf("item %d: mapping without a job name", i)
				}
				out = append(out, name)
			case nil:
				continue
			default:
				out = append(out, fmt.Sprint(it))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", raw)
	}
}
