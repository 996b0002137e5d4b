// Package resolve flattens job definitions: it follows extends references
// through named fragments, deep-merges them, and applies pipeline defaults.
package resolve

import (
	"fmt"

	"github.com/ormasoftchile/gclocal/pkg/schema"
)

// MaxDepth bounds the number of extends rounds. A definition that needs all
// MaxDepth rounds is rejected as a cycle.
const MaxDepth = 50

const (
	DefaultStage = "test"
	extendsKey   = "extends"
	defaultKey   = "default"
)

// legacyKeys may be set at the top level of a pipeline as job defaults.
var legacyKeys = []string{"before_script", "after_script", "image", "artifacts"}

// Resolved is a flattened, typed job definition.
type Resolved struct {
	Name   string
	Config *schema.JobConfig
	Flat   map[string]any // merged mapping before decoding
	Unused []string       // keys accepted but not modeled
}

// Resolve flattens a raw job definition against globals, validates it and
// applies defaults. globals is the whole pipeline document.
func Resolve(name string, raw map[string]any, globals map[string]any) (*Resolved, error) {
	flat, err := Flatten(name, raw, globals)
	if err != nil {
		return nil, err
	}

	if errs := schema.ValidateJob(flat); len(errs) > 0 {
		return nil, &ConfigError{Job: name, Kind: ErrInvalidJob, Details: errs}
	}

	cfg, unused, err := schema.Decode(flat)
	if err != nil {
		return nil, &ConfigError{Job: name, Kind: ErrInvalidJob, Err: err}
	}
	if err := applyDefaults(cfg, globals); err != nil {
		return nil, &ConfigError{Job: name, Kind: ErrInvalidJob, Err: err}
	}
	if len(cfg.Script) == 0 {
		return nil, &ConfigError{Job: name, Kind: ErrEmptyScript}
	}

	return &Resolved{Name: name, Config: cfg, Flat: flat, Unused: unused}, nil
}

// Flatten repeatedly replaces the definition with the merge of its parents
// followed by its own fields until no extends references remain.
func Flatten(name string, raw map[string]any, globals map[string]any) (map[string]any, error) {
	cur := deepCopyMap(raw)
	for i := 0; i < MaxDepth; i++ {
		rawRefs, ok := cur[extendsKey]
		if !ok {
			return cur, nil
		}
		refs, err := extendsList(rawRefs)
		if err != nil {
			return nil, &ConfigError{Job: name, Kind: ErrInvalidJob, Err: err}
		}

		merged := make(map[string]any)
		var parentRefs []any
		seen := make(map[string]bool)
		for _, ref := range refs {
			fragment, ok := globals[ref].(map[string]any)
			if !ok {
				return nil, &ConfigError{Job: name, Kind: ErrUnknownFragment, Fragment: ref}
			}
			merged = Merge(merged, fragment)
			// Parents' own references are all kept for the next round, not
			// just the last parent's, each name once.
			if next, ok := fragment[extendsKey]; ok {
				nextRefs, err := extendsList(next)
				if err != nil {
					return nil, &ConfigError{Job: name, Kind: ErrInvalidJob, Err: fmt.Errorf("%s: %w", ref, err)}
				}
				for _, r := range nextRefs {
					if seen[r] {
						continue
					}
					seen[r] = true
					parentRefs = append(parentRefs, r)
				}
			}
		}
		delete(merged, extendsKey)
		delete(cur, extendsKey)

		cur = Merge(merged, cur)
		if len(parentRefs) > 0 {
			cur[extendsKey] = parentRefs
		}
	}
	return nil, &ConfigError{Job: name, Kind: ErrInheritanceCycle}
}

// Merge deep-merges src over dst and returns a new map. Nested mappings are
// merged key by key; scalars and sequences from src replace dst wholesale.
// Neither input is modified.
func Merge(dst, src map[string]any) map[string]any {
	out := deepCopyMap(dst)
	if out == nil {
		out = make(map[string]any, len(src))
	}
	for k, sv := range src {
		srcMap, srcIsMap := sv.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = Merge(dstMap, srcMap)
			continue
		}
		out[k] = deepCopy(sv)
	}
	return out
}

func extendsList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("extends: expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("extends: expected string or list, got %T", raw)
	}
}

// applyDefaults fills unset keys from the default block, then from legacy
// top-level keys, then from built-in defaults.
func applyDefaults(cfg *schema.JobConfig, globals map[string]any) error {
	var def *schema.JobConfig
	if raw, ok := globals[defaultKey].(map[string]any); ok {
		d, _, err := schema.Decode(raw)
		if err != nil {
			return fmt.Errorf("default: %w", err)
		}
		def = d
	} else {
		def = &schema.JobConfig{}
	}

	legacyRaw := make(map[string]any)
	for _, k := range legacyKeys {
		if v, ok := globals[k]; ok {
			legacyRaw[k] = v
		}
	}
	legacy, _, err := schema.Decode(legacyRaw)
	if err != nil {
		return fmt.Errorf("top-level defaults: %w", err)
	}

	if cfg.BeforeScript == nil {
		cfg.BeforeScript = firstList(def.BeforeScript, legacy.BeforeScript)
	}
	if cfg.AfterScript == nil {
		cfg.AfterScript = firstList(def.AfterScript, legacy.AfterScript)
	}
	if cfg.Image == nil {
		if def.Image != nil {
			cfg.Image = def.Image
		} else {
			cfg.Image = legacy.Image
		}
	}
	if cfg.Artifacts == nil {
		if def.Artifacts != nil {
			cfg.Artifacts = def.Artifacts
		} else {
			cfg.Artifacts = legacy.Artifacts
		}
	}
	if cfg.Stage == "" {
		cfg.Stage = DefaultStage
	}
	if cfg.When == "" {
		cfg.When = schema.WhenOnSuccess
	}
	return nil
}

func firstList(lists ...schema.StringList) schema.StringList {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
