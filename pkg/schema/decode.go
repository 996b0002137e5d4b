package schema

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
)

var (
	stringListType  = reflect.TypeOf(StringList(nil))
	variablesType   = reflect.TypeOf(Variables(nil))
	imageType       = reflect.TypeOf(Image{})
	environmentType = reflect.TypeOf(Environment{})
)

// Decode converts a flattened job mapping into a JobConfig. Keys the
// engine does not model are returned as unused rather than rejected, so
// real-world pipeline files (cache, tags, services, ...) still load.
func Decode(raw map[string]any) (*JobConfig, []string, error) {
	var cfg JobConfig
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           &cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       variantHook,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, nil, fmt.Errorf("decode job: %w", err)
	}
	sort.Strings(md.Unused)
	return &cfg, md.Unused, nil
}

// variantHook normalizes the short forms GitLab accepts for polymorphic
// keys into the structured shape of the target type.
func variantHook(from, to reflect.Type, data any) (any, error) {
	switch to {
	case stringListType:
		return flattenStrings(data)
	case variablesType:
		return NormalizeVariables(data)
	case imageType:
		if s, ok := data.(string); ok {
			return map[string]any{"name": s}, nil
		}
	case environmentType:
		if s, ok := data.(string); ok {
			return map[string]any{"name": s}, nil
		}
	}
	return data, nil
}
