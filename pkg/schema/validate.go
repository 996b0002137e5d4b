package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic
	Path     string `json:"path"`  // JSON-pointer-like location (e.g., "rules/0/when")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

const jobSchemaURL = "job-v0.json"

var (
	compileOnce sync.Once
	jobSchema   *sjsonschema.Schema
	compileErr  error
)

func compiledJobSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		schemaJSON, err := GenerateJSONSchema()
		if err != nil {
			compileErr = fmt.Errorf("generate schema: %w", err)
			return
		}
		var schemaDoc any
		if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(jobSchemaURL, schemaDoc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		jobSchema, compileErr = c.Compile(jobSchemaURL)
	})
	return jobSchema, compileErr
}

// ValidateJob checks a flattened job mapping against the job JSON Schema.
// Returns nil when the mapping is valid.
func ValidateJob(raw map[string]any) []*ValidationError {
	sch, err := compiledJobSchema()
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: err.Error(), Severity: "error"}}
	}

	// Round-trip through JSON so YAML scalars become JSON-compatible values.
	data, err := json.Marshal(raw)
	if err != nil {
		return []*ValidationError{{
			Phase:    "structural",
			Message:  fmt.Sprintf("marshal for schema validation: %v", err),
			Severity: "error",
		}}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{
			Phase:    "structural",
			Message:  fmt.Sprintf("unmarshal document: %v", err),
			Severity: "error",
		}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{Phase: "semantic", Message: err.Error(), Severity: "error"})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
