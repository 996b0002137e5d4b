// Package job builds immutable job definitions from pipeline configuration
// and runs them through their lifecycle.
package job

import (
	"maps"
	"slices"

	"github.com/ormasoftchile/gclocal/pkg/schema"
)

// Definition is a resolved job. It is immutable after Build; accessors
// return copies.
type Definition struct {
	name         string
	id           int
	stage        string
	stageIndex   int
	needs        []string
	dependencies []string

	beforeScripts []string
	scripts       []string
	afterScripts  []string

	image           string
	imageEntrypoint []string

	when         schema.When
	allowFailure bool
	rules        []schema.Rule

	artifacts   []string
	environment *schema.Environment
	variables   map[string]string
	unused      []string
}

func (d *Definition) Name() string { return d.name }

// ID is the job id taken from the job-id counter.
func (d *Definition) ID() int { return d.id }

func (d *Definition) Stage() string { return d.stage }

// StageIndex is the position of Stage in the pipeline stage list, or -1.
func (d *Definition) StageIndex() int { return d.stageIndex }

// Needs returns the declared needs; nil means unspecified.
func (d *Definition) Needs() []string { return slices.Clone(d.needs) }

// Dependencies returns the declared dependencies; nil means unspecified.
func (d *Definition) Dependencies() []string { return slices.Clone(d.dependencies) }

// ArtifactSources names the jobs whose artifacts this job consumes. needs
// takes precedence over dependencies when both are declared; nil means
// every job of an earlier stage.
func (d *Definition) ArtifactSources() []string {
	if d.needs != nil {
		return slices.Clone(d.needs)
	}
	return slices.Clone(d.dependencies)
}

func (d *Definition) BeforeScripts() []string { return slices.Clone(d.beforeScripts) }
func (d *Definition) Scripts() []string       { return slices.Clone(d.scripts) }
func (d *Definition) AfterScripts() []string  { return slices.Clone(d.afterScripts) }

// Image is the container image reference; empty means the host shell.
func (d *Definition) Image() string { return d.image }

// Containerized reports whether the job runs in a container.
func (d *Definition) Containerized() bool { return d.image != "" }

// ImageEntrypoint is the entrypoint override declared on the job's image.
// nil means the image's own entrypoint is used.
func (d *Definition) ImageEntrypoint() []string { return slices.Clone(d.imageEntrypoint) }

// When is the effective run decision after rule evaluation.
func (d *Definition) When() schema.When { return d.when }

// AllowFailure is the effective allow-failure policy after rule evaluation.
func (d *Definition) AllowFailure() bool { return d.allowFailure }

func (d *Definition) IsManual() bool { return d.when == schema.WhenManual }
func (d *Definition) IsNever() bool  { return d.when == schema.WhenNever }

func (d *Definition) Rules() []schema.Rule { return slices.Clone(d.rules) }

// ArtifactPaths returns the declared artifact paths, unexpanded.
func (d *Definition) ArtifactPaths() []string { return slices.Clone(d.artifacts) }

// Environment returns the deployment environment, if declared.
func (d *Definition) Environment() (schema.Environment, bool) {
	if d.environment == nil {
		return schema.Environment{}, false
	}
	return *d.environment, true
}

// Variables returns a copy of the frozen expanded variables.
func (d *Definition) Variables() map[string]string { return maps.Clone(d.variables) }

// Variable looks up one expanded variable.
func (d *Definition) Variable(name string) (string, bool) {
	v, ok := d.variables[name]
	return v, ok
}

// UnusedKeys lists configuration keys that were accepted but not modeled.
func (d *Definition) UnusedKeys() []string { return slices.Clone(d.unused) }
