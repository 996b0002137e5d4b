package job

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ormasoftchile/gclocal/pkg/counter"
	"github.com/ormasoftchile/gclocal/pkg/resolve"
	"github.com/ormasoftchile/gclocal/pkg/schema"
	"github.com/ormasoftchile/gclocal/pkg/vars"
)

// Builder turns raw job definitions of one pipeline run into Jobs.
type Builder struct {
	Stages          []string
	Globals         map[string]any
	GlobalVariables schema.Variables
	PipelineIID     int
	JobIDs          counter.Counter
	User            map[string]string // GITLAB_USER_LOGIN, _EMAIL, _NAME
	// ProcessEnv is the invoking operator's environment. It wins during
	// expansion and for host-shell jobs but is never frozen into the
	// job's variables.
	ProcessEnv    map[string]string
	MaxNameLength int
	Expander      vars.Expander
	Rules         vars.RuleEvaluator
	Runtime       Runtime
}

// Build resolves raw against the pipeline and returns a pending Job.
func (b *Builder) Build(name string, raw map[string]any) (*Job, error) {
	def, err := b.Define(name, raw)
	if err != nil {
		return nil, err
	}
	rt := b.Runtime
	rt.PipelineIID = b.PipelineIID
	if rt.ProcessEnv == nil {
		rt.ProcessEnv = b.ProcessEnv
	}
	if rt.NameWidth < b.MaxNameLength {
		rt.NameWidth = b.MaxNameLength
	}
	return New(def, rt), nil
}

// Define resolves raw into an immutable Definition. Variables are expanded
// and rules evaluated exactly once here.
func (b *Builder) Define(name string, raw map[string]any) (*Definition, error) {
	resolved, err := resolve.Resolve(name, raw, b.Globals)
	if err != nil {
		return nil, err
	}
	cfg := resolved.Config

	id, err := b.JobIDs.Next()
	if err != nil {
		return nil, fmt.Errorf("%s: next job id: %w", name, err)
	}

	def := &Definition{
		name:          name,
		id:            id,
		stage:         cfg.Stage,
		stageIndex:    slices.Index(b.Stages, cfg.Stage),
		needs:         []string(cfg.Needs),
		dependencies:  []string(cfg.Dependencies),
		beforeScripts: []string(cfg.BeforeScript),
		scripts:       []string(cfg.Script),
		afterScripts:  []string(cfg.AfterScript),
		when:          cfg.When,
		allowFailure:  cfg.AllowFailure,
		rules:         cfg.Rules,
		unused:        resolved.Unused,
	}
	if cfg.Image != nil {
		def.image = cfg.Image.Name
		def.imageEntrypoint = cfg.Image.Entrypoint
	}
	if cfg.Artifacts != nil {
		def.artifacts = cfg.Artifacts.Paths
	}

	predefined := predefinedVariables(name, def.stage, id, b.PipelineIID, b.User)

	env := make(map[string]string)
	maps.Copy(env, b.GlobalVariables)
	maps.Copy(env, cfg.Variables)
	maps.Copy(env, predefined)
	maps.Copy(env, b.ProcessEnv)

	expander := b.Expander
	if expander == nil {
		expander = vars.ShellExpander{}
	}
	snapshot := expander.Expand(b.GlobalVariables, env)
	if snapshot == nil {
		snapshot = make(map[string]string)
	}
	maps.Copy(snapshot, expander.Expand(cfg.Variables, env))
	maps.Copy(snapshot, predefined)

	if cfg.Environment != nil {
		environment := schema.Environment{
			Name: vars.ExpandText(cfg.Environment.Name, snapshot),
			URL:  vars.ExpandText(cfg.Environment.URL, snapshot),
		}
		def.environment = &environment
		snapshot["CI_ENVIRONMENT_NAME"] = environment.Name
		if environment.URL != "" {
			snapshot["CI_ENVIRONMENT_URL"] = environment.URL
		}
	}
	def.variables = snapshot

	if len(cfg.Rules) > 0 {
		rules := b.Rules
		if rules == nil {
			rules = vars.ExprRules{}
		}
		decision, err := rules.Evaluate(cfg.Rules, snapshot)
		if err != nil {
			return nil, &resolve.ConfigError{Job: name, Kind: resolve.ErrInvalidJob, Err: err}
		}
		def.when = decision.When
		if decision.AllowFailure != nil {
			def.allowFailure = *decision.AllowFailure
		}
	}

	return def, nil
}
