package main

import (
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/ormasoftchile/gclocal/pkg/counter"
	"github.com/ormasoftchile/gclocal/pkg/job"
	"github.com/ormasoftchile/gclocal/pkg/schema"
	"github.com/ormasoftchile/gclocal/pkg/vars"
)

var userKeys = []string{"GITLAB_USER_LOGIN", "GITLAB_USER_EMAIL", "GITLAB_USER_NAME"}

// newBuilder wires a job builder for one invocation over p.
func newBuilder(p *schema.Pipeline, pipelineIID int, ids counter.Counter, env map[string]string) *job.Builder {
	user := make(map[string]string)
	for _, k := range userKeys {
		if v := env[k]; v != "" {
			user[k] = v
		}
	}
	return &job.Builder{
		Stages:          p.Stages,
		Globals:         p.Globals,
		GlobalVariables: p.Variables,
		PipelineIID:     pipelineIID,
		JobIDs:          ids,
		User:            user,
		ProcessEnv:      env,
		MaxNameLength:   p.MaxJobNameLength(),
		Expander:        vars.ShellExpander{},
		Rules:           vars.ExprRules{},
	}
}

// defineAll resolves every job of p in document order. Configuration
// errors of all jobs are collected before returning.
func defineAll(b *job.Builder, p *schema.Pipeline) ([]*job.Definition, error) {
	var (
		defs   []*job.Definition
		result *multierror.Error
	)
	for _, name := range p.JobNames {
		def, err := b.Define(name, p.Jobs[name])
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, result.ErrorOrNil()
}

// memoryCounter hands out job ids without touching the persisted state, for
// commands that resolve jobs but never run them.
func memoryCounter() counter.Counter {
	return counter.NewStore(afero.NewMemMapFs(), "state.yml").Counter(counter.JobID)
}
