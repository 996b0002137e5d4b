package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ormasoftchile/gclocal/pkg/ctxlog"
	"github.com/ormasoftchile/gclocal/pkg/executor"
	"github.com/ormasoftchile/gclocal/pkg/trace"
	"github.com/ormasoftchile/gclocal/pkg/ui"
	"github.com/ormasoftchile/gclocal/pkg/vars"
	"github.com/ormasoftchile/gclocal/pkg/workspace"
)

// Recorder receives lifecycle events. *trace.Writer implements it.
type Recorder interface {
	Write(ev trace.Event) error
}

// Runtime is everything a job needs to execute. Nothing in it is read
// from ambient process state.
type Runtime struct {
	Fs          afero.Fs
	Layout      workspace.Layout
	Console     *executor.Console
	Engine      executor.ContainerEngine
	Runner      executor.StreamRunner
	ProcessEnv  map[string]string
	Recorder    Recorder // nil disables tracing
	PipelineIID int
	NameWidth   int
	Now         func() time.Time
}

// ExecutionError is an infrastructure fault that ended a job without an
// exit code from its scripts: pull, create, copy or spawn failures.
type ExecutionError struct {
	Job   string
	Phase string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.Job, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Job is a Definition plus its runtime state.
type Job struct {
	def *Definition
	rt  Runtime

	mu          sync.Mutex
	state       State
	success     bool
	preExit     int
	afterExit   int
	containerID string
}

// New returns a pending job for def.
func New(def *Definition, rt Runtime) *Job {
	if rt.Fs == nil {
		rt.Fs = afero.NewOsFs()
	}
	if rt.Runner == nil {
		rt.Runner = &executor.RealExecutor{}
	}
	if rt.Now == nil {
		rt.Now = time.Now
	}
	return &Job{def: def, rt: rt, success: true}
}

func (j *Job) Definition() *Definition { return j.def }
func (j *Job) Name() string            { return j.def.name }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) Started() bool { return j.State() != Pending }
func (j *Job) Running() bool { return j.State() == Running }

func (j *Job) Finished() bool { return j.State().Terminal() }

// Success is true until a failure that is not allowed clears it.
func (j *Job) Success() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.success
}

func (j *Job) PreScriptsExitCode() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.preExit
}

func (j *Job) AfterScriptsExitCode() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.afterExit
}

// ContainerID is the id of the job's container while it exists.
func (j *Job) ContainerID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.containerID
}

func (j *Job) transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !canTransition(j.state, to) {
		return fmt.Errorf("%s: %s -> %s: %w", j.def.name, j.state, to, ErrInvalidTransition)
	}
	j.state = to
	return nil
}

// Start runs before-scripts and scripts, then after-scripts, copies
// artifacts and tears down the container. Non-zero exits are classified
// into the job's terminal state and reported on the console; only
// infrastructure faults return an error (*ExecutionError).
func (j *Job) Start(ctx context.Context) error {
	if err := j.transition(Running); err != nil {
		return err
	}
	start := j.rt.Now()
	log := ctxlog.FromContext(ctx).With("job", j.def.name, "job_id", j.def.id)
	j.record(ctx, trace.JobStart, map[string]any{"image": j.def.image, "stage": j.def.stage})

	logFile, err := workspace.CreateLog(j.rt.Fs, j.rt.Layout.LogFile(j.def.name))
	if err != nil {
		return j.fault(ctx, start, "log", err)
	}
	defer logFile.Close()
	out := j.rt.Console.JobOutput(j.tag(), logFile)

	where := "in shell..."
	if j.def.Containerized() {
		where = "in docker..."
	}
	j.rt.Console.Outln(j.tag() + " " + ui.Status.Render("starting") + " " + ui.Info.Render(where))

	teardown := func() {}
	if j.def.Containerized() {
		var once sync.Once
		teardown = func() { once.Do(func() { j.removeContainer(ctx) }) }
		defer teardown()

		if err := j.ensureImage(ctx); err != nil {
			return j.fault(ctx, start, "pull", err)
		}
	}

	pre, err := j.execScripts(ctx, append(j.def.BeforeScripts(), j.def.scripts...), true, out)
	out.Close()
	if err != nil {
		return j.fault(ctx, start, "script", err)
	}
	j.mu.Lock()
	j.preExit = pre.Code
	j.mu.Unlock()
	j.record(ctx, trace.JobScriptExit, map[string]any{"phase": "script", "code": pre.Code, "signal": pre.Signal})
	if pre.Signaled() {
		log.Warn("script terminated by signal", "signal", pre.Signal, "code", pre.Code)
	}

	allow := j.def.allowFailure
	if pre.Code > 0 && len(j.def.afterScripts) == 0 {
		j.rt.Console.Errln(j.exitedLine(start, pre.Code, allow, ""))
		if allow {
			if err := j.copyArtifacts(ctx); err != nil {
				return j.fault(ctx, start, "artifacts", err)
			}
		}
		teardown()
		return j.finish(ctx, allow)
	}
	if pre.Code > 0 {
		j.rt.Console.Errln(j.exitedLine(start, pre.Code, allow, ""))
	}

	if len(j.def.afterScripts) > 0 {
		after, err := j.execScripts(ctx, j.def.AfterScripts(), false, out)
		out.Close()
		if err != nil {
			return j.fault(ctx, start, "after_script", err)
		}
		j.mu.Lock()
		j.afterExit = after.Code
		j.mu.Unlock()
		j.record(ctx, trace.JobScriptExit, map[string]any{"phase": "after_script", "code": after.Code, "signal": after.Signal})
		if after.Code > 0 {
			j.rt.Console.Errln(j.exitedLine(start, after.Code, true, " (after_script)"))
		}
	}

	if err := j.copyArtifacts(ctx); err != nil {
		return j.fault(ctx, start, "artifacts", err)
	}
	teardown()

	if pre.Code == 0 {
		j.rt.Console.Outln(j.finishedLine(start))
	}
	return j.finish(ctx, pre.Code == 0 || allow)
}

// finish moves to the terminal state. A failed main script is an allowed
// failure when ok is true; otherwise success is cleared.
func (j *Job) finish(ctx context.Context, ok bool) error {
	j.mu.Lock()
	failed := j.preExit > 0
	if !ok {
		j.success = false
	}
	j.mu.Unlock()

	to := Success
	switch {
	case !ok:
		to = Failed
	case failed:
		to = AllowedFailure
	}
	if err := j.transition(to); err != nil {
		return err
	}
	j.record(ctx, trace.JobFinish, map[string]any{"state": to.String()})
	return nil
}

// fault ends the job on an infrastructure error.
func (j *Job) fault(ctx context.Context, start time.Time, phase string, err error) error {
	allow := j.def.allowFailure
	msg := ui.Failure.Render("exited with error: " + err.Error())
	to := Failed
	if allow {
		msg = ui.Warning.Render("warning with error: " + err.Error())
		to = AllowedFailure
	} else {
		j.mu.Lock()
		j.success = false
		j.mu.Unlock()
	}
	j.rt.Console.Errln(j.finishedLine(start) + " " + msg)
	if terr := j.transition(to); terr != nil {
		return terr
	}
	j.record(ctx, trace.JobFinish, map[string]any{"state": to.String(), "phase": phase, "error": err.Error()})
	return &ExecutionError{Job: j.def.name, Phase: phase, Err: err}
}

// execScripts materializes lines as the job script and runs it. The first
// containerized run creates and populates the container; later runs reuse
// the stopped container with a regenerated script.
func (j *Job) execScripts(ctx context.Context, lines []string, first bool, out executor.JobOutput) (executor.ExitStatus, error) {
	fs, layout, name := j.rt.Fs, j.rt.Layout, j.def.name
	shellPath := layout.ShellFile(name)
	if err := workspace.WriteExecutable(fs, shellPath, executor.BuildScript(lines)); err != nil {
		return executor.ExitStatus{}, err
	}
	envPath := layout.EnvFile(name)
	if err := workspace.WriteEnvFile(fs, envPath, j.def.variables); err != nil {
		return executor.ExitStatus{}, err
	}

	if !j.def.Containerized() {
		return j.rt.Runner.Stream(ctx, executor.Command{
			Name:   shellPath,
			Dir:    layout.Root,
			Env:    executor.EnvList(j.def.variables, j.rt.ProcessEnv),
			Stdout: out.Stdout,
			Stderr: out.Stderr,
		})
	}

	engine := j.rt.Engine
	container := executor.ContainerName(name)
	if first {
		entrypoint := j.def.ImageEntrypoint()
		if entrypoint == nil {
			ep, err := engine.Entrypoint(ctx, j.def.image)
			if err != nil {
				return executor.ExitStatus{}, err
			}
			entrypoint = ep
		}
		entrypointPath := layout.EntrypointFile(name)
		if err := workspace.WriteExecutable(fs, entrypointPath, executor.BuildEntrypoint(nonEmpty(entrypoint))); err != nil {
			return executor.ExitStatus{}, err
		}

		id, err := engine.Create(ctx, executor.CreateOptions{
			Name:       container,
			Image:      j.def.image,
			Workdir:    executor.ContainerWorkdir,
			EnvFile:    envPath,
			Entrypoint: "./" + executor.EntrypointName(name),
			Cmd:        []string{"./" + executor.ScriptName(name)},
		})
		if err != nil {
			return executor.ExitStatus{}, err
		}
		j.mu.Lock()
		j.containerID = id
		j.mu.Unlock()

		if err := engine.CopyIn(ctx, entrypointPath, container, executor.ContainerWorkdir+executor.EntrypointName(name)); err != nil {
			return executor.ExitStatus{}, err
		}
		if err := engine.CopyIn(ctx, shellPath, container, executor.ContainerWorkdir+executor.ScriptName(name)); err != nil {
			return executor.ExitStatus{}, err
		}
		if err := engine.CopyIn(ctx, layout.Root+"/.", container, executor.ContainerWorkdir+"."); err != nil {
			return executor.ExitStatus{}, err
		}
	} else if err := engine.CopyIn(ctx, shellPath, container, executor.ContainerWorkdir+executor.ScriptName(name)); err != nil {
		return executor.ExitStatus{}, err
	}

	return engine.Start(ctx, container, out.Stdout, out.Stderr)
}

func (j *Job) ensureImage(ctx context.Context) error {
	ok, err := j.rt.Engine.ImageExists(ctx, j.def.image)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	j.rt.Console.Outln(j.tag() + " " + ui.Info.Render("pulling "+j.def.image))
	return j.rt.Engine.Pull(ctx, j.def.image)
}

// copyArtifacts copies each declared path out of the container into the
// same relative directory on the host. Paths are expanded against the
// job's frozen variables.
func (j *Job) copyArtifacts(ctx context.Context) error {
	if !j.def.Containerized() || len(j.def.artifacts) == 0 {
		return nil
	}
	container := executor.ContainerName(j.def.name)
	for _, p := range j.def.artifacts {
		p = vars.ExpandText(p, j.def.variables)
		target := filepath.Join(j.rt.Layout.Root, filepath.Dir(p))
		if err := workspace.EnsureDir(j.rt.Fs, target); err != nil {
			return err
		}
		if err := j.rt.Engine.CopyOut(ctx, container, executor.ContainerWorkdir+p, target); err != nil {
			return err
		}
	}
	return nil
}

// removeContainer force-removes the job's container. It runs even when the
// job's context is cancelled; failures are only logged.
func (j *Job) removeContainer(ctx context.Context) {
	container := executor.ContainerName(j.def.name)
	if err := j.rt.Engine.Remove(context.WithoutCancel(ctx), container); err != nil {
		ctxlog.FromContext(ctx).Warn("container teardown failed", "job", j.def.name, "container", container, "error", err)
	}
	j.mu.Lock()
	j.containerID = ""
	j.mu.Unlock()
}

func (j *Job) record(ctx context.Context, typ string, data map[string]any) {
	if j.rt.Recorder == nil {
		return
	}
	ev := trace.Event{
		Type:        typ,
		Timestamp:   j.rt.Now(),
		PipelineIID: j.rt.PipelineIID,
		JobID:       j.def.id,
		Job:         j.def.name,
		Data:        data,
	}
	if err := j.rt.Recorder.Write(ev); err != nil {
		ctxlog.FromContext(ctx).Warn("trace write failed", "job", j.def.name, "error", err)
	}
}

func (j *Job) tag() string { return ui.JobTag(j.def.name, j.rt.NameWidth) }

func (j *Job) finishedLine(start time.Time) string {
	elapsed := j.rt.Now().Sub(start)
	return j.tag() + " " + ui.Status.Render("finished") + " in " + ui.Elapsed.Render(ui.FormatDuration(elapsed))
}

func (j *Job) exitedLine(start time.Time, code int, warning bool, suffix string) string {
	if warning {
		return j.finishedLine(start) + " " + ui.Warning.Render(fmt.Sprintf("warning with code %d%s", code, suffix))
	}
	return j.finishedLine(start) + " " + ui.Failure.Render(fmt.Sprintf("exited with code %d%s", code, suffix))
}

func nonEmpty(args []string) []string {
	var out []string
	for _, a := range args {
		if strings.TrimSpace(a) != "" {
			out = append(out, a)
		}
	}
	return out
}
