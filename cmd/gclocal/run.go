package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ormasoftchile/gclocal/pkg/counter"
	"github.com/ormasoftchile/gclocal/pkg/ctxlog"
	"github.com/ormasoftchile/gclocal/pkg/executor"
	"github.com/ormasoftchile/gclocal/pkg/job"
	"github.com/ormasoftchile/gclocal/pkg/trace"
	"github.com/ormasoftchile/gclocal/pkg/ui"
	"github.com/ormasoftchile/gclocal/pkg/workspace"
)

var runNoTrace bool

var runCmd = &cobra.Command{
	Use:   "run <job> [job...]",
	Short: "Run one or more jobs",
	Long: `Resolve every job of the pipeline, then run the named jobs concurrently.
A configuration error in any job aborts before anything executes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runNoTrace, "no-trace", false, "Do not record lifecycle events")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := ctxlog.FromContext(ctx)

	cwd, p, err := loadPipeline()
	if err != nil {
		return err
	}
	for _, name := range args {
		if _, ok := p.Jobs[name]; !ok {
			return fmt.Errorf("job %q not found in %s", name, flagFile)
		}
	}
	env, err := processEnv()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	layout := workspace.New(cwd)
	if err := workspace.EnsureDir(fs, layout.Dir()); err != nil {
		return err
	}
	store := counter.NewStore(fs, layout.StateFile())
	iid, err := store.Next(counter.PipelineIID)
	if err != nil {
		return err
	}
	logger.Debug("pipeline", "iid", iid, "cwd", cwd)

	b := newBuilder(p, iid, store.Counter(counter.JobID), env)
	b.Runtime = job.Runtime{
		Fs:      fs,
		Layout:  layout,
		Console: executor.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr()),
		Engine:  executor.NewDocker(os.Environ()),
	}
	if !runNoTrace {
		tw, err := trace.NewWriter(fs, layout.TraceFile())
		if err != nil {
			return err
		}
		defer tw.Close()
		b.Runtime.Recorder = tw
	}

	defs, err := defineAll(b, p)
	if err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}

	var jobs []*job.Job
	for _, def := range defs {
		if !slices.Contains(args, def.Name()) {
			continue
		}
		if def.IsNever() {
			b.Runtime.Console.Outln(ui.JobTag(def.Name(), b.MaxNameLength) + " " + ui.Faint.Render("skipped (when: never)"))
			continue
		}
		rt := b.Runtime
		rt.PipelineIID = iid
		rt.ProcessEnv = env
		rt.NameWidth = b.MaxNameLength
		jobs = append(jobs, job.New(def, rt))
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		faults *multierror.Error
	)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			if err := j.Start(ctx); err != nil {
				var execErr *job.ExecutionError
				if !errors.As(err, &execErr) {
					return err
				}
				logger.Debug("job fault", "job", execErr.Job, "phase", execErr.Phase, "error", execErr.Err)
				mu.Lock()
				faults = multierror.Append(faults, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed []string
	for _, j := range jobs {
		if !j.Success() {
			failed = append(failed, j.Name())
		}
	}
	if len(failed) > 0 {
		if faults != nil {
			logger.Warn("infrastructure faults", "count", len(faults.Errors))
		}
		return fmt.Errorf("job(s) failed: %s", strings.Join(failed, ", "))
	}
	return nil
}
