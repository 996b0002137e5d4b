package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/gclocal/pkg/trace"
	"github.com/ormasoftchile/gclocal/pkg/ui"
	"github.com/ormasoftchile/gclocal/pkg/workspace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect recorded job lifecycle events",
}

var traceShowCmd = &cobra.Command{
	Use:   "show [trace.jsonl]",
	Short: "Print the events of a trace file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTraceShow,
}

func init() {
	traceCmd.AddCommand(traceShowCmd)
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cwd, err := filepath.Abs(flagCwd)
		if err != nil {
			return err
		}
		path = workspace.New(cwd).TraceFile()
	}

	events, err := trace.Read(afero.NewOsFs(), path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ev := range events {
		line := fmt.Sprintf("%s  #%d  %-8d %s  %s",
			ev.Timestamp.Format("15:04:05.000"), ev.PipelineIID, ev.JobID, ev.Job, ui.Info.Render(ev.Type))
		if len(ev.Data) > 0 {
			line += "  " + ui.Faint.Render(fmt.Sprint(ev.Data))
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%d events\n", len(events))
	return nil
}
