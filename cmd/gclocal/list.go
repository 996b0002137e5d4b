package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/gclocal/pkg/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the resolved jobs of the pipeline",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	_, p, err := loadPipeline()
	if err != nil {
		return err
	}
	env, err := processEnv()
	if err != nil {
		return err
	}

	b := newBuilder(p, 0, memoryCounter(), env)
	defs, err := defineAll(b, p)
	if err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}

	width := max(b.MaxNameLength, len("name"))
	stageWidth := len("stage")
	for _, def := range defs {
		stageWidth = max(stageWidth, len(def.Stage()))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Headline.Render(strings.Join([]string{
		ui.PadName("name", width),
		ui.PadName("stage", stageWidth),
		ui.PadName("when", len("on_failure")),
		ui.PadName("allow_failure", len("allow_failure")),
		"needs",
	}, "  ")))
	for _, def := range defs {
		needs := ""
		if n := def.Needs(); n != nil {
			needs = "[" + strings.Join(n, ",") + "]"
		}
		fmt.Fprintln(out, strings.Join([]string{
			ui.JobTag(def.Name(), width),
			ui.PadName(def.Stage(), stageWidth),
			ui.PadName(string(def.When()), len("on_failure")),
			ui.PadName(strconv.FormatBool(def.AllowFailure()), len("allow_failure")),
			needs,
		}, "  "))
	}
	return nil
}
