package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/gclocal/pkg/resolve"
	"github.com/ormasoftchile/gclocal/pkg/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Resolve and validate every job of the pipeline",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, p, err := loadPipeline()
	if err != nil {
		return err
	}
	env, err := processEnv()
	if err != nil {
		return err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	// Rules are evaluated too, so a bad if: clause fails here and not at run.
	b := newBuilder(p, 0, memoryCounter(), env)
	var result *multierror.Error
	for _, name := range p.JobNames {
		def, err := b.Define(name, p.Jobs[name])
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if unused := def.UnusedKeys(); len(unused) > 0 {
			fmt.Fprintf(errOut, "  %s %s: unsupported keys ignored: %s\n",
				ui.Warning.Render("⚠"), name, strings.Join(unused, ", "))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		fmt.Fprintf(errOut, "Validation failed: %d error(s)\n\n", len(result.Errors))
		for i, e := range result.Errors {
			fmt.Fprintf(errOut, "  %d. %s\n", i+1, e)
			var cfgErr *resolve.ConfigError
			if errors.As(e, &cfgErr) {
				for _, d := range cfgErr.Details {
					if d.Path != "" {
						fmt.Fprintf(errOut, "     at: %s\n", d.Path)
					}
				}
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
	}
	fmt.Fprintf(out, "%s %s is valid (%d jobs, %d stages)\n",
		ui.Success.Render("✓"), flagFile, len(p.JobNames), len(p.Stages))
	return nil
}
