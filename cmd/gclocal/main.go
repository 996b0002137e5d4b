package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/gclocal/pkg/ctxlog"
	"github.com/ormasoftchile/gclocal/pkg/schema"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Persistent flags.
var (
	flagCwd     string
	flagFile    string
	flagVars    []string
	flagVerbose bool
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets
// any variables that aren't already set in the environment.
// Lines are KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "gclocal",
	Short:         "Run GitLab CI jobs locally",
	Long:          "gclocal resolves jobs from a .gitlab-ci.yml and runs them in the host shell or in a single-use docker container.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		cmd.SetContext(ctxlog.WithLogger(commandContext(cmd), logger))
	},
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// pipelinePath resolves --file against --cwd.
func pipelinePath() (cwd string, file string, err error) {
	cwd, err = filepath.Abs(flagCwd)
	if err != nil {
		return "", "", fmt.Errorf("resolve --cwd: %w", err)
	}
	file = flagFile
	if !filepath.IsAbs(file) {
		file = filepath.Join(cwd, file)
	}
	return cwd, file, nil
}

func loadPipeline() (string, *schema.Pipeline, error) {
	cwd, file, err := pipelinePath()
	if err != nil {
		return "", nil, err
	}
	p, err := schema.LoadFile(afero.NewOsFs(), file)
	if err != nil {
		return "", nil, err
	}
	return cwd, p, nil
}

// processEnv is the operator environment handed to the core: the live
// environment plus --var overrides.
func processEnv() (map[string]string, error) {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for _, kv := range flagVars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the job definition JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gclocal %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCwd, "cwd", ".", "Pipeline working directory")
	rootCmd.PersistentFlags().StringVar(&flagFile, "file", ".gitlab-ci.yml", "Pipeline file, relative to --cwd")
	rootCmd.PersistentFlags().StringArrayVar(&flagVars, "var", nil, "Set a variable (KEY=VALUE), repeatable")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(traceCmd)
}
