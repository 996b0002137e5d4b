// Package workspace owns the hidden per-pipeline directory where jobs
// materialize their scripts, environment files and logs.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DirName is the hidden directory under the pipeline root.
const DirName = ".gitlab-ci-local"

const (
	execMode = os.FileMode(0o777)
	fileMode = os.FileMode(0o644)
	dirMode  = os.FileMode(0o755)
)

// Layout resolves the job-scoped files under <root>/.gitlab-ci-local/.
type Layout struct {
	Root string // pipeline working directory
}

// New returns the layout for the pipeline rooted at cwd.
func New(cwd string) Layout {
	return Layout{Root: cwd}
}

// Dir is the hidden directory itself.
func (l Layout) Dir() string { return filepath.Join(l.Root, DirName) }

func (l Layout) ShellFile(job string) string {
	return filepath.Join(l.Dir(), "shell", job+".sh")
}

func (l Layout) EntrypointFile(job string) string {
	return filepath.Join(l.Dir(), "entrypoint", job+".sh")
}

func (l Layout) EnvFile(job string) string {
	return filepath.Join(l.Dir(), "envs", ".env-"+job)
}

func (l Layout) LogFile(job string) string {
	return filepath.Join(l.Dir(), "output", job+".log")
}

func (l Layout) StateFile() string { return filepath.Join(l.Dir(), "state.yml") }

func (l Layout) TraceFile() string { return filepath.Join(l.Dir(), "trace.jsonl") }

// WriteExecutable truncates path and writes content with mode 0777.
func WriteExecutable(fs afero.Fs, path, content string) error {
	if err := writeFile(fs, path, []byte(content), execMode); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file.
	if err := fs.Chmod(path, execMode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// WriteEnvFile truncates path and writes one KEY=VALUE line per entry,
// sorted by key. Values are JSON-escaped without the surrounding quotes.
func WriteEnvFile(fs afero.Fs, path string, vars map[string]string) error {
	return writeFile(fs, path, []byte(FormatEnv(vars)), fileMode)
}

// FormatEnv renders vars in env-file form.
func FormatEnv(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escapeValue(vars[k]))
		b.WriteByte('\n')
	}
	return b.String()
}

func escapeValue(v string) string {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return strings.TrimSuffix(strings.TrimPrefix(string(data), `"`), `"`)
}

// CreateLog truncates the job log and opens it for appending.
func CreateLog(fs afero.Fs, path string) (afero.File, error) {
	if err := fs.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return f, nil
}

// EnsureDir creates dir and its parents.
func EnsureDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func writeFile(fs afero.Fs, path string, data []byte, mode os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := afero.WriteFile(fs, path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
