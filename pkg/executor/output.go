package executor

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/ormasoftchile/gclocal/pkg/ui"
)

// Console serializes whole lines from many jobs onto the host streams.
type Console struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// NewConsole returns a Console writing to stdout and stderr.
func NewConsole(stdout, stderr io.Writer) *Console {
	return &Console{stdout: stdout, stderr: stderr}
}

// Outln writes one line to stdout.
func (c *Console) Outln(line string) { c.writeLine(c.stdout, line) }

// Errln writes one line to stderr.
func (c *Console) Errln(line string) { c.writeLine(c.stderr, line) }

func (c *Console) writeLine(w io.Writer, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, line)
}

// JobOutput is the pair of writers a job's process output is attached to.
type JobOutput struct {
	Stdout *LineWriter
	Stderr *LineWriter
}

// Close flushes partial trailing lines of both streams.
func (o JobOutput) Close() {
	o.Stdout.Close()
	o.Stderr.Close()
}

// JobOutput returns line writers tagged with the job's column. Each full
// line also goes verbatim to log.
func (c *Console) JobOutput(tag string, log io.Writer) JobOutput {
	shared := &syncWriter{w: log}
	return JobOutput{
		Stdout: &LineWriter{console: c, err: false, tag: tag, marker: ui.OutMark.Render(">"), log: shared},
		Stderr: &LineWriter{console: c, err: true, tag: tag, marker: ui.ErrMark.Render(">"), log: shared},
	}
}

// LineWriter buffers process output and emits it one full line at a time.
// Empty lines are dropped.
type LineWriter struct {
	console *Console
	err     bool
	tag     string
	marker  string
	log     io.Writer

	mu  sync.Mutex
	buf []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Close emits any buffered partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emit(raw []byte) {
	line := string(bytes.TrimSuffix(raw, []byte("\r")))
	if line == "" {
		return
	}
	out := w.tag + " "
	if !IsEcho(line) {
		out += w.marker + " "
	}
	out += line
	if w.err {
		w.console.Errln(out)
	} else {
		w.console.Outln(out)
	}
	if w.log != nil {
		// Log write failures are ignored.
		_, _ = io.WriteString(w.log, line+"\n")
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	if s.w == nil {
		return len(p), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
