package executor

import (
	"regexp"
	"strings"
)

// Container-side paths.
const (
	ContainerWorkdir = "/gcl-wrk/"
	containerPrefix  = "gitlab-ci-local-job-"
)

// EchoPrefix starts every echoed command line in a generated script.
const EchoPrefix = "\x1b[32m$"

const (
	echoReset     = "\x1b[0m"
	collapsedNote = " # collapsed multi-line command"
)

var containerNameRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ContainerName derives the container name for job. Two jobs with the same
// name must not run at the same time.
func ContainerName(job string) string {
	return containerPrefix + containerNameRe.ReplaceAllString(job, "-")
}

// ScriptName is the in-container file name of a job's script.
func ScriptName(job string) string { return "gitlab-ci-local-shell-" + job }

// EntrypointName is the in-container file name of a job's entrypoint wrapper.
func EntrypointName(job string) string { return "gitlab-ci-local-entrypoint-" + job + ".sh" }

// BuildScript renders lines as a POSIX shell script that aborts on the
// first failing command. Each command is preceded by a green echo of its
// first line.
func BuildScript(lines []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n\n")
	for _, line := range lines {
		split := splitLines(line)
		note := ""
		if len(split) > 1 {
			note = collapsedNote
		}
		b.WriteString("printf '%s\\n' \"")
		b.WriteString(EchoPrefix)
		b.WriteString(" ")
		b.WriteString(escapeDoubleQuoted(split[0]))
		b.WriteString(note)
		b.WriteString(echoReset)
		b.WriteString("\"\n")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// BuildEntrypoint renders the container entrypoint wrapper. The image's own
// entrypoint, if any, runs first; the job command then replaces the shell.
func BuildEntrypoint(original []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n\n")
	if len(original) > 0 {
		quoted := make([]string, len(original))
		for i, arg := range original {
			quoted[i] = shellQuote(arg)
		}
		b.WriteString(strings.Join(quoted, " "))
		b.WriteString("\n")
	}
	b.WriteString("exec \"$@\"\n")
	return b.String()
}

// IsEcho reports whether an output line is an echoed command marker.
func IsEcho(line string) bool {
	return strings.HasPrefix(line, EchoPrefix)
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func escapeDoubleQuoted(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return r.Replace(s)
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '-' || r == '_' || r == '.' || r == '=' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
