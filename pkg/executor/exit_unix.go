//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

func exitStatus(err *exec.ExitError) ExitStatus {
	ws, ok := err.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: err.ExitCode()}
	}
	if ws.Signaled() {
		sig := int(ws.Signal())
		return ExitStatus{Code: 128 + sig, Signal: sig}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}
