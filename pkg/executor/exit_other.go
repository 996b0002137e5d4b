//go:build !unix

package executor

import "os/exec"

func exitStatus(err *exec.ExitError) ExitStatus {
	code := err.ExitCode()
	if code < 0 {
		code = 1
	}
	return ExitStatus{Code: code}
}
