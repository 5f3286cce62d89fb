// Command epp-hostdelete checks that an EPP server deletes a host object.
//
// It logs in with the configured registrar account, deletes the configured
// host, logs out and reports each step. The exit status is 0 when the check
// passes or is skipped, 1 when it fails and 2 on usage or configuration
// errors.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// exitError carries a process exit status out of a command run.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUsage
}
