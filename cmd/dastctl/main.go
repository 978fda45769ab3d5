// Command dastctl drives DAST scans on a WebInspect-style scanner farm and
// pushes their results to a Fortify SSC-style vulnerability service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/dastctl/internal/domain/shared"
)

// Process exit codes.
const (
	exitOK               = 0
	exitFailure          = 1
	exitConfiguration    = 2
	exitTransport        = 3
	exitAuthentication   = 4
	exitRemoteJobFailure = 5
)

func main() {
	_, _ = maxprocs.Set()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(stdin, stdout, stderr)
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return exitFailure
	}
	switch shared.KindOf(err) {
	case shared.KindConfiguration:
		return exitConfiguration
	case shared.KindTransport:
		return exitTransport
	case shared.KindAuthentication:
		return exitAuthentication
	case shared.KindRemoteJobFailure:
		return exitRemoteJobFailure
	default:
		return exitFailure
	}
}
