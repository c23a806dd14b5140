// File: cmd/ghostwire/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/ghostwire/cmd"
)

// osExit is swapped out in tests.
var osExit = os.Exit

func main() {
	// Ctrl+C cancels the run; sessions still restore and close on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := exitCode(cmd.Execute(ctx))
	stop()
	osExit(code)
}

// exitCode maps the command outcome to a process status. An interrupted run
// is a clean exit.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	default:
		return 1
	}
}
