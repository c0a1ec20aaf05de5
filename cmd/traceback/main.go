// Command traceback is the operator CLI: it triages a question, searches the
// evidence corpus and inspects lineage using the same wiring as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	v "github.com/linnemanlabs/go-core/version"
)

const appName = "traceback"
const component = "cli"

func main() {
	v.AppName = appName
	v.Component = component

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
