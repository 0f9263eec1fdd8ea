// snmpctl queries SNMPv2c agents from the command line.
//
// It supports get, getNext, set and subtree walks against one or more hosts,
// plus an interactive shell that keeps a single session open.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Graceful shutdown on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Getenv).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
