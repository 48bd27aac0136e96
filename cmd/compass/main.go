package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := run(ctx, a, newRootCommand(a)); err != nil {
		stop()
		os.Exit(1)
	}
}
