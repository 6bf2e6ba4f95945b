package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nemanja-m/scheduler/internal/ctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctl.NewRootCmd(&ctl.App{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "schedctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
