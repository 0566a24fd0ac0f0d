package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"navsync/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "navsync:", err)
		stop()
		os.Exit(1)
	}
}
