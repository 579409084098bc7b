package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/irgordon/whisper/api/internal/cli"
)

func main() {
	// Ctrl-C abandons a --wait without leaving the process hanging
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
