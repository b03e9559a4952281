package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimburion/docops/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx, cli.NewCommand(cli.Options{
		Name:        "docops",
		Description: "Typed operations over document stores with a keyed query cache",
		ConfigPath:  os.Getenv("DOCOPS_CONFIG_FILE"),
	}))
}
