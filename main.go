// stratum-proxy accepts many mining clients over the stratum protocol
// and shares upstream work between them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stratumproxy/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "stratum-proxy: %v\n", err)
		os.Exit(1)
	}
}
