package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gaborage/condfetch/internal/commands"
)

var version = "dev" // Will be set during build

func main() {
	rootCmd := &cobra.Command{
		Use:   "condfetch",
		Short: "Conditional HTTP fetches with exponential backoff",
		Long: `Fetches HTTP resources with If-Modified-Since preconditions built from stored
Last-Modified markers, retrying failures with exponential backoff.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		commands.NewFetchCommand(),
		commands.NewVersionCommand(version),
	)

	// Ctrl-C interrupts a backoff wait instead of killing the process mid-write.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
