package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"walktour/pkg/version"
)

const defaultConfigPath = "configs/walktour.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "walktour: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "walktour",
		Short:         "Generate narrated walking tour scripts and audio",
		Version:       version.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config")

	root.AddCommand(
		newServeCmd(&configPath),
		newGenerateCmd(&configPath),
		newCancelCmd(&configPath),
		newPruneCmd(&configPath),
		newInitConfigCmd(&configPath),
	)
	return root
}
