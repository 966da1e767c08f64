package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/camrelay/camrelay"
)

func createRunCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the relay daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := camrelay.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			app, err := camrelay.NewApp(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
}
