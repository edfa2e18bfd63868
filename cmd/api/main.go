package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/agent-relay/internal/handler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		addr    string
	)

	root := &cobra.Command{
		Use:          "agent-relay",
		Short:        "Relay browser chat messages to a hosted agent",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context(), envFile)
			if err != nil {
				return err
			}
			defer app.Close()

			if addr != "" {
				app.cfg.Server.Addr = addr
			}

			router := handler.NewRouter(app.relay, app.cfg.Server.Title, app.logger)
			return startServer(cmd.Context(), app.cfg.Server.Addr, router, app.logger)
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.Flags().StringVar(&addr, "addr", "", "listen address, overrides PORT")

	root.AddCommand(newChatCmd(&envFile))
	return root
}
