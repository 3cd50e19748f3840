package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"loopin/internal/app"
)

const commandTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "loopin",
		Short: "Team update notifications in your terminal",
		Long: `loopin keeps a push connection to the team-update server, shows
toasts for new updates and keeps a local inbox of the last notifications.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./loopin.yaml", "path to config (json or yaml)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newListCmd(&cfgPath),
		newReadCmd(&cfgPath),
		newSoundCmd(&cfgPath),
		newBannerCmd(&cfgPath),
	)
	return root
}

// withOffline runs fn against a started offline app and stops it afterwards.
func withOffline(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.NewApp(cfgPath, app.Options{Out: cmd.OutOrStdout(), Offline: true})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx, a)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, app.StopCommandDone)
	return runErr
}
