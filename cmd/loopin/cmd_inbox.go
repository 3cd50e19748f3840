package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loopin/internal/app"
	"loopin/internal/session"
)

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the local notification inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				snap, err := a.Session().Snapshot(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.Terminal().List(snap.Records, snap.Badge))
				return nil
			})
		},
	}
}

func newReadCmd(cfgPath *string) *cobra.Command {
	var all bool
	c := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark one notification (or --all) as read",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("pass an id or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("an id is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if all {
					n, err := a.Session().MarkAllRead(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "marked %d notifications read\n", n)
					return nil
				}
				changed, err := a.Session().MarkRead(ctx, args[0])
				if errors.Is(err, session.ErrUnknownRecord) {
					return fmt.Errorf("no notification with id %q", args[0])
				}
				if err != nil {
					return err
				}
				if changed {
					fmt.Fprintln(out, "marked read")
				} else {
					fmt.Fprintln(out, "already read")
				}
				return nil
			})
		},
	}
	c.Flags().BoolVar(&all, "all", false, "mark every notification read")
	return c
}

func newSoundCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "sound on|off",
		Short:     "Turn the toast sound on or off",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on := args[0] == "on"
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				if err := a.Session().SetSound(ctx, on); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sound %s\n", args[0])
				return nil
			})
		},
	}
}

func newBannerCmd(cfgPath *string) *cobra.Command {
	var openID string
	c := &cobra.Command{
		Use:   "banner",
		Short: "Fetch and show the recent updates panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				p := a.Banner()
				defer p.Close()
				v := p.Open(ctx)
				if v.Err != nil {
					return v.Err
				}
				if openID == "" {
					return nil
				}
				if err := p.Click(ctx, openID); err != nil {
					return err
				}
				// Navigation is debounced; wait for it to fire.
				select {
				case <-time.After(a.Settings().Banner.NavigateDebounce + 50*time.Millisecond):
				case <-ctx.Done():
				}
				return nil
			})
		},
	}
	c.Flags().StringVar(&openID, "open", "", "open the update with this id after loading")
	return c
}
