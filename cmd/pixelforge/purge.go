package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelforge/internal/bootstrap"
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge [path]",
	Short: "Drop cached transforms for one image, or everything with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volume, _ := cmd.Flags().GetString("volume")
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return errors.New("a path or --all is required")
		}

		return withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
			if all {
				removed, err := app.Pipeline.PurgeAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d cached transforms\n", removed)
				return nil
			}
			src, err := app.Sources.Resolve(ctx, volume, args[0])
			if err != nil {
				return err
			}
			removed, err := app.Pipeline.Purge(ctx, src)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d cached transforms for %s\n", removed, args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().Bool("all", false, "purge the whole local cache")
}
