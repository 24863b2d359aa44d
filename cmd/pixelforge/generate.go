package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/pixelforge/internal/bootstrap"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <path>...",
	Short: "Pre-generate the configured transforms for images in a volume",
	Long: `Pre-generate transforms in-process, without the worker queue.

Examples:
  pixelforge generate --volume uploads a.jpg b.jpg
  pixelforge generate --preset thumb --preset hero a.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringSlice("preset", nil, "preset handles to generate (defaults to the volume's generate list)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	volume, _ := cmd.Flags().GetString("volume")
	presets, _ := cmd.Flags().GetStringSlice("preset")

	return withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
		if len(presets) == 0 {
			presets = app.Registry.GenerateFor(volume)
		}
		if len(presets) == 0 {
			return fmt.Errorf("no transforms configured for volume %q", volume)
		}

		start := time.Now()
		var outputs []domain.GenerateOutput
		failed := 0
		for _, path := range args {
			src, err := app.Sources.Resolve(ctx, volume, path)
			if err != nil {
				logger.Printf("resolve failed path=%s err=%v", path, err)
				failed += len(presets)
				continue
			}
			for _, preset := range presets {
				out := domain.GenerateOutput{Path: path, Transform: preset}
				img, err := app.Pipeline.Transform(ctx, src, transform.Preset(preset, nil))
				if err != nil {
					failed++
					out.Error = err.Error()
				} else {
					out.Image = &img
				}
				outputs = append(outputs, out)
			}
		}

		logger.Printf("generate finished volume=%s outputs=%d failed=%d duration=%s", volume, len(outputs), failed, time.Since(start).Round(time.Millisecond))
		if err := printJSON(outputs); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d transforms failed", failed)
		}
		return nil
	})
}
