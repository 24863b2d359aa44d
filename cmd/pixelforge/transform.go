package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelforge/internal/bootstrap"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/spf13/cobra"
)

var transformCmd = &cobra.Command{
	Use:   "transform <path> <preset|WxH|key=value...>",
	Short: "Produce one transformed image and print its descriptor",
	Long: `Produce one transformed image and print its descriptor.

Examples:
  pixelforge transform team/alice.jpg thumb
  pixelforge transform team/alice.jpg 800x600
  pixelforge transform team/alice.jpg w=300 h=200 fit=crop format=webp`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)
}

func runTransform(cmd *cobra.Command, args []string) error {
	volume, _ := cmd.Flags().GetString("volume")
	in, err := parseInput(args[1:])
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(ctx context.Context, app *bootstrap.App) error {
		src, err := app.Sources.Resolve(ctx, volume, args[0])
		if err != nil {
			return err
		}
		img, err := app.Pipeline.Transform(ctx, src, in)
		if err != nil {
			return err
		}
		return printJSON(img)
	})
}

// parseInput reads a single preset handle or size shorthand, or a list of
// key=value parameters.
func parseInput(args []string) (transform.Input, error) {
	if len(args) == 1 && !strings.Contains(args[0], "=") {
		if strings.Contains(args[0], "x") && strings.IndexFunc(args[0], func(r rune) bool {
			return r != 'x' && (r < '0' || r > '9')
		}) < 0 {
			return transform.Shorthand(args[0]), nil
		}
		return transform.Preset(args[0], nil), nil
	}

	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return transform.Input{}, fmt.Errorf("expected key=value, got %q", arg)
		}
		params[strings.TrimSpace(key)] = value
	}
	return transform.Params(params), nil
}
