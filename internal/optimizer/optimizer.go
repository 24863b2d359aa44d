package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrExecutableNotFound = errors.New("optimizer executable not found")

type Settings struct {
	Path    string   `yaml:"path"`
	Options []string `yaml:"options"`
	// Formats limits the optimizer to these output formats; empty means all.
	Formats []string `yaml:"formats"`
}

func (s Settings) Applies(format string) bool {
	if len(s.Formats) == 0 {
		return true
	}
	for _, f := range s.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

type Optimizer interface {
	Optimize(ctx context.Context, file string, s Settings) error
}

// InPlace runs "<path> <options...> <file>" for tools that rewrite the file
// they are given.
type InPlace struct{}

func (InPlace) Optimize(ctx context.Context, file string, s Settings) error {
	args := append(append([]string{}, s.Options...), file)
	return run(ctx, s.Path, args)
}

// OutFile runs "<path> <options...> <flag> <tmp> <file>" for tools that
// write their result elsewhere, then moves the result over file.
type OutFile struct {
	Flag string
}

func (o OutFile) Optimize(ctx context.Context, file string, s Settings) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+"-*.opt")
	if err != nil {
		return fmt.Errorf("create optimizer output: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	args := append(append([]string{}, s.Options...), o.Flag, tmpPath, file)
	if err := run(ctx, s.Path, args); err != nil {
		return err
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		// Tools may skip writing when they cannot improve the file.
		return nil
	}
	if err := os.Rename(tmpPath, file); err != nil {
		return fmt.Errorf("replace optimized file: %w", err)
	}
	return nil
}

func run(ctx context.Context, path string, args []string) error {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, resolved, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(output.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("run %s: %w: %s", filepath.Base(path), err, msg)
	}
	return nil
}

type Builtin struct {
	Optimizer Optimizer
	Settings  Settings
}

// Builtins are the optimizers known by handle with their default settings.
func Builtins() map[string]Builtin {
	return map[string]Builtin{
		"jpegoptim": {InPlace{}, Settings{Path: "jpegoptim", Options: []string{"-s", "--all-progressive"}, Formats: []string{"jpg"}}},
		"jpegtran":  {OutFile{Flag: "-outfile"}, Settings{Path: "jpegtran", Options: []string{"-optimize", "-copy", "none"}, Formats: []string{"jpg"}}},
		"mozjpeg":   {OutFile{Flag: "-outfile"}, Settings{Path: "/opt/mozjpeg/bin/jpegtran", Options: []string{"-optimize", "-copy", "none"}, Formats: []string{"jpg"}}},
		"optipng":   {InPlace{}, Settings{Path: "optipng", Options: []string{"-o2"}, Formats: []string{"png"}}},
		"pngquant":  {OutFile{Flag: "--output"}, Settings{Path: "pngquant", Options: []string{"--force", "--strip"}, Formats: []string{"png"}}},
		"gifsicle":  {InPlace{}, Settings{Path: "gifsicle", Options: []string{"-O3", "-b"}, Formats: []string{"gif"}}},
	}
}
