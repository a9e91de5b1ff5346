// Package main provides a command-line client that runs one generation call
// and prints its progress the way the panel's status log does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/kling-panel/internal/bootstrap"
	"github.com/maauso/kling-panel/internal/config"
	"github.com/maauso/kling-panel/internal/credential"
	"github.com/maauso/kling-panel/internal/generation"
)

type options struct {
	mode     string
	prompt   string
	negative string
	duration int
	start    string
	end      string
	frame    string
	out      string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("klingctl", flag.ContinueOnError)
	fs.StringVar(&o.mode, "mode", string(generation.ModeTextToVideo), "generation mode: t2v or i2v")
	fs.StringVar(&o.prompt, "prompt", "", "text prompt")
	fs.StringVar(&o.negative, "negative", "", "negative prompt")
	fs.IntVar(&o.duration, "duration", 5, "clip length in seconds: 5 or 10")
	fs.StringVar(&o.start, "start", "", "start image or video (i2v)")
	fs.StringVar(&o.end, "end", "", "end image or video (i2v, optional)")
	fs.StringVar(&o.frame, "frame", "", "frame to use from video references: first or last")
	fs.StringVar(&o.out, "out", "", "destination directory (default DOWNLOAD_DIR)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func (o options) request() generation.Request {
	req := generation.Request{
		Mode:            generation.Mode(o.mode),
		Prompt:          o.prompt,
		NegativePrompt:  o.negative,
		DurationSeconds: o.duration,
	}
	if o.start != "" {
		req.StartImage = &generation.ImageRef{Path: o.start, Frame: generation.FramePosition(o.frame)}
	}
	if o.end != "" {
		req.EndImage = &generation.ImageRef{Path: o.end, Frame: generation.FramePosition(o.frame)}
	}
	return req
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	req, err := opts.request().Validate()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Progress goes to stdout; logs only when something is wrong.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	creds, err := bootstrap.NewCredentialStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	key, err := creds.Get(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNotConfigured) {
			return errors.New("no API key: set REPLICATE_API_TOKEN or CREDENTIAL_FILE")
		}
		return err
	}

	printProgress := func(e generation.ProgressEvent) {
		fmt.Fprintf(stdout, "> %s\n", e.Message)
	}

	artifact, err := pipeline.Orchestrator.GenerateTo(ctx, req, key, opts.out, printProgress)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, artifact.LocalPath)
	return nil
}
