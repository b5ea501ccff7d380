package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/Strob0t/EventForge/internal/adapter/otel"
	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/logger"
)

// Version is the application version (set via ldflags).
var Version = "dev"

// Run parses args and runs the selected command until it finishes or a
// termination signal arrives.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	app := kingpin.New("eventforge", "Event and convention data extraction service.")
	app.Version(Version)
	app.DefaultEnvars()
	configPath := app.Flag("config", "YAML configuration file.").Default(config.DefaultConfigFile).String()

	serveCmd := app.Command("serve", "Run the HTTP API.").Default()

	extractCmd := app.Command("extract", "Run one extraction and print its events as JSON lines.")
	extract := extractOptions{}
	extractCmd.Arg("urls", "Pages to extract from.").Required().StringsVar(&extract.URLs)
	extractCmd.Flag("strategy", "agent or direct.").Default("agent").StringVar(&extract.Strategy)
	extractCmd.Flag("provider", "LLM provider; empty uses the configured default.").StringVar(&extract.Provider)

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Extraction output owns stdout, so logs move to stderr.
	logOut := stdout
	if cmdName == extractCmd.FullCommand() {
		logOut = stderr
	}
	log, closer := logger.NewWithWriter(cfg.Logging, logOut)
	defer closer.Close()
	slog.SetDefault(log.With("version", Version))

	shutdownOTel, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.registry.Wait(wctx); err != nil {
			slog.Warn("background runs still active at exit", "error", err)
		}
	}()

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				slog.Info("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	switch cmdName {
	case serveCmd.FullCommand():
		addServeActors(ctx, &g, a)
	case extractCmd.FullCommand():
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := runExtract(ctx, a, extract, stdout); err != nil {
					return fmt.Errorf("extract command failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func main() {
	if err := Run(context.Background(), os.Args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
