package main

import (
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/lysyi3m/wire-comb/app/cfg"
)

var opts cfg.Options

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "News wire ingestion"
	parser.LongDescription = "Fetches headlines from a news provider, enriches and deduplicates them into sqlite, " +
		"and runs the scheduled latest, daily, maintenance and health jobs."
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		setupLogging(&opts)
		if command == nil {
			return nil
		}
		return command.Execute(args)
	}

	registerCommands(parser)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(opts *cfg.Options) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if opts.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}
