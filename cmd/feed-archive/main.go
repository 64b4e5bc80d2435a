// Command feed-archive mirrors RSS and Atom feeds into append-only archives,
// serves them to peers and renders them back out as RSS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/feed-archive/config"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	DataDir   string `help:"Directory holding archives. Empty keeps everything in memory." default:"${data_dir}"`
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"${log_level}"`
	LogFormat string `help:"Log format." enum:"text,json" default:"${log_format}"`

	Version kong.VersionFlag `help:"Print version and exit."`

	ctx    context.Context `kong:"-"`
	cfg    config.Config   `kong:"-"`
	logger *slog.Logger    `kong:"-"`
}

type CLI struct {
	Globals

	Update UpdateCmd `cmd:"" help:"Mirror a feed from a URL or file into an archive."`
	Push   PushCmd   `cmd:"" help:"Add a single entry to an archive."`
	List   ListCmd   `cmd:"" help:"List the entries of an archive."`
	XML    XMLCmd    `cmd:"" name:"xml" help:"Render an archive as RSS."`
	Meta   MetaCmd   `cmd:"" help:"Show or replace the feed metadata of an archive."`
	Clone  CloneCmd  `cmd:"" help:"Replicate an archive from a peer."`
	Keys   KeysCmd   `cmd:"" help:"List the archives held locally."`
	Serve  ServeCmd  `cmd:"" help:"Serve archives over HTTP and keep configured feeds current."`
}

func main() {
	cfg, err := config.Load(config.DefaultFiles()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("feed-archive"),
		kong.Description("Mirror syndication feeds into content-addressed archives."),
		kong.UsageOnError(),
		kong.Vars{
			"version":       version,
			"data_dir":      cfg.DataDir,
			"log_level":     cfg.LogLevel,
			"log_format":    cfg.LogFormat,
			"address":       cfg.Address,
			"recency_limit": strconv.Itoa(cfg.RecencyLimit),
			"poll_interval": cfg.PollInterval.String(),
			"scrap":         strconv.FormatBool(cfg.Scrap),
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		kctx.FatalIfErrorf(err)
	}
	slog.SetDefault(logger)

	cli.ctx = ctx
	cli.cfg = cfg
	cli.logger = logger

	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

func newLogger(logLevel, logFormat string) (*slog.Logger, error) {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", logLevel)
	}

	var handler slog.Handler
	switch logFormat {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", logFormat)
	}
	return slog.New(handler), nil
}
