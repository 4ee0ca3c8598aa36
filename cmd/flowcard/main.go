package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/card"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/debug"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/hass"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/metrics"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/server"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/storage"
)

func main() {
	// flags can also come from a .env file next to the binary
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// init packages
	m := metrics.NewRegistry()
	s := storage.Configured()
	hc := hass.Configured()
	feed := hass.ConfiguredStatestream()
	c := card.Configured(hc, s, m)
	console := debug.Configured(c)

	// init server
	srv := server.Configured(c, m)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if !s.Enabled() {
			return
		}
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	if hc.Enabled() {
		g.Go(func() error {
			return hc.Run(gctx, c.Sink(gctx, "hass"))
		})
	}
	if feed.Enabled() {
		g.Go(func() error {
			return feed.Run(gctx, c.Sink(gctx, "mqtt"))
		})
	}
	if !hc.Enabled() && !feed.Enabled() {
		log.Ctx(ctx).WarnContext(ctx, "no state source configured, set hass-token or mqtt-broker")
	}
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if console.Enabled() {
		g.Go(func() error {
			return console.Run(gctx, cancel)
		})
	}

	// Wait blocks until every component returned; the first error cancels
	// the rest
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "flowcard failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "flowcard exited cleanly")
}
