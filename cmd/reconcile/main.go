// reconcile runs presence reconciliation outside the API process, for
// deployments that set RECONCILE_INTERVAL=0 on the server and schedule this
// binary (or run it as a sidecar) instead.
//
// With --once it performs a single pass, prints the result as JSON, and exits.
// Otherwise it runs on --interval until SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/MGallo-Code/roomgate/internal/clock"
	"github.com/MGallo-Code/roomgate/internal/config"
	"github.com/MGallo-Code/roomgate/internal/fanout"
	"github.com/MGallo-Code/roomgate/internal/presence"
	"github.com/MGallo-Code/roomgate/internal/store"
)

type options struct {
	redisURL     string
	presenceTTL  time.Duration
	interval     time.Duration
	storeTimeout time.Duration
	logLevel     string
	once         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads args into options. REDIS_URL is the fallback for --redis-url.
func parseFlags(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	flagSet.StringVar(&opts.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis connection URL (default $REDIS_URL)")
	flagSet.DurationVar(&opts.presenceTTL, "presence-ttl", presence.DefaultTTL, "inactivity window after which a member is pruned")
	flagSet.DurationVar(&opts.interval, "interval", time.Minute, "time between passes")
	flagSet.DurationVar(&opts.storeTimeout, "store-timeout", 2*time.Second, "per-call Redis timeout")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn, or error")
	flagSet.BoolVar(&opts.once, "once", false, "run a single pass and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", extra[0])
	}
	if opts.redisURL == "" {
		return opts, errors.New("--redis-url or REDIS_URL is required")
	}
	if opts.presenceTTL <= 0 || opts.interval <= 0 {
		return opts, errors.New("--presence-ttl and --interval must be positive")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(opts.logLevel),
	})))

	rdb, err := store.NewRedisClient(ctx, opts.redisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	tracker := presence.New(store.NewRedisStore(rdb, opts.storeTimeout), opts.presenceTTL, clock.Real(), fanout.NewRedisPublisher(rdb, opts.storeTimeout))
	rec := presence.NewReconciler(tracker, opts.interval)

	if opts.once {
		res, err := rec.RunOnce(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(res)
	}

	slog.Info("presence reconciler started", "interval", opts.interval, "presence_ttl", opts.presenceTTL)
	if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("presence reconciler stopped")
	return nil
}
