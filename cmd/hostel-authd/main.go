// hostel-authd serves the password auth API used by hostel clients and the
// admin approval endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/authd"
	"github.com/goliatone/go-hostel/config"
	"github.com/goliatone/go-hostel/database"
	"github.com/goliatone/go-hostel/identity/local"
	"github.com/goliatone/go-hostel/metrics"
	"github.com/goliatone/go-hostel/profiles"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var configPath, addr string

	flagSet := pflag.NewFlagSet("hostel-authd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default $HOSTEL_CONFIG)")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides authd.addr")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Authd.Addr = addr
	}
	if err := cfg.ValidateDaemon(); err != nil {
		return err
	}

	loggers := hostel.NewLoggerProvider("hostel-authd", cfg.LogLevel)
	logger := loggers.GetLogger("hostel-authd")

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	authority, err := local.NewAuthority(db, cfg.LocalAuthority(), local.WithLoggerProvider(loggers))
	if err != nil {
		return err
	}
	store := profiles.NewStore(db,
		profiles.WithLoggerProvider(loggers),
		profiles.WithPhoneRegion(cfg.Session.PhoneRegion),
	)

	if err := authority.CreateSchema(ctx); err != nil {
		return err
	}
	if err := store.CreateSchema(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New()
	if err := collector.Register(registry); err != nil {
		return err
	}

	server := authd.New(authority, store,
		authd.WithLoggerProvider(loggers),
		authd.WithMetrics(collector, registry),
		authd.WithRateLimit(cfg.Authd.RateLimit, cfg.Authd.RateBurst),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.Authd.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
