// hostelctl drives the hostel session manager from the command line.
//
//	hostelctl [--config file] [--local] <login|register|logout|whoami> [flags]
//
// The session is kept in a file between runs, so a login survives until
// logout or until the refresh token expires.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/activitymap"
	"github.com/goliatone/go-hostel/config"
	"github.com/goliatone/go-hostel/database"
	"github.com/goliatone/go-hostel/identity"
	"github.com/goliatone/go-hostel/identity/gotrue"
	"github.com/goliatone/go-hostel/identity/local"
	"github.com/goliatone/go-hostel/metrics"
	"github.com/goliatone/go-hostel/profiles"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath  string
	auditFile   string
	metricsFile string
	local       bool
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var global globalFlags

	flagSet := pflag.NewFlagSet("hostelctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&global.configPath, "config", "", "path to a YAML config file (default $HOSTEL_CONFIG)")
	flagSet.BoolVar(&global.local, "local", false, "run the identity authority in process instead of calling the auth server")
	flagSet.StringVar(&global.auditFile, "audit-file", "", "append activity records as JSON lines to this file")
	flagSet.StringVar(&global.metricsFile, "metrics-file", "", "write auth event counters to this file in Prometheus text format on exit")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(flagSet)
		return fmt.Errorf("missing command")
	}

	command, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cmdFlags := pflag.NewFlagSet("hostelctl "+rest[0], pflag.ContinueOnError)
	action := command(cmdFlags)
	if err := cmdFlags.Parse(rest[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(global.configPath)
	if err != nil {
		return err
	}
	if global.local {
		cfg.Identity.Local = true
	}

	env, err := open(ctx, cfg, global)
	if err != nil {
		return err
	}
	defer env.close()

	actionErr := action(ctx, env.manager)
	if err := env.flush(); err != nil {
		return err
	}
	if actionErr != nil {
		return actionErr
	}
	return writeState(stdout, env.manager.State())
}

// environment is everything a command runs against.
type environment struct {
	manager *hostel.SessionManager
	flush   func() error
	close   func()
}

func open(ctx context.Context, cfg *config.Config, global globalFlags) (*environment, error) {
	loggers := hostel.NewLoggerProvider("hostelctl", cfg.LogLevel)

	var sinks hostel.MultiActivitySink
	var closers []func()
	if global.auditFile != "" {
		f, err := os.OpenFile(global.auditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		sinks = append(sinks, activitymap.NewJSONLinesSink(f, activitymap.WithActorFallback("hostelctl")))
		closers = append(closers, func() { _ = f.Close() })
	}

	flush := func() error { return nil }
	if global.metricsFile != "" {
		registry := prometheus.NewRegistry()
		collector := metrics.New()
		if err := collector.Register(registry); err != nil {
			closeAll(closers)
			return nil, err
		}
		sinks = append(sinks, collector)
		flush = func() error {
			return prometheus.WriteToTextfile(global.metricsFile, registry)
		}
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	closers = append(closers, func() { _ = db.Close() })

	store := profiles.NewStore(db,
		profiles.WithLoggerProvider(loggers),
		profiles.WithPhoneRegion(cfg.Session.PhoneRegion),
	)

	var (
		backend   identity.Backend
		inspector identity.TokenInspector = identity.UnverifiedInspector{}
	)

	if cfg.Identity.Local {
		authority, err := local.NewAuthority(db, cfg.LocalAuthority(), local.WithLoggerProvider(loggers))
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		for _, create := range []func(context.Context) error{authority.CreateSchema, store.CreateSchema} {
			if err := create(ctx); err != nil {
				closeAll(closers)
				return nil, err
			}
		}
		backend = authority
		inspector = identity.NewHMACInspector([]byte(cfg.GetSigningKey()))
	} else {
		backend = gotrue.New(gotrue.Config{URL: cfg.Identity.URL, APIKey: cfg.Identity.APIKey})
		if cfg.Identity.JWKSURL != "" {
			jwks, err := identity.NewJWKSInspector(cfg.Identity.JWKSURL)
			if err != nil {
				closeAll(closers)
				return nil, err
			}
			inspector = jwks
			closers = append(closers, jwks.Close)
		}
	}

	sessionFile, err := sessionPath(cfg.Identity.SessionFile)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	client := identity.NewClient(backend,
		identity.WithStorage(identity.NewFileStorage(sessionFile)),
		identity.WithTokenInspector(inspector),
		identity.WithLoggerProvider(loggers),
	)

	manager := hostel.NewSessionManager(client, store,
		hostel.WithManagerLoggerProvider(loggers),
		hostel.WithRegisterSettleDelay(cfg.Session.RegisterSettleDelay),
		hostel.WithManagerActivitySink(sinks),
	)
	manager.Start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := manager.WaitReady(waitCtx); err != nil {
		manager.Dispose()
		closeAll(closers)
		return nil, err
	}

	return &environment{
		manager: manager,
		flush:   flush,
		close: func() {
			manager.Dispose()
			closeAll(closers)
		},
	}, nil
}

func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func sessionPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "hostel", "session.json"), nil
}

func writeState(w io.Writer, state hostel.AuthState) error {
	out := map[string]any{
		"authenticated": state.IsAuthenticated(),
		"user":          state.User,
	}
	_, err := fmt.Fprintln(w, print.MaybePrettyJSON(out))
	return err
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `hostelctl manages the hostel login session.

Usage:
  hostelctl [global flags] <command> [flags]

Commands:
  login      sign in as a student, caretaker or admin
  register   create an account and its profile
  logout     sign out and forget the stored session
  whoami     print the current user

Global flags:
%s`, flagSet.FlagUsages())
}
