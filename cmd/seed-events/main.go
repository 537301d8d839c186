package main

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/backr/internal/seed"
	"github.com/okian/backr/pkg/logger"
)

// Default configuration constants.
const (
	defaultUsers       = 50
	defaultEvents      = 5
	defaultAdminEvents = 2
	defaultQuota       = 3
	defaultAttempts    = 4
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	cfg := &seed.Config{}
	var jsonLogs bool

	fs := pflag.NewFlagSet("seed-events", pflag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	fs.IntVar(&cfg.Users, "users", defaultUsers, "number of generated users")
	fs.IntVar(&cfg.Events, "events", defaultEvents, "number of public events")
	fs.IntVar(&cfg.AdminEvents, "admin-events", defaultAdminEvents, "number of admin-only events")
	fs.IntVar(&cfg.Quota, "quota", defaultQuota, "maxBackingsPerUser of each public event")
	fs.IntVar(&cfg.Attempts, "attempts", defaultAttempts, "backing attempts per user and event")
	fs.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent workers")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "random seed (0 picks one)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every request")
	fs.BoolVar(&jsonLogs, "json", false, "log as JSON")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	format := "text"
	if jsonLogs {
		format = "json"
	}
	if err := logger.Init(logger.WithFormat(format)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if cfg.Verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	if _, err := seed.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "seed run failed", logger.Error(err))
		cancel()
		os.Exit(1)
	}
}
