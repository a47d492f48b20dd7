package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"courserator/internal/backend"
	"courserator/internal/capture"
	"courserator/internal/config"
	"courserator/internal/fixture"
	appLog "courserator/internal/log"
	"courserator/internal/picker"
	"courserator/internal/web"
)

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
	snapshot   string
	term       string
	query      string
}

func main() {
	appLog.Info("courserator starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"backend_url", conf.BackendURL,
		"fixture", conf.Fixture,
		"cache_dir", conf.CacheDir,
		"cache_ttl", conf.CacheTTL,
		"terms", len(conf.Terms),
		"default_term", conf.DefaultTerm,
		"snapshot", flags.snapshot,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, client, err := newFetcher(conf)
	if err != nil {
		appLog.Error("failed to initialize scheduler backend", err)
		os.Exit(1)
	}

	if client != nil && conf.CacheDir != "" && conf.CachePrune != "" {
		c := cron.New()
		ttl := conf.CacheTTLDuration()
		if _, err := c.AddFunc(conf.CachePrune, func() {
			n, err := client.Prune(ttl)
			if err != nil {
				appLog.Error("cache prune failed", err)
				return
			}
			appLog.Info("cache pruned", "removed", n)
		}); err != nil {
			appLog.Error("invalid cache_prune schedule", err, "spec", conf.CachePrune)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
	}

	srv := web.NewServer(conf, fetcher, flags.debug)

	if flags.snapshot != "" {
		if err := runSnapshot(ctx, conf, srv, flags); err != nil {
			appLog.Error("snapshot failed", err, "output", flags.snapshot)
			os.Exit(1)
		}
		appLog.Info("courserator exiting")
		return
	}

	if err := srv.Run(ctx); err != nil {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}
	appLog.Info("courserator exiting")
}

// newFetcher returns the fixture backend when one is configured, otherwise
// an HTTP client for the scheduling service. client is nil for fixtures.
func newFetcher(conf *config.Config) (picker.Fetcher, *backend.Client, error) {
	if conf.Fixture != "" {
		fb, err := fixture.Load(conf.Fixture, conf.Terms)
		if err != nil {
			return nil, nil, err
		}
		appLog.Info("serving schedules from fixture", "path", conf.Fixture)
		return fb, nil, nil
	}
	client, err := backend.NewClient(conf.BackendURL, backend.Options{
		CacheDir: conf.CacheDir,
		TTL:      conf.CacheTTLDuration(),
		Timeout:  conf.RequestTimeoutDuration(),
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

// runSnapshot performs one search, serves the picker page and writes a
// PNG of it.
func runSnapshot(ctx context.Context, conf *config.Config, srv *web.Server, flags flagConfig) error {
	term := flags.term
	if term == "" {
		term = conf.DefaultTerm
	}
	if flags.query == "" {
		return errors.New("-snapshot requires -query")
	}
	if err := srv.Search().Submit(ctx, term, flags.query); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(runCtx) }()

	base := "http://" + conf.Listen + "/"
	if err := waitHealthy(ctx, base+"health", 10*time.Second); err != nil {
		return err
	}

	if err := capture.SchedulePNG(ctx, capture.Options{URL: base, OutputPath: flags.snapshot}); err != nil {
		return err
	}
	appLog.Info("snapshot written", "output", flags.snapshot, "term", term, "query", flags.query)

	cancel()
	return <-errCh
}

func waitHealthy(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("server at %s not healthy after %s", url, timeout)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Search once, write a PNG of the picker to this path and exit")
	flag.StringVar(&cfg.term, "term", "", "Term for -snapshot (default: config default_term)")
	flag.StringVar(&cfg.query, "query", "", "Course list for -snapshot, e.g. \"CS240, MATH135\"")

	flag.Parse()

	return cfg
}
