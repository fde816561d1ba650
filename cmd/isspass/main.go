package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/isspass/internal/api"
	"github.com/star/isspass/internal/auth"
	"github.com/star/isspass/internal/config"
	"github.com/star/isspass/internal/lookup"
	"github.com/star/isspass/internal/predict"
	"github.com/star/isspass/internal/render"
	"github.com/star/isspass/internal/tle"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("isspass", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file (default $"+config.ConfigPathEnvVar+")")
	serve := fs.Bool("serve", false, "run the HTTP service instead of a single lookup")
	ipOnly := fs.Bool("ip", false, "only look up and print this machine's public IP")
	limit := fs.Int("n", 0, "print at most this many passes (0 prints all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	logger := newLogger(cfg.Log, *serve, stdout, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, breakers, predictor := buildOrchestrator(cfg, *serve, logger)

	if *serve {
		return serveHTTP(ctx, cfg, orch, breakers, predictor, logger)
	}

	if *ipOnly {
		ip, err := orch.MyIP(ctx)
		if err != nil {
			return fail(stdout, err, logger)
		}
		if err := render.PrintIP(stdout, ip); err != nil {
			logger.Error("writing output", "error", err)
			return 1
		}
		return 0
	}

	passes, err := orch.NextISSTimesForMyLocation(ctx)
	if err != nil {
		return fail(stdout, err, logger)
	}
	if err := render.PrintPassTimes(stdout, passes.Next(*limit), time.Local); err != nil {
		logger.Error("writing output", "error", err)
		return 1
	}
	return 0
}

// fail reports a failed lookup and returns the exit code.
func fail(w io.Writer, lookupErr error, logger *slog.Logger) int {
	if err := render.Failure(w, lookupErr); err != nil {
		logger.Error("writing output", "error", err, "lookup_error", lookupErr)
	}
	return 1
}

// newLogger picks JSON on stdout for the service and text on stderr for
// the CLI unless log.format says otherwise.
func newLogger(lc config.LogConfig, serve bool, stdout, stderr io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}

	format := lc.Format
	if format == "" {
		format = "text"
		if serve {
			format = "json"
		}
	}

	w := stderr
	if serve {
		w = stdout
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildOrchestrator(cfg *config.Config, serve bool, logger *slog.Logger) (*lookup.Orchestrator, *lookup.Breakers, *predict.Predictor) {
	client := lookup.NewClient(lookup.Config{
		IPURL:      cfg.Upstream.IPURL,
		GeoURL:     cfg.Upstream.GeoURL,
		FlyOverURL: cfg.Upstream.FlyOverURL,
		Timeout:    cfg.Upstream.Timeout,
	}, logger)

	res := lookup.Resolvers{IP: client, Coords: client, FlyOver: client}

	var predictor *predict.Predictor
	if cfg.FlyOver.Provider == "local" {
		predictor = predict.NewPredictor(predict.Config{
			SourceURL:    cfg.FlyOver.TLEURL,
			FetchTimeout: cfg.Upstream.Timeout,
			MaxAge:       cfg.FlyOver.TLEMaxAge,
			Horizon:      cfg.FlyOver.Horizon,
			MinElevation: cfg.FlyOver.MinElevation,
			MaxPasses:    cfg.FlyOver.MaxPasses,
			AltitudeM:    cfg.FlyOver.AltitudeM,
		}, tle.NewStore(), logger)
		res.FlyOver = predictor
		logger.Info("using local pass prediction", "tle_source", cfg.FlyOver.TLEURL)
	}

	var breakers *lookup.Breakers
	if cfg.Breaker.Enabled {
		res, breakers = lookup.WithBreakers(res, lookup.BreakerSettings{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		}, logger)
		logger.Debug("circuit breakers enabled", "failure_threshold", cfg.Breaker.FailureThreshold)
	} else if serve {
		logger.Info("circuit breakers disabled")
	}

	return lookup.NewOrchestrator(res, logger), breakers, predictor
}

func serveHTTP(ctx context.Context, cfg *config.Config, orch *lookup.Orchestrator, breakers *lookup.Breakers, predictor *predict.Predictor, logger *slog.Logger) int {
	srv := api.NewServer(api.Options{
		Addr:   cfg.Server.Addr,
		Lookup: orch,
		Ready: func() error {
			if breakers.AllOpen() {
				return errors.New("all upstream breakers open")
			}
			return nil
		},
		Auth:       auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
		TrustProxy: cfg.Server.TrustProxy,
		RateLimit:  rate.Limit(cfg.Server.RateLimit),
		RateBurst:  cfg.Server.RateBurst,
		Logger:     logger,
	})

	if predictor != nil {
		go predictor.TrackAge(ctx, 10*time.Second)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.Server.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"flyover_provider", cfg.FlyOver.Provider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server listen error", "error", err)
		return 1
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return 1
	}

	logger.Info("server stopped")
	return 0
}
