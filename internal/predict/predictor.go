// Package predict computes station passes locally from its orbital elements,
// as an alternative to the remote pass prediction service.
package predict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/isspass/internal/lookup"
	"github.com/star/isspass/internal/metrics"
	"github.com/star/isspass/internal/tle"
)

// Config holds local prediction settings.
type Config struct {
	SourceURL    string
	FetchTimeout time.Duration
	MaxAge       time.Duration // refetch elements older than this
	Horizon      time.Duration // how far ahead to search
	MinElevation float64       // degrees above the horizon
	MaxPasses    int
	AltitudeM    float64 // observer altitude above the ellipsoid
}

func (c Config) withDefaults() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 12 * time.Hour
	}
	if c.Horizon <= 0 {
		c.Horizon = 72 * time.Hour
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = 5
	}
	return c
}

// Predictor satisfies lookup.FlyOverResolver by propagating the station's
// element set with SGP4.
type Predictor struct {
	cfg     Config
	fetcher *tle.Fetcher
	store   *tle.Store
	now     func() time.Time
	logger  *slog.Logger
}

// NewPredictor creates a Predictor that keeps its elements in store.
func NewPredictor(cfg Config, store *tle.Store, logger *slog.Logger) *Predictor {
	cfg = cfg.withDefaults()
	return &Predictor{
		cfg:     cfg,
		fetcher: tle.NewFetcher(cfg.SourceURL, cfg.FetchTimeout, logger),
		store:   store,
		now:     time.Now,
		logger:  logger,
	}
}

// FetchFlyOverTimes returns up to MaxPasses upcoming passes over coords.
func (p *Predictor) FetchFlyOverTimes(ctx context.Context, coords lookup.Coordinates) (lookup.PassList, error) {
	lat, latErr := coords.Latitude.Float()
	lon, lonErr := coords.Longitude.Float()
	if err := errors.Join(latErr, lonErr); err != nil {
		return nil, &lookup.ServerError{
			Step:    lookup.StepFlyOver,
			Message: fmt.Sprintf("invalid coordinates %q, %q: %v", coords.Latitude, coords.Longitude, err),
		}
	}

	now := p.now()
	ds, err := p.dataset(ctx, now)
	if err != nil {
		return nil, err
	}

	entry, ok := ds.Find(tle.ISSNoradID)
	if !ok {
		return nil, &lookup.ServerError{
			Step:    lookup.StepFlyOver,
			Message: fmt.Sprintf("no element set for NORAD %d from %s", tle.ISSNoradID, ds.Source),
		}
	}

	prop, err := newPropagator(entry)
	if err != nil {
		return nil, &lookup.ServerError{Step: lookup.StepFlyOver, Message: err.Error()}
	}

	obs := newObserver(lat, lon, p.cfg.AltitudeM)
	start := time.Now()
	passes := findPasses(ctx, func(t time.Time) (float64, error) {
		return prop.elevation(obs, t)
	}, scanParams{
		start:        now.UTC().Truncate(time.Second),
		horizon:      p.cfg.Horizon,
		minElevation: p.cfg.MinElevation,
		maxPasses:    p.cfg.MaxPasses,
	})
	if err := ctx.Err(); err != nil {
		return nil, &lookup.NetworkError{Step: lookup.StepFlyOver, Err: err}
	}

	p.logger.Debug("predicted passes",
		"component", "predict",
		"count", len(passes),
		"tle_epoch", entry.Epoch.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return passes, nil
}

// dataset returns a fresh element set, fetching one if needed. When a
// refresh fails but an older set exists, the older set is used.
func (p *Predictor) dataset(ctx context.Context, now time.Time) (*tle.Dataset, error) {
	if ds := p.store.Fresh(now, p.cfg.MaxAge); ds != nil {
		return ds, nil
	}

	p.store.Lock()
	defer p.store.Unlock()

	if ds := p.store.Fresh(now, p.cfg.MaxAge); ds != nil {
		return ds, nil
	}

	ds, err := p.refresh(ctx, now)
	if err != nil {
		if stale := p.store.Get(); stale != nil {
			p.logger.Warn("TLE refresh failed, using stale elements",
				"component", "predict",
				"fetched_at", stale.FetchedAt.Format(time.RFC3339),
				"error", err,
			)
			return stale, nil
		}
		return nil, err
	}
	p.store.Set(ds)
	metrics.SetTLEDatasetAge(0)
	return ds, nil
}

func (p *Predictor) refresh(ctx context.Context, now time.Time) (*tle.Dataset, error) {
	data, err := p.fetcher.Fetch(ctx)
	if err != nil {
		var se *tle.StatusError
		switch {
		case errors.As(err, &se):
			return nil, &lookup.ServerError{Step: lookup.StepFlyOver, StatusCode: se.StatusCode, Message: err.Error()}
		case errors.Is(err, tle.ErrBodyTooLarge):
			return nil, &lookup.ServerError{Step: lookup.StepFlyOver, Message: err.Error()}
		default:
			return nil, &lookup.NetworkError{Step: lookup.StepFlyOver, Err: err}
		}
	}

	entries, err := tle.Parse(bytes.NewReader(data), p.logger)
	if err != nil {
		return nil, &lookup.ServerError{Step: lookup.StepFlyOver, Message: err.Error()}
	}

	p.logger.Info("loaded TLE data",
		"component", "predict",
		"source", p.fetcher.SourceURL(),
		"count", len(entries),
	)
	return &tle.Dataset{
		Source:    p.fetcher.SourceURL(),
		FetchedAt: now,
		Entries:   entries,
	}, nil
}

// TrackAge updates the dataset age gauge every interval until ctx is done.
func (p *Predictor) TrackAge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if age := p.store.AgeSeconds(); age >= 0 {
				metrics.SetTLEDatasetAge(age)
			}
		case <-ctx.Done():
			return
		}
	}
}
