package lookup

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/star/isspass/internal/metrics"
)

// IPResolver returns the caller's public IP address.
type IPResolver interface {
	FetchMyIP(ctx context.Context) (string, error)
}

// CoordinateResolver geolocates an IP address.
type CoordinateResolver interface {
	FetchCoordsByIP(ctx context.Context, ip string) (Coordinates, error)
}

// FlyOverResolver lists upcoming passes over a location.
type FlyOverResolver interface {
	FetchFlyOverTimes(ctx context.Context, coords Coordinates) (PassList, error)
}

// Resolvers groups the three steps of a run.
type Resolvers struct {
	IP      IPResolver
	Coords  CoordinateResolver
	FlyOver FlyOverResolver
}

// Stage is the position of a run in the lookup chain.
type Stage string

const (
	StageStart           Stage = "start"
	StageResolvingIP     Stage = "resolving_ip"
	StageResolvingCoords Stage = "resolving_coords"
	StageResolvingPasses Stage = "resolving_passes"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

// Orchestrator chains the lookup steps. Each step runs only if the previous
// one succeeded and the first error is returned unchanged. An Orchestrator
// keeps no per-run state, so one value can serve concurrent callers.
type Orchestrator struct {
	res    Resolvers
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given steps.
func NewOrchestrator(res Resolvers, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		res:    res,
		logger: logger,
	}
}

// NextISSTimesForMyLocation resolves the caller's IP, geolocates it, and
// returns the upcoming passes over that location.
func (o *Orchestrator) NextISSTimesForMyLocation(ctx context.Context) (PassList, error) {
	r := o.begin("my_location")

	r.enter(StageResolvingIP)
	ip, err := o.res.IP.FetchMyIP(ctx)
	if err != nil {
		return nil, r.fail(err)
	}
	r.logger.Debug("resolved ip", "ip", ip)

	return o.fromIP(ctx, r, ip)
}

// PassesForIP geolocates ip and returns the upcoming passes over it.
func (o *Orchestrator) PassesForIP(ctx context.Context, ip string) (PassList, error) {
	return o.fromIP(ctx, o.begin("explicit_ip"), ip)
}

// MyIP runs only the IP step.
func (o *Orchestrator) MyIP(ctx context.Context) (string, error) {
	r := o.begin("ip_only")

	r.enter(StageResolvingIP)
	ip, err := o.res.IP.FetchMyIP(ctx)
	if err != nil {
		return "", r.fail(err)
	}
	r.finish("ip", ip)
	return ip, nil
}

func (o *Orchestrator) fromIP(ctx context.Context, r *run, ip string) (PassList, error) {
	r.enter(StageResolvingCoords)
	coords, err := o.res.Coords.FetchCoordsByIP(ctx, ip)
	if err != nil {
		return nil, r.fail(err)
	}
	r.logger.Debug("resolved coordinates", "latitude", coords.Latitude, "longitude", coords.Longitude)

	r.enter(StageResolvingPasses)
	passes, err := o.res.FlyOver.FetchFlyOverTimes(ctx, coords)
	if err != nil {
		return nil, r.fail(err)
	}

	r.finish("passes", len(passes))
	return passes, nil
}

// run carries the logging context and stage of one orchestration.
type run struct {
	kind   string
	stage  Stage
	start  time.Time
	logger *slog.Logger
}

func (o *Orchestrator) begin(kind string) *run {
	return &run{
		kind:  kind,
		stage: StageStart,
		start: time.Now(),
		logger: o.logger.With(
			"component", "orchestrator",
			"run_id", uuid.NewString(),
			"kind", kind,
		),
	}
}

func (r *run) enter(s Stage) {
	r.stage = s
	r.logger.Debug("stage", "stage", s)
}

func (r *run) fail(err error) error {
	failedAt := r.stage
	r.stage = StageFailed
	metrics.RecordRun(r.kind, "failed", string(failedAt))
	r.logger.Warn("lookup failed",
		"stage", failedAt,
		"duration_ms", time.Since(r.start).Milliseconds(),
		"error", err,
	)
	return err
}

func (r *run) finish(args ...any) {
	r.stage = StageDone
	metrics.RecordRun(r.kind, "done", "")
	r.logger.Info("lookup complete",
		append([]any{"duration_ms", time.Since(r.start).Milliseconds()}, args...)...,
	)
}
