package lookup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/star/isspass/internal/metrics"
)

// BreakerSettings configures the circuit breaker placed in front of each step.
type BreakerSettings struct {
	MaxRequests      uint32        // calls allowed through while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open-state duration before probing again
	FailureThreshold uint32        // consecutive failures that open the circuit
}

// Breakers reports the state of every step's breaker.
type Breakers struct {
	states []func() gobreaker.State
}

// AllOpen reports whether every breaker is currently refusing calls.
func (b *Breakers) AllOpen() bool {
	if b == nil || len(b.states) == 0 {
		return false
	}
	for _, state := range b.states {
		if state() != gobreaker.StateOpen {
			return false
		}
	}
	return true
}

// WithBreakers wraps each resolver in its own circuit breaker.
func WithBreakers(res Resolvers, st BreakerSettings, logger *slog.Logger) (Resolvers, *Breakers) {
	ipCB := newBreaker[string](StepIP, st, logger)
	coordsCB := newBreaker[Coordinates](StepCoords, st, logger)
	flyCB := newBreaker[PassList](StepFlyOver, st, logger)

	wrapped := Resolvers{
		IP:      &breakerIP{next: res.IP, cb: ipCB},
		Coords:  &breakerCoords{next: res.Coords, cb: coordsCB},
		FlyOver: &breakerFlyOver{next: res.FlyOver, cb: flyCB},
	}
	return wrapped, &Breakers{states: []func() gobreaker.State{ipCB.State, coordsCB.State, flyCB.State}}
}

func newBreaker[T any](step Step, st BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	name := "lookup-" + string(step)
	threshold := st.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	metrics.SetBreakerState(name, float64(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A success=false body means the caller sent an IP the service could
		// not place; the upstream itself is healthy.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *ServerError
			return errors.As(err, &se) && se.InBody
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"component", "lookup",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetBreakerState(name, float64(to))
		},
	})
}

// guard runs fn through cb, turning a refused call into a NetworkError.
func guard[T any](cb *gobreaker.CircuitBreaker[T], step Step, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordUpstream(string(step), "rejected", 0)
		return v, &NetworkError{Step: step, Err: err}
	}
	return v, err
}

type breakerIP struct {
	next IPResolver
	cb   *gobreaker.CircuitBreaker[string]
}

func (b *breakerIP) FetchMyIP(ctx context.Context) (string, error) {
	return guard(b.cb, StepIP, func() (string, error) {
		return b.next.FetchMyIP(ctx)
	})
}

type breakerCoords struct {
	next CoordinateResolver
	cb   *gobreaker.CircuitBreaker[Coordinates]
}

func (b *breakerCoords) FetchCoordsByIP(ctx context.Context, ip string) (Coordinates, error) {
	return guard(b.cb, StepCoords, func() (Coordinates, error) {
		return b.next.FetchCoordsByIP(ctx, ip)
	})
}

type breakerFlyOver struct {
	next FlyOverResolver
	cb   *gobreaker.CircuitBreaker[PassList]
}

func (b *breakerFlyOver) FetchFlyOverTimes(ctx context.Context, coords Coordinates) (PassList, error) {
	return guard(b.cb, StepFlyOver, func() (PassList, error) {
		return b.next.FetchFlyOverTimes(ctx, coords)
	})
}
