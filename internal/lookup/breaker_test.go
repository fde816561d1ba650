package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestBreakerOpensOnNetworkErrors(t *testing.T) {
	f := happySteps()
	f.ipErr = &NetworkError{Step: StepIP, Err: errors.New("connection refused")}

	res, breakers := WithBreakers(f.resolvers(), BreakerSettings{
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 3,
	}, testLogger)

	for i := 0; i < 3; i++ {
		if _, err := res.IP.FetchMyIP(context.Background()); !IsNetworkError(err) {
			t.Fatalf("call %d: expected NetworkError, got %v", i, err)
		}
	}
	if f.ipCalls != 3 {
		t.Fatalf("ip calls = %d, want 3", f.ipCalls)
	}

	_, err := res.IP.FetchMyIP(context.Background())
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError from open breaker, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open state cause, got %v", ne.Err)
	}
	if f.ipCalls != 3 {
		t.Errorf("open breaker let a call through: ip calls = %d", f.ipCalls)
	}

	if breakers.AllOpen() {
		t.Error("AllOpen = true with only the ip breaker open")
	}
}

func TestBreakerIgnoresInBodyFailures(t *testing.T) {
	f := happySteps()
	f.coordsErr = &ServerError{Step: StepCoords, StatusCode: 200, InBody: true, Message: "Invalid IP address"}

	res, _ := WithBreakers(f.resolvers(), BreakerSettings{
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 2,
	}, testLogger)

	for i := 0; i < 5; i++ {
		_, err := res.Coords.FetchCoordsByIP(context.Background(), "bogus")
		var se *ServerError
		if !errors.As(err, &se) || !se.InBody {
			t.Fatalf("call %d: expected in-body ServerError, got %v", i, err)
		}
	}
	if f.coordsCalls != 5 {
		t.Errorf("coordinate calls = %d, want 5 (breaker must stay closed)", f.coordsCalls)
	}
}

func TestBreakersAllOpen(t *testing.T) {
	f := happySteps()
	down := &NetworkError{Err: errors.New("down")}
	f.ipErr, f.coordsErr, f.passesErr = down, down, down

	res, breakers := WithBreakers(f.resolvers(), BreakerSettings{
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 1,
	}, testLogger)

	ctx := context.Background()
	res.IP.FetchMyIP(ctx)
	res.Coords.FetchCoordsByIP(ctx, "1.1.1.1")
	res.FlyOver.FetchFlyOverTimes(ctx, Coordinates{Latitude: "0", Longitude: "0"})

	if !breakers.AllOpen() {
		t.Error("AllOpen = false after every step tripped")
	}
}

func TestOrchestratorWithBreakersPassesThrough(t *testing.T) {
	f := happySteps()
	res, _ := WithBreakers(f.resolvers(), BreakerSettings{FailureThreshold: 5}, testLogger)
	o := NewOrchestrator(res, testLogger)

	passes, err := o.NextISSTimesForMyLocation(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passes) != 1 || passes[0].Duration != 468 {
		t.Errorf("passes = %+v", passes)
	}
}
