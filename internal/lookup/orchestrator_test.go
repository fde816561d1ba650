package lookup

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

// fakeSteps is a scripted set of resolvers that counts its calls.
type fakeSteps struct {
	mu sync.Mutex

	ip        string
	ipErr     error
	coords    Coordinates
	coordsErr error
	passes    PassList
	passesErr error

	ipCalls      int
	coordsCalls  int
	flyOverCalls int

	gotIP     string
	gotCoords Coordinates
}

func (f *fakeSteps) FetchMyIP(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ipCalls++
	if f.ipErr != nil {
		return "", f.ipErr
	}
	return f.ip, nil
}

func (f *fakeSteps) FetchCoordsByIP(ctx context.Context, ip string) (Coordinates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coordsCalls++
	f.gotIP = ip
	if f.coordsErr != nil {
		return Coordinates{}, f.coordsErr
	}
	return f.coords, nil
}

func (f *fakeSteps) FetchFlyOverTimes(ctx context.Context, coords Coordinates) (PassList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flyOverCalls++
	f.gotCoords = coords
	if f.passesErr != nil {
		return nil, f.passesErr
	}
	return f.passes, nil
}

func (f *fakeSteps) resolvers() Resolvers {
	return Resolvers{IP: f, Coords: f, FlyOver: f}
}

func happySteps() *fakeSteps {
	return &fakeSteps{
		ip:     "162.245.144.188",
		coords: Coordinates{Latitude: "49.27670", Longitude: "-123.13000"},
		passes: PassList{{Risetime: 1560219104, Duration: 468}},
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	f := happySteps()
	o := NewOrchestrator(f.resolvers(), testLogger)

	passes, err := o.NextISSTimesForMyLocation(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := PassList{{Risetime: 1560219104, Duration: 468}}
	if !reflect.DeepEqual(passes, want) {
		t.Errorf("passes = %+v, want %+v", passes, want)
	}
	if f.gotIP != "162.245.144.188" {
		t.Errorf("coordinate step got ip %q", f.gotIP)
	}
	if f.gotCoords != (Coordinates{Latitude: "49.27670", Longitude: "-123.13000"}) {
		t.Errorf("fly-over step got coords %+v", f.gotCoords)
	}
	if f.ipCalls != 1 || f.coordsCalls != 1 || f.flyOverCalls != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", f.ipCalls, f.coordsCalls, f.flyOverCalls)
	}
}

func TestOrchestratorShortCircuit(t *testing.T) {
	ipFailure := &NetworkError{Step: StepIP, Err: errors.New("dial tcp: lookup api.ipify.org: no such host")}
	coordsTransport := &NetworkError{Step: StepCoords, Err: errors.New("connection refused")}
	coordsInBody := &ServerError{Step: StepCoords, StatusCode: 200, InBody: true, Message: "success status was false", IP: "42"}
	flyOverFailure := &ServerError{Step: StepFlyOver, StatusCode: 500, Message: "status code 500"}

	tests := []struct {
		name             string
		setup            func(f *fakeSteps)
		wantErr          error
		wantCoordsCalls  int
		wantFlyOverCalls int
	}{
		{
			name:             "ip failure stops the chain",
			setup:            func(f *fakeSteps) { f.ipErr = ipFailure },
			wantErr:          ipFailure,
			wantCoordsCalls:  0,
			wantFlyOverCalls: 0,
		},
		{
			name:             "coordinate transport failure skips fly-over",
			setup:            func(f *fakeSteps) { f.coordsErr = coordsTransport },
			wantErr:          coordsTransport,
			wantCoordsCalls:  1,
			wantFlyOverCalls: 0,
		},
		{
			name:             "coordinate in-body failure skips fly-over",
			setup:            func(f *fakeSteps) { f.coordsErr = coordsInBody },
			wantErr:          coordsInBody,
			wantCoordsCalls:  1,
			wantFlyOverCalls: 0,
		},
		{
			name:             "fly-over failure is returned as is",
			setup:            func(f *fakeSteps) { f.passesErr = flyOverFailure },
			wantErr:          flyOverFailure,
			wantCoordsCalls:  1,
			wantFlyOverCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := happySteps()
			tt.setup(f)
			o := NewOrchestrator(f.resolvers(), testLogger)

			passes, err := o.NextISSTimesForMyLocation(context.Background())
			if passes != nil {
				t.Errorf("passes = %v, want nil on failure", passes)
			}
			if err != tt.wantErr {
				t.Errorf("err = %v, want the failing step's error unchanged (%v)", err, tt.wantErr)
			}
			if f.ipCalls != 1 {
				t.Errorf("ip calls = %d, want 1", f.ipCalls)
			}
			if f.coordsCalls != tt.wantCoordsCalls {
				t.Errorf("coordinate calls = %d, want %d", f.coordsCalls, tt.wantCoordsCalls)
			}
			if f.flyOverCalls != tt.wantFlyOverCalls {
				t.Errorf("fly-over calls = %d, want %d", f.flyOverCalls, tt.wantFlyOverCalls)
			}
		})
	}
}

func TestPassesForIPSkipsIPStep(t *testing.T) {
	f := happySteps()
	o := NewOrchestrator(f.resolvers(), testLogger)

	passes, err := o.PassesForIP(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(passes) != 1 {
		t.Errorf("passes = %v, want 1 entry", passes)
	}
	if f.ipCalls != 0 {
		t.Errorf("ip calls = %d, want 0", f.ipCalls)
	}
	if f.gotIP != "8.8.8.8" {
		t.Errorf("coordinate step got ip %q, want 8.8.8.8", f.gotIP)
	}
}

func TestMyIP(t *testing.T) {
	f := happySteps()
	o := NewOrchestrator(f.resolvers(), testLogger)

	ip, err := o.MyIP(context.Background())
	if err != nil || ip != "162.245.144.188" {
		t.Fatalf("MyIP = (%q, %v)", ip, err)
	}
	if f.coordsCalls != 0 || f.flyOverCalls != 0 {
		t.Errorf("later steps ran: coords=%d flyover=%d", f.coordsCalls, f.flyOverCalls)
	}
}

// TestOrchestratorConcurrentRuns verifies independent runs can share one
// Orchestrator.
func TestOrchestratorConcurrentRuns(t *testing.T) {
	f := happySteps()
	o := NewOrchestrator(f.resolvers(), testLogger)

	const runs = 32
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.NextISSTimesForMyLocation(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	if f.ipCalls != runs || f.coordsCalls != runs || f.flyOverCalls != runs {
		t.Errorf("calls = %d/%d/%d, want %d each", f.ipCalls, f.coordsCalls, f.flyOverCalls, runs)
	}
}
