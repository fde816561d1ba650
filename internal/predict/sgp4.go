package predict

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/isspass/internal/tle"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi

	// unixEpochJD is the Julian date of 1970-01-01T00:00:00Z.
	unixEpochJD = 2440587.5
)

// observer is a ground location in the form go-satellite expects.
type observer struct {
	coords satellite.LatLong // radians
	altKm  float64
}

func newObserver(latDeg, lonDeg, altM float64) observer {
	return observer{
		coords: satellite.LatLong{Latitude: latDeg * degToRad, Longitude: lonDeg * degToRad},
		altKm:  altM / 1000.0,
	}
}

// propagator computes look angles for one satellite.
type propagator struct {
	sat     satellite.Satellite
	noradID int
}

// newPropagator initializes SGP4 from an element set.
//
// The lines are checked first because go-satellite calls log.Fatal on
// input it cannot parse.
func newPropagator(e tle.Entry) (*propagator, error) {
	if err := validateLines(e.Line1, e.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", e.NORADID, err)
	}

	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}
	return &propagator{sat: sat, noradID: e.NORADID}, nil
}

func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// elevation returns the satellite's elevation above obs's horizon at t, in degrees.
func (p *propagator) elevation(obs observer, t time.Time) (float64, error) {
	t = t.UTC()
	pos, _ := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	// Propagate hides SGP4 error codes; a decayed or diverged orbit shows up
	// as non-finite or implausible output instead.
	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("sgp4 returned non-finite position for NORAD %d", p.noradID)
		}
	}
	if r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z); r < 6378 || r > 50000 {
		return 0, fmt.Errorf("sgp4 position magnitude %.0f km out of range for NORAD %d", r, p.noradID)
	}

	la := satellite.ECIToLookAngles(pos, obs.coords, obs.altKm, julianDate(t))
	return la.El * radToDeg, nil
}

func julianDate(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + unixEpochJD
}
