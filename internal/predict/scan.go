package predict

import (
	"context"
	"time"

	"github.com/star/isspass/internal/lookup"
)

const (
	coarseStep = 30 * time.Second
	fineStep   = time.Second
	minPassDur = 10 * time.Second
)

// elevationFunc reports elevation in degrees at t.
type elevationFunc func(t time.Time) (float64, error)

type scanParams struct {
	start        time.Time
	horizon      time.Duration
	minElevation float64
	maxPasses    int
}

// findPasses walks [start, start+horizon) in coarse steps and, whenever the
// satellite is above minElevation, refines the rise and set times at one
// second resolution. Passes are returned in chronological order. A pass
// already in progress at start is reported with start as its rise time.
func findPasses(ctx context.Context, elev elevationFunc, p scanParams) lookup.PassList {
	end := p.start.Add(p.horizon)
	above := func(t time.Time) bool {
		el, err := elev(t)
		return err == nil && el >= p.minElevation
	}

	var passes lookup.PassList
	t := p.start
	for t.Before(end) && len(passes) < p.maxPasses {
		if ctx.Err() != nil {
			break
		}
		if !above(t) {
			t = t.Add(coarseStep)
			continue
		}

		// Walk back to the rise; the previous coarse sample was below.
		rise := t
		for r := t.Add(-fineStep); r.After(t.Add(-coarseStep)) && !r.Before(p.start) && above(r); r = r.Add(-fineStep) {
			rise = r
		}

		set := t
		for set.Before(end) && above(set) {
			set = set.Add(fineStep)
		}

		if set.Sub(rise) >= minPassDur {
			passes = append(passes, lookup.Pass{
				Risetime: rise.Unix(),
				Duration: int64(set.Sub(rise) / time.Second),
			})
		}
		t = set.Add(coarseStep)
	}

	return passes
}
