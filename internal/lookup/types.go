package lookup

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Degrees is a latitude or longitude exactly as the upstream service sent it.
// It accepts both JSON numbers and JSON strings and keeps the original text.
type Degrees string

// UnmarshalJSON stores the raw number text, stripping quotes from string values.
func (d *Degrees) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		*d = ""
		return nil
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return fmt.Errorf("invalid coordinate %q: %w", raw, err)
	}
	*d = Degrees(raw)
	return nil
}

// MarshalJSON writes the value back as a JSON string.
func (d Degrees) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(d))), nil
}

// Float returns the value in decimal degrees.
func (d Degrees) Float() (float64, error) {
	return strconv.ParseFloat(string(d), 64)
}

// Coordinates is the location resolved for an IP address.
type Coordinates struct {
	Latitude  Degrees `json:"latitude"`
	Longitude Degrees `json:"longitude"`
}

// Pass is one predicted overhead transit of the station.
type Pass struct {
	Risetime int64 `json:"risetime"` // unix seconds
	Duration int64 `json:"duration"` // seconds
}

// RiseTime returns the start of the pass.
func (p Pass) RiseTime() time.Time {
	return time.Unix(p.Risetime, 0)
}

// PassList holds passes in the order the prediction source returned them.
type PassList []Pass

// Next returns at most the first n passes. A non-positive n returns the whole list.
func (l PassList) Next(n int) PassList {
	if n <= 0 || n >= len(l) {
		return l
	}
	return l[:n]
}
