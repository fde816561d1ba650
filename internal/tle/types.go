package tle

import "time"

// ISSNoradID is the catalog number of the International Space Station.
const ISSNoradID = 25544

// Entry is one satellite's two-line element set.
type Entry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Dataset is a set of elements retrieved from one source.
type Dataset struct {
	Source    string
	FetchedAt time.Time
	Entries   []Entry
}

// Find returns the entry for noradID, if present.
func (d *Dataset) Find(noradID int) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}
	for _, e := range d.Entries {
		if e.NORADID == noradID {
			return e, true
		}
	}
	return Entry{}, false
}
