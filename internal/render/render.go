// Package render formats lookup results for the terminal.
package render

import (
	"fmt"
	"io"
	"time"

	"github.com/star/isspass/internal/lookup"
)

// TimeLayout mirrors the long local date form: "Mon Jun 10 2019 19:31:44 GMT-0700 (PDT)".
const TimeLayout = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

// PassLine formats a single pass in loc.
func PassLine(p lookup.Pass, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("Next pass at %s for %d seconds!", p.RiseTime().In(loc).Format(TimeLayout), p.Duration)
}

// PrintPassTimes writes one line per pass, in list order.
func PrintPassTimes(w io.Writer, passes lookup.PassList, loc *time.Location) error {
	for _, p := range passes {
		if _, err := fmt.Fprintln(w, PassLine(p, loc)); err != nil {
			return err
		}
	}
	return nil
}

// PrintIP writes the result of an IP-only lookup.
func PrintIP(w io.Writer, ip string) error {
	_, err := fmt.Fprintf(w, "It worked! Returned IP: %s\n", ip)
	return err
}

// Failure writes the message shown when a lookup fails.
func Failure(w io.Writer, err error) error {
	_, werr := fmt.Fprintf(w, "It didn't work: %v\n", err)
	return werr
}
