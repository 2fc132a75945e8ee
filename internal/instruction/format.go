// Package instruction turns route steps into the sentences spoken to the traveler.
package instruction

import (
	"fmt"
	"strings"

	"bus-navigator/internal/route"
)

const (
	arrival = "You have arrived at your destination."
	stopped = "Journey navigation stopped."
)

// Format returns the spoken instruction for step. Steps without details yield "".
func Format(step route.Step) string {
	switch d := step.Details.(type) {
	case route.TransitDetails:
		return fmt.Sprintf("Take bus %s from %s at %s. Get off at %s at %s.",
			d.Line, d.DepartureStop, d.DepartureTime, d.ArrivalStop, d.ArrivalTime)
	case route.WalkDetails:
		return fmt.Sprintf("%s (%s)", route.StripMarkup(d.Instruction), d.Distance)
	default:
		return ""
	}
}

func Arrival() string { return arrival }

func Stopped() string { return stopped }

// Overview reads the whole journey in one go, ending with the planned arrival time.
func Overview(r route.Route) string {
	var b strings.Builder
	for _, s := range r.Steps {
		text := Format(s)
		if text == "" {
			continue
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, ".") {
			b.WriteByte('.')
		}
		b.WriteByte(' ')
	}
	at := r.ArrivalTime
	if at == "" {
		at = "N/A"
	}
	fmt.Fprintf(&b, "Arrival time: %s.", at)
	return b.String()
}
