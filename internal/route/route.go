package route

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"bus-navigator/internal/geo"
)

var (
	ErrEmptyRoute   = errors.New("route has no steps")
	ErrNoRouteFound = errors.New("no route found")
	ErrNoDetails    = errors.New("step has no transit or walk details")
	ErrBadTrigger   = errors.New("step trigger point is not a finite coordinate")
)

// Kind distinguishes the two step shapes a route can contain.
type Kind int

const (
	KindTransit Kind = iota + 1
	KindWalk
)

func (k Kind) String() string {
	switch k {
	case KindTransit:
		return "transit"
	case KindWalk:
		return "walk"
	default:
		return "unknown"
	}
}

// Details is implemented only by TransitDetails and WalkDetails.
type Details interface {
	kind() Kind
}

// TransitDetails describes riding one bus line between two stops.
type TransitDetails struct {
	Line          string
	DepartureStop string
	DepartureTime string
	ArrivalStop   string
	ArrivalTime   string
}

func (TransitDetails) kind() Kind { return KindTransit }

// WalkDetails describes a walking segment. Instruction holds plain text.
type WalkDetails struct {
	Instruction string
	Distance    string
}

func (WalkDetails) kind() Kind { return KindWalk }

// Step is one instruction unit of a route. Its instruction fires at TriggerPoint.
type Step struct {
	TriggerPoint geo.Coordinate
	Details      Details
}

// Transit builds a transit step.
func Transit(at geo.Coordinate, d TransitDetails) Step {
	return Step{TriggerPoint: at, Details: d}
}

// Walk builds a walking step, stripping any markup from the instruction.
func Walk(at geo.Coordinate, instruction, distance string) Step {
	return Step{TriggerPoint: at, Details: WalkDetails{Instruction: StripMarkup(instruction), Distance: distance}}
}

// Kind reports the step kind; 0 when the step carries no details.
func (s Step) Kind() Kind {
	if s.Details == nil {
		return 0
	}
	return s.Details.kind()
}

func (s Step) Validate() error {
	if s.Details == nil {
		return ErrNoDetails
	}
	if !s.TriggerPoint.Valid() {
		return ErrBadTrigger
	}
	return nil
}

// Route is an ordered journey plan. ArrivalTime is the planned arrival label, if known.
type Route struct {
	Steps       []Step
	ArrivalTime string
}

func (r Route) Len() int { return len(r.Steps) }

// Validate checks that the route can be navigated.
func (r Route) Validate() error {
	if len(r.Steps) == 0 {
		return ErrEmptyRoute
	}
	for i, s := range r.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Path returns the trigger points of r in order.
func (r Route) Path() []geo.Coordinate {
	pts := make([]geo.Coordinate, 0, len(r.Steps))
	for _, s := range r.Steps {
		pts = append(pts, s.TriggerPoint)
	}
	return pts
}

// Source plans a route between two places. Implementations return ErrNoRouteFound
// (possibly wrapped) when the provider has no journey to offer.
type Source interface {
	Plan(ctx context.Context, origin, destination string) (Route, error)
}

var markup = regexp.MustCompile(`<[^>]+>`)

// StripMarkup removes HTML tags from directions text.
func StripMarkup(s string) string {
	return strings.TrimSpace(markup.ReplaceAllString(s, ""))
}
