package route

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bus-navigator/internal/geo"
)

// fileRoute is the YAML layout of a route file:
//
//	arrival_time: "09:41"
//	steps:
//	  - kind: walk
//	    lat: 51.5007
//	    lon: -0.1246
//	    instruction: Head <b>north</b> on Bridge St
//	    distance: 120 m
//	  - kind: transit
//	    lat: 51.5010
//	    lon: -0.1250
//	    line: "12"
//	    departure_stop: Westminster
//	    departure_time: "09:05"
//	    arrival_stop: Oxford Circus
//	    arrival_time: "09:30"
type fileRoute struct {
	ArrivalTime string     `yaml:"arrival_time"`
	Steps       []fileStep `yaml:"steps" validate:"required,min=1,dive"`
}

type fileStep struct {
	Kind          string  `yaml:"kind" validate:"required,oneof=transit walk"`
	Lat           float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon           float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Line          string  `yaml:"line" validate:"required_if=Kind transit"`
	DepartureStop string  `yaml:"departure_stop" validate:"required_if=Kind transit"`
	DepartureTime string  `yaml:"departure_time"`
	ArrivalStop   string  `yaml:"arrival_stop" validate:"required_if=Kind transit"`
	ArrivalTime   string  `yaml:"arrival_time"`
	Instruction   string  `yaml:"instruction" validate:"required_if=Kind walk"`
	Distance      string  `yaml:"distance"`
}

// FileSource serves the route stored in a YAML file whatever origin and destination are asked for.
type FileSource struct {
	Path string
}

func (f FileSource) Plan(ctx context.Context, _, _ string) (Route, error) {
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}
	return LoadFile(f.Path)
}

// LoadFile reads and validates a YAML route file.
func LoadFile(path string) (Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Route{}, err
	}
	return Parse(data)
}

// Parse decodes a YAML route document.
func Parse(data []byte) (Route, error) {
	var fr fileRoute
	if err := yaml.Unmarshal(data, &fr); err != nil {
		return Route{}, fmt.Errorf("decode route: %w", err)
	}
	if len(fr.Steps) == 0 {
		return Route{}, ErrEmptyRoute
	}
	if err := validator.New().Struct(fr); err != nil {
		return Route{}, fmt.Errorf("invalid route: %w", err)
	}
	r := Route{ArrivalTime: strings.TrimSpace(fr.ArrivalTime)}
	for _, fs := range fr.Steps {
		at := geo.Coordinate{Lat: fs.Lat, Lon: fs.Lon}
		switch fs.Kind {
		case "transit":
			r.Steps = append(r.Steps, Transit(at, TransitDetails{
				Line:          fs.Line,
				DepartureStop: fs.DepartureStop,
				DepartureTime: fs.DepartureTime,
				ArrivalStop:   fs.ArrivalStop,
				ArrivalTime:   fs.ArrivalTime,
			}))
		case "walk":
			r.Steps = append(r.Steps, Walk(at, fs.Instruction, fs.Distance))
		}
	}
	return r, r.Validate()
}
