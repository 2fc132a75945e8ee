// Package directions plans bus journeys with the Google Directions API.
package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bus-navigator/internal/geo"
	"bus-navigator/internal/route"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type textValue struct {
	Text string `json:"text"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		Legs []struct {
			ArrivalTime *textValue `json:"arrival_time"`
			Steps       []struct {
				TravelMode       string    `json:"travel_mode"`
				StartLocation    latLng    `json:"start_location"`
				HTMLInstructions string    `json:"html_instructions"`
				Distance         textValue `json:"distance"`
				TransitDetails   *struct {
					Line struct {
						ShortName string `json:"short_name"`
						Name      string `json:"name"`
					} `json:"line"`
					DepartureStop struct {
						Name string `json:"name"`
					} `json:"departure_stop"`
					ArrivalStop struct {
						Name string `json:"name"`
					} `json:"arrival_stop"`
					DepartureTime textValue `json:"departure_time"`
					ArrivalTime   textValue `json:"arrival_time"`
				} `json:"transit_details"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Plan asks for a bus journey from origin to destination and converts the first leg of the first
// route. Origin and destination may be addresses, postcodes or "lat,lng".
func (c *Client) Plan(ctx context.Context, origin, destination string) (route.Route, error) {
	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)
	q.Set("mode", "transit")
	q.Set("transit_mode", "bus")
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return route.Route{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return route.Route{}, fmt.Errorf("directions request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return route.Route{}, fmt.Errorf("directions: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dr response
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return route.Route{}, fmt.Errorf("decode directions: %w", err)
	}
	return convert(dr)
}

func convert(dr response) (route.Route, error) {
	switch dr.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return route.Route{}, fmt.Errorf("%w: %s", route.ErrNoRouteFound, dr.Status)
	default:
		return route.Route{}, fmt.Errorf("directions: status %s: %s", dr.Status, dr.ErrorMessage)
	}
	if len(dr.Routes) == 0 || len(dr.Routes[0].Legs) == 0 || len(dr.Routes[0].Legs[0].Steps) == 0 {
		return route.Route{}, route.ErrNoRouteFound
	}

	leg := dr.Routes[0].Legs[0]
	var r route.Route
	if leg.ArrivalTime != nil {
		r.ArrivalTime = leg.ArrivalTime.Text
	}
	for _, s := range leg.Steps {
		at := geo.Coordinate{Lat: s.StartLocation.Lat, Lon: s.StartLocation.Lng}
		if s.TravelMode == "TRANSIT" && s.TransitDetails != nil {
			td := s.TransitDetails
			line := td.Line.ShortName
			if line == "" {
				line = td.Line.Name
			}
			r.Steps = append(r.Steps, route.Transit(at, route.TransitDetails{
				Line:          line,
				DepartureStop: td.DepartureStop.Name,
				DepartureTime: td.DepartureTime.Text,
				ArrivalStop:   td.ArrivalStop.Name,
				ArrivalTime:   td.ArrivalTime.Text,
			}))
			continue
		}
		r.Steps = append(r.Steps, route.Walk(at, s.HTMLInstructions, s.Distance.Text))
	}
	return r, nil
}
