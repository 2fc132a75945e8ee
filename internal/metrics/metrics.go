package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveSessions prometheus.Gauge

	SessionsStarted    prometheus.Counter
	SessionsEnded      *prometheus.CounterVec // reason label: arrived|stopped
	PermissionRefusals prometheus.Counter
	StepsAdvanced      prometheus.Counter
	LocationErrors     prometheus.Counter

	SpeechQueued  prometheus.Counter
	SpeechDropped prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	ActiveWalks   prometheus.Gauge
	WalksStarted  prometheus.Counter
	WalksFinished prometheus.Counter

	FixDuration     prometheus.Histogram
	PublishDuration prometheus.Histogram
	TickDuration    prometheus.Histogram

	ProximityMeters prometheus.Gauge
	MinDistance     prometheus.Gauge
}

func NewCollector(proximityMeters, minDistanceMeters float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_active_sessions",
			Help: "Number of navigation sessions currently active.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_sessions_started_total",
			Help: "Total navigation sessions started.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_sessions_ended_total",
			Help: "Total navigation sessions ended, by reason.",
		}, []string{"reason"}),
		PermissionRefusals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_permission_denied_total",
			Help: "Total start attempts refused for lack of location permission.",
		}),
		StepsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_steps_advanced_total",
			Help: "Total route steps reached.",
		}),
		LocationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_location_errors_total",
			Help: "Total location stream failures reported during navigation.",
		}),
		SpeechQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_speech_queued_total",
			Help: "Total sentences accepted for speech.",
		}),
		SpeechDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_speech_dropped_total",
			Help: "Total sentences dropped because the speech queue was full.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		ActiveWalks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_sim_active_walks",
			Help: "Number of simulated travelers currently walking.",
		}),
		WalksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_sim_walks_started_total",
			Help: "Total simulated walks started.",
		}),
		WalksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_sim_walks_finished_total",
			Help: "Total simulated walks finished.",
		}),
		FixDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_fix_duration_seconds",
			Help:    "Duration of position fix handling.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_sim_tick_duration_seconds",
			Help:    "Duration of one simulator tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		ProximityMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_proximity_meters",
			Help: "Trigger radius around each step.",
		}),
		MinDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_watch_min_distance_meters",
			Help: "Minimum distance between delivered fixes.",
		}),
	}

	// Register
	reg.MustRegister(
		c.ActiveSessions,
		c.SessionsStarted, c.SessionsEnded, c.PermissionRefusals, c.StepsAdvanced, c.LocationErrors,
		c.SpeechQueued, c.SpeechDropped,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.ActiveWalks, c.WalksStarted, c.WalksFinished,
		c.FixDuration, c.PublishDuration, c.TickDuration,
		c.ProximityMeters, c.MinDistance,
	)

	c.ProximityMeters.Set(proximityMeters)
	c.MinDistance.Set(minDistanceMeters)

	return c
}

// nav.Metrics

func (c *Collector) SessionStarted() {
	c.SessionsStarted.Inc()
	c.ActiveSessions.Inc()
}

func (c *Collector) SessionEnded(reason string) {
	c.SessionsEnded.WithLabelValues(reason).Inc()
	c.ActiveSessions.Dec()
}

func (c *Collector) PermissionDenied()            { c.PermissionRefusals.Inc() }
func (c *Collector) FixProcessed(d time.Duration) { c.FixDuration.Observe(d.Seconds()) }
func (c *Collector) StepAdvanced()                { c.StepsAdvanced.Inc() }
func (c *Collector) LocationError()               { c.LocationErrors.Inc() }

// speech.QueueMetrics

func (c *Collector) SpeechQueuedInc()  { c.SpeechQueued.Inc() }
func (c *Collector) SpeechDroppedInc() { c.SpeechDropped.Inc() }

// publisher.PublisherMetrics

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// sim.Metrics

func (c *Collector) WalksStartedInc()            { c.WalksStarted.Inc() }
func (c *Collector) WalksFinishedInc()           { c.WalksFinished.Inc() }
func (c *Collector) ActiveWalksSet(n int)        { c.ActiveWalks.Set(float64(n)) }
func (c *Collector) TickObserve(d time.Duration) { c.TickDuration.Observe(d.Seconds()) }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
