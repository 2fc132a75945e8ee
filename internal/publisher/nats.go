package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS with connection state reported to m (which may be nil).
func Connect(url, name string, m PublisherMetrics) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
}

// NewNATSPublisher publishes on an existing connection; the caller keeps ownership of nc.
func NewNATSPublisher(nc *nats.Conn, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	if m != nil {
		m.NATSSetConnected(nc.IsConnected())
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}
}

// Flush waits until buffered messages have been handed to the server.
func (p *NATSPublisher) Flush() error {
	return p.nc.FlushTimeout(3 * time.Second)
}

// PositionMessage is one position fix on the wire.
type PositionMessage struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
	Progress  float64   `json:"progress"`
	SpeedMps  float64   `json:"speedMps"`
}

// AnnouncementMessage carries one spoken sentence.
type AnnouncementMessage struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// PublishPosition publishes msg on "<prefix>.<sessionId>".
func (p *NATSPublisher) PublishPosition(prefix string, msg PositionMessage) error {
	return p.publish(Subject(prefix, msg.SessionID), msg)
}

// PublishAnnouncement publishes msg on "<prefix>.<sessionId>".
func (p *NATSPublisher) PublishAnnouncement(prefix string, msg AnnouncementMessage) error {
	return p.publish(Subject(prefix, msg.SessionID), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// Subject joins a subject prefix with a sanitized session token.
func Subject(prefix, sessionID string) string {
	return fmt.Sprintf("%s.%s", prefix, subjectToken(sessionID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
