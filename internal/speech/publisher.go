package speech

import (
	"log"
	"time"

	"bus-navigator/internal/publisher"
)

type announcementPublisher interface {
	PublishAnnouncement(prefix string, msg publisher.AnnouncementMessage) error
}

// PublisherSink publishes every sentence as an announcement on "<prefix>.<session>".
type PublisherSink struct {
	pub       announcementPublisher
	prefix    string
	sessionID string
}

func NewPublisherSink(pub announcementPublisher, prefix, sessionID string) *PublisherSink {
	return &PublisherSink{pub: pub, prefix: prefix, sessionID: sessionID}
}

func (s *PublisherSink) Speak(text string) {
	msg := publisher.AnnouncementMessage{SessionID: s.sessionID, Timestamp: time.Now().UTC(), Text: text}
	if err := s.pub.PublishAnnouncement(s.prefix, msg); err != nil {
		log.Printf("publish announcement session=%s: %v", s.sessionID, err)
	}
}
