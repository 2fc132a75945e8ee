package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bus-navigator/internal/publisher"
)

// AMQPSink publishes announcements to a RabbitMQ topic exchange with routing key
// "announcement.<session>".
type AMQPSink struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	exchange  string
	sessionID string
}

func DialAMQP(url, exchange, sessionID string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange %q: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, sessionID: sessionID}, nil
}

func (s *AMQPSink) Speak(text string) {
	body, err := json.Marshal(publisher.AnnouncementMessage{SessionID: s.sessionID, Timestamp: time.Now().UTC(), Text: text})
	if err != nil {
		log.Printf("amqp marshal announcement: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.ch.PublishWithContext(ctx, s.exchange, "announcement."+s.sessionID, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		log.Printf("amqp publish announcement session=%s: %v", s.sessionID, err)
	}
}

func (s *AMQPSink) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
