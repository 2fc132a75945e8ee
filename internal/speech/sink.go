// Package speech delivers spoken instructions. Delivery is fire-and-forget: a Sink never reports
// whether or when the text was played.
package speech

import "log"

// Sink accepts text to be spoken. Speak must return promptly; wrap slow backends in a Queue.
type Sink interface {
	Speak(text string)
}

// Func adapts a function to Sink.
type Func func(text string)

func (f Func) Speak(text string) { f(text) }

// Multi fans text out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Speak(text string) {
	for _, s := range m {
		s.Speak(text)
	}
}

// LogSink writes every sentence to the standard logger.
type LogSink struct {
	SessionID string
}

func (l LogSink) Speak(text string) {
	log.Printf("speak session=%s: %s", l.SessionID, text)
}
