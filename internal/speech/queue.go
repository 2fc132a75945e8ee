package speech

import (
	"log"
	"sync"
)

type QueueMetrics interface {
	SpeechQueuedInc()
	SpeechDroppedInc()
}

// Finaler is implemented by sinks that can accept a closing sentence (arrival, stop) without
// blocking and without dropping it.
type Finaler interface {
	SpeakFinal(text string)
}

// SpeakFinal hands text to s.SpeakFinal when s supports it and to s.Speak otherwise.
func SpeakFinal(s Sink, text string) {
	if f, ok := s.(Finaler); ok {
		f.SpeakFinal(text)
		return
	}
	s.Speak(text)
}

// Queue hands text to a sink on its own goroutine. Speak never blocks: when size sentences are
// already waiting the text is dropped and counted. SpeakFinal is never dropped; it may grow the
// backlog past size. Text is delivered in the order it was accepted.
type Queue struct {
	sink    Sink
	metrics QueueMetrics
	size    int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	closed  bool
	done    chan struct{}
}

func NewQueue(sink Sink, size int, m QueueMetrics) *Queue {
	if size <= 0 {
		size = 16
	}
	q := &Queue{sink: sink, metrics: m, size: size, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		text := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.sink.Speak(text)
	}
}

func (q *Queue) Speak(text string) {
	q.enqueue(text, false)
}

func (q *Queue) SpeakFinal(text string) {
	q.enqueue(text, true)
}

func (q *Queue) enqueue(text string, final bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if !final && len(q.pending) >= q.size {
		log.Printf("speech queue full, dropping: %s", text)
		if q.metrics != nil {
			q.metrics.SpeechDroppedInc()
		}
		return
	}
	q.pending = append(q.pending, text)
	q.cond.Signal()
	if q.metrics != nil {
		q.metrics.SpeechQueuedInc()
	}
}

// Close stops accepting text and waits until everything accepted has been delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
