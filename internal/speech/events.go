// Package speech turns microphone audio into text and text into audio. Both
// directions are modelled as components over pluggable engines that report
// progress through an observer Emitter.
package speech

import (
	"slices"
	"sync"
	"time"
)

// EventType names an event emitted by Capture or Playback.
type EventType string

const (
	// EventListeningStarted is emitted by Capture.Start. Payload: ID.
	EventListeningStarted EventType = "listening_started"
	// EventTranscript carries the full cumulative transcript. Payload: Update.
	EventTranscript EventType = "transcript"
	// EventListeningStopped is emitted once per session. Payload: Update with
	// Final set and the final transcript.
	EventListeningStopped EventType = "listening_stopped"
	// EventCaptureError reports an engine failure. Payload: Err.
	EventCaptureError EventType = "capture_error"

	// EventSpeechStarted is emitted when an utterance begins. Payload: Text.
	EventSpeechStarted EventType = "speech_started"
	// EventSpeechFinished is emitted only on natural completion. Payload: Text.
	EventSpeechFinished EventType = "speech_finished"
	// EventSpeechCancelled is emitted when an utterance is cut short by Stop
	// or a newer Speak. Payload: Text.
	EventSpeechCancelled EventType = "speech_cancelled"
	// EventPlaybackError reports an engine failure. Payload: Text, Err.
	EventPlaybackError EventType = "playback_error"
)

// Update is one transcript snapshot. Text is cumulative since Start.
type Update struct {
	Text       string
	Confidence float64
	Final      bool
	Seq        int
}

// Event is delivered to listeners.
type Event struct {
	Type EventType
	// ID is the listening session or utterance the event belongs to
	ID     uint64
	Update Update
	Text   string
	Err    error
	At     time.Time
}

// Listener receives events. Listeners run on the emitting goroutine and must
// not block.
type Listener func(Event)

// Emitter fans events out to subscribed listeners.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// NewEmitter creates an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (e *Emitter) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Emit delivers ev to every listener in subscription order.
func (e *Emitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.RLock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	snapshot := make(map[int]Listener, len(e.listeners))
	for id, l := range e.listeners {
		snapshot[id] = l
	}
	e.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		snapshot[id](ev)
	}
}
