package server

import (
	"sync"
	"sync/atomic"
	"time"

	apperrors "prepai/internal/errors"
	"prepai/internal/session"
	"prepai/internal/speech"
)

// liveSession is one interview hosted by the gateway.
type liveSession struct {
	id      string
	orch    *session.Orchestrator
	bridge  *Bridge
	created time.Time

	lastSeen    atomic.Int64
	unsubscribe []func()
	closeOnce   sync.Once
}

func (ls *liveSession) touch(now time.Time) {
	ls.lastSeen.Store(now.UnixNano())
}

func (ls *liveSession) idleSince() time.Time {
	return time.Unix(0, ls.lastSeen.Load())
}

// pushState sends the current state to the connected browser, if any.
func (ls *liveSession) pushState() {
	if !ls.bridge.Connected() {
		return
	}
	st := ls.orch.State()
	_ = ls.bridge.Send(Frame{Type: FrameState, State: &st})
}

// onSpeechEvent keeps the browser's view in sync with capture and playback.
func (ls *liveSession) onSpeechEvent(ev speech.Event) {
	switch ev.Type {
	case speech.EventTranscript, speech.EventListeningStopped, speech.EventCaptureError,
		speech.EventSpeechFinished, speech.EventSpeechCancelled, speech.EventPlaybackError:
		ls.pushState()
	}
}

// close releases everything the session owns. The orchestrator goes first so
// its release frames still reach the browser.
func (ls *liveSession) close() {
	ls.closeOnce.Do(func() {
		_ = ls.orch.Close()
		for _, unsubscribe := range ls.unsubscribe {
			unsubscribe()
		}
		ls.bridge.Close()
	})
}

// Registry tracks gateway sessions by id and reaps idle ones.
type Registry struct {
	ttl    time.Duration
	now    func() time.Time
	logger *apperrors.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
	reaped   int64

	done chan struct{}
	once sync.Once
}

// NewRegistry creates a registry. A positive ttl starts a background reaper
// that closes sessions idle for longer than ttl.
func NewRegistry(ttl time.Duration, logger *apperrors.Logger) *Registry {
	r := &Registry{
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]*liveSession),
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go r.reapRoutine(reapInterval(ttl))
	}
	return r
}

func reapInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (r *Registry) add(ls *liveSession) {
	ls.touch(r.now())
	r.mu.Lock()
	r.sessions[ls.id] = ls
	r.mu.Unlock()
}

// get returns the session and marks it as used.
func (r *Registry) get(id string) (*liveSession, error) {
	r.mu.Lock()
	ls, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	ls.touch(r.now())
	return ls, nil
}

// remove unregisters and closes the session.
func (r *Registry) remove(id string) error {
	r.mu.Lock()
	ls, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	ls.close()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reap closes sessions idle for longer than the ttl. Sessions with a
// connected live channel are never idle.
func (r *Registry) Reap() int {
	if r.ttl <= 0 {
		return 0
	}
	now := r.now()

	var expired []*liveSession
	r.mu.Lock()
	for id, ls := range r.sessions {
		if ls.bridge.Connected() {
			ls.touch(now)
			continue
		}
		if now.Sub(ls.idleSince()) > r.ttl {
			expired = append(expired, ls)
			delete(r.sessions, id)
		}
	}
	r.reaped += int64(len(expired))
	r.mu.Unlock()

	for _, ls := range expired {
		r.logger.Info("Reaping idle session", "gateway_session", ls.id, "idle", now.Sub(ls.idleSince()).String())
		ls.close()
	}
	return len(expired)
}

func (r *Registry) reapRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap()
		case <-r.done:
			return
		}
	}
}

// GetStats returns registry statistics for the stats endpoint.
func (r *Registry) GetStats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	connected := 0
	for _, ls := range r.sessions {
		if ls.bridge.Connected() {
			connected++
		}
	}
	return map[string]any{
		"active_sessions":    len(r.sessions),
		"connected_sessions": connected,
		"reaped_sessions":    r.reaped,
		"session_ttl":        r.ttl.String(),
	}
}

// Close stops the reaper and closes every session.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })

	r.mu.Lock()
	all := make([]*liveSession, 0, len(r.sessions))
	for id, ls := range r.sessions {
		all = append(all, ls)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, ls := range all {
		ls.close()
	}
}
