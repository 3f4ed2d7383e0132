package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	apperrors "prepai/internal/errors"
)

var handleSeq atomic.Uint64

// Handle is an owned reference to a live stream. It becomes invalid once
// released.
type Handle struct {
	id     uint64
	stream Stream

	mu       sync.Mutex
	released bool
	enabled  map[TrackKind]bool
	stopped  map[TrackKind]bool
}

func newHandle(stream Stream) *Handle {
	h := &Handle{
		id:      handleSeq.Add(1),
		stream:  stream,
		enabled: make(map[TrackKind]bool),
		stopped: make(map[TrackKind]bool),
	}
	for _, kind := range stream.Kinds() {
		h.enabled[kind] = true
	}
	return h
}

// ID identifies the handle for logging.
func (h *Handle) ID() uint64 {
	return h.id
}

// Active reports whether the handle has not been released.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released
}

// TrackEnabled reports the enabled flag of a track and whether the track
// exists.
func (h *Handle) TrackEnabled(kind TrackKind) (enabled, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	enabled, ok = h.enabled[kind]
	return enabled, ok
}

// Acquirer hands out at most one live Handle at a time.
type Acquirer struct {
	device Device
	sink   FrameSink
	logger *apperrors.Logger

	mu      sync.Mutex
	current *Handle
}

// NewAcquirer creates an acquirer over device. A nil sink discards frames.
func NewAcquirer(device Device, sink FrameSink, logger *apperrors.Logger) *Acquirer {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &Acquirer{device: device, sink: sink, logger: logger}
}

// Acquire opens the device. Any handle still live is released first so no
// stream is orphaned.
func (a *Acquirer) Acquire(ctx context.Context) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		a.logger.Debug("Releasing previous media handle before re-acquire", "handle_id", a.current.id)
		a.release(a.current)
		a.current = nil
	}

	if a.device == nil {
		return nil, apperrors.ErrDeviceUnavailable
	}

	stream, err := a.device.Open(ctx, a.sink)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	h := newHandle(stream)
	a.current = h
	a.logger.Info("Media acquired", "handle_id", h.id, "tracks", len(h.enabled))
	return h, nil
}

func classifyOpenError(err error) error {
	if errors.Is(err, apperrors.ErrPermissionDenied) || errors.Is(err, apperrors.ErrDeviceUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewHardwareError(apperrors.ErrCodeDeviceUnavailable, "timed out waiting for camera and microphone", err)
	}
	return apperrors.NewHardwareError(apperrors.ErrCodeDeviceUnavailable, "camera or microphone could not be opened", err)
}

// Release stops every track of h and invalidates it. Releasing an already
// released or nil handle is a no-op.
func (a *Acquirer) Release(h *Handle) {
	if h == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.release(h)
	if a.current == h {
		a.current = nil
	}
}

// ReleaseCurrent releases whatever handle is live.
func (a *Acquirer) ReleaseCurrent() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		a.release(a.current)
		a.current = nil
	}
}

func (a *Acquirer) release(h *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	for kind := range h.enabled {
		if h.stopped[kind] {
			continue
		}
		h.stopped[kind] = true
		if err := h.stream.StopTrack(kind); err != nil {
			a.logger.Warn("Failed to stop media track", "handle_id", h.id, "kind", kind, "error", err.Error())
		}
	}
	a.logger.Info("Media released", "handle_id", h.id)
}

// Current returns the live handle, if any.
func (a *Acquirer) Current() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// ToggleTrack flips the enabled flag of one track of a live handle.
func (a *Acquirer) ToggleTrack(h *Handle, kind TrackKind, enabled bool) error {
	if h == nil {
		return apperrors.NewStateError(apperrors.ErrCodeInvalidState, "no active media handle", nil)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return apperrors.NewStateError(apperrors.ErrCodeInvalidState, "media handle already released", nil)
	}
	if _, ok := h.enabled[kind]; !ok {
		return apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, fmt.Sprintf("stream has no %s track", kind), nil)
	}
	if err := h.stream.SetEnabled(kind, enabled); err != nil {
		return apperrors.NewHardwareError(apperrors.ErrCodeDeviceUnavailable, fmt.Sprintf("could not toggle %s track", kind), err)
	}
	h.enabled[kind] = enabled
	return nil
}
