// Package media owns the camera and microphone for one interview session.
package media

import (
	"context"
	"time"
)

// TrackKind identifies one track of a device stream.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Valid reports whether k is a known track kind.
func (k TrackKind) Valid() bool {
	return k == TrackVideo || k == TrackAudio
}

// Frame is one unit of preview data pushed by a device.
type Frame struct {
	Kind TrackKind
	Data []byte
	At   time.Time
}

// FrameSink receives preview frames while a stream is live.
type FrameSink interface {
	WriteFrame(Frame)
}

// DiscardSink drops every frame.
type DiscardSink struct{}

func (DiscardSink) WriteFrame(Frame) {}

// Device opens combined audio+video streams. Open must return an error
// matching errors.ErrPermissionDenied or errors.ErrDeviceUnavailable when
// access is refused or no hardware exists.
type Device interface {
	Open(ctx context.Context, sink FrameSink) (Stream, error)
}

// Stream is a live device stream as seen by the acquirer.
type Stream interface {
	// Kinds lists the tracks the stream carries.
	Kinds() []TrackKind
	// SetEnabled flips a track without renegotiating the stream.
	SetEnabled(kind TrackKind, enabled bool) error
	// StopTrack permanently stops one track.
	StopTrack(kind TrackKind) error
}
