package playback

import (
	"context"
	"time"
)

// Status is one update pushed by an Engine.
type Status struct {
	Loaded        bool
	IsPlaying     bool
	Position      time.Duration
	Duration      time.Duration
	DidJustFinish bool // the track reached its natural end
	Err           error
}

// StatusHandler receives engine status updates.
type StatusHandler func(Status)

// Engine is an audio engine session. Load starts playback immediately and
// then pushes a Status every interval to the handler set with
// SetStatusHandler. Implementations must deliver status updates from their
// own goroutine, never synchronously from inside a method call.
type Engine interface {
	SetStatusHandler(h StatusHandler)
	Load(ctx context.Context, url string, interval time.Duration) (Status, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SetPosition(ctx context.Context, pos time.Duration) error
	// Replay restarts from the beginning and keeps playing.
	Replay(ctx context.Context) error
	// Unload releases the session. The engine is unusable afterwards.
	Unload(ctx context.Context) error
}
