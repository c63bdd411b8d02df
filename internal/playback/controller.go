// Package playback owns one audio engine session and the single playback
// state record the now-playing view renders.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Phase is the controller lifecycle step.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhasePlaying Phase = "playing"
	PhasePaused  Phase = "paused"
	PhaseFailed  Phase = "failed"
)

const (
	DefaultStatusInterval = 500 * time.Millisecond
	DefaultSkipStep       = 10 * time.Second
)

// ErrInvalidState is returned when an operation is not allowed in the
// current phase.
var ErrInvalidState = errors.New("operation not valid in current playback state")

// PlaybackError reports an engine failure.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// State is the one playback record. PositionMs stays within [0, DurationMs]
// once the duration is known.
type State struct {
	Phase           Phase   `json:"phase"`
	IsPlaying       bool    `json:"is_playing"`
	PositionMs      int64   `json:"position_ms"`
	DurationMs      int64   `json:"duration_ms"`
	IsUserScrubbing bool    `json:"is_user_scrubbing"`
	Progress        float64 `json:"progress"`
}

// Options tune the controller. Zero values use the defaults.
type Options struct {
	StatusInterval time.Duration
	SkipStep       time.Duration
}

// Controller runs Idle -> Loading -> Playing <-> Paused -> Idle, with
// Loading -> Failed on a load error. The mutex is never held across engine
// calls.
type Controller struct {
	engine   Engine
	interval time.Duration
	skipStep time.Duration

	mu     sync.Mutex
	phase  Phase
	state  State
	subs   map[chan State]struct{}
	closed bool

	closeOnce sync.Once
}

// NewController takes exclusive ownership of engine.
func NewController(engine Engine, opts Options) *Controller {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.SkipStep <= 0 {
		opts.SkipStep = DefaultSkipStep
	}
	c := &Controller{
		engine:   engine,
		interval: opts.StatusInterval,
		skipStep: opts.SkipStep,
		phase:    PhaseIdle,
		subs:     make(map[chan State]struct{}),
	}
	engine.SetStatusHandler(c.handleStatus)
	return c
}

// Load starts streaming url and autoplays on success.
func (c *Controller) Load(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.closed || (c.phase != PhaseIdle && c.phase != PhaseFailed) {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.phase = PhaseLoading
	c.state = State{}
	c.mu.Unlock()
	c.notify()

	log := logrus.WithField("url", url)
	log.Info("Loading track")
	st, err := c.engine.Load(ctx, url, c.interval)

	c.mu.Lock()
	if err != nil {
		c.phase = PhaseFailed
		c.state.IsPlaying = false
		c.mu.Unlock()
		c.notify()
		log.WithError(err).Error("Error loading track")
		return &PlaybackError{Op: "load", Err: err}
	}
	c.phase = PhasePlaying
	c.state.IsPlaying = true
	c.state.DurationMs = st.Duration.Milliseconds()
	c.state.PositionMs = c.clamp(st.Position.Milliseconds())
	c.mu.Unlock()
	c.notify()

	log.WithField("duration_ms", st.Duration.Milliseconds()).Info("Track loaded, playing")
	return nil
}

// TogglePlayPause pauses a playing track or resumes a paused one.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	switch phase {
	case PhasePlaying:
		if err := c.engine.Pause(ctx); err != nil {
			return &PlaybackError{Op: "pause", Err: err}
		}
		c.setPlaying(PhasePaused, false)
	case PhasePaused:
		if err := c.engine.Play(ctx); err != nil {
			return &PlaybackError{Op: "play", Err: err}
		}
		c.setPlaying(PhasePlaying, true)
	default:
		return ErrInvalidState
	}
	return nil
}

func (c *Controller) setPlaying(phase Phase, playing bool) {
	c.mu.Lock()
	c.phase = phase
	c.state.IsPlaying = playing
	c.mu.Unlock()
	c.notify()
}

// Seek moves to target, clamped to [0, duration]. The duration must be known.
func (c *Controller) Seek(ctx context.Context, target time.Duration) error {
	c.mu.Lock()
	if !c.seekable() {
		c.mu.Unlock()
		return ErrInvalidState
	}
	pos := c.clamp(target.Milliseconds())
	c.mu.Unlock()

	if err := c.engine.SetPosition(ctx, time.Duration(pos)*time.Millisecond); err != nil {
		return &PlaybackError{Op: "seek", Err: err}
	}

	c.mu.Lock()
	c.state.PositionMs = pos
	c.mu.Unlock()
	c.notify()
	return nil
}

// SkipBy seeks relative to the current position, clamped to the track.
func (c *Controller) SkipBy(ctx context.Context, delta time.Duration) error {
	c.mu.Lock()
	current := time.Duration(c.state.PositionMs) * time.Millisecond
	c.mu.Unlock()
	return c.Seek(ctx, current+delta)
}

func (c *Controller) SkipForward(ctx context.Context) error  { return c.SkipBy(ctx, c.skipStep) }
func (c *Controller) SkipBackward(ctx context.Context) error { return c.SkipBy(ctx, -c.skipStep) }

// BeginScrub starts a user drag. Until CommitScrub, engine updates no longer
// move the reported position.
func (c *Controller) BeginScrub() error {
	c.mu.Lock()
	if !c.seekable() {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state.IsUserScrubbing = true
	c.mu.Unlock()
	c.notify()
	return nil
}

// ScrubTo moves the displayed position during a drag without touching the
// engine.
func (c *Controller) ScrubTo(pos time.Duration) error {
	c.mu.Lock()
	if !c.state.IsUserScrubbing {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state.PositionMs = c.clamp(pos.Milliseconds())
	c.mu.Unlock()
	c.notify()
	return nil
}

// CommitScrub ends a drag by seeking the engine to pos. Engine updates are
// accepted again afterwards, whether or not the seek succeeded.
func (c *Controller) CommitScrub(ctx context.Context, pos time.Duration) error {
	c.mu.Lock()
	if !c.seekable() {
		c.state.IsUserScrubbing = false
		c.mu.Unlock()
		return ErrInvalidState
	}
	target := c.clamp(pos.Milliseconds())
	c.mu.Unlock()

	err := c.engine.SetPosition(ctx, time.Duration(target)*time.Millisecond)

	c.mu.Lock()
	if err == nil {
		c.state.PositionMs = target
	}
	c.state.IsUserScrubbing = false
	c.mu.Unlock()
	c.notify()

	if err != nil {
		return &PlaybackError{Op: "seek", Err: err}
	}
	return nil
}

// handleStatus applies an engine update. While the user is scrubbing the
// position is left alone. A natural end of track restarts from zero without
// leaving the playing phase.
func (c *Controller) handleStatus(st Status) {
	c.mu.Lock()
	if c.closed || (c.phase != PhasePlaying && c.phase != PhasePaused) {
		c.mu.Unlock()
		return
	}
	if st.Err != nil {
		c.mu.Unlock()
		logrus.WithError(st.Err).Error("Playback error")
		return
	}
	if !st.Loaded {
		c.mu.Unlock()
		return
	}

	if d := st.Duration.Milliseconds(); d > 0 {
		c.state.DurationMs = d
	}
	if !c.state.IsUserScrubbing {
		if st.DidJustFinish {
			c.state.PositionMs = 0
		} else {
			c.state.PositionMs = c.clamp(st.Position.Milliseconds())
		}
	}
	c.mu.Unlock()
	c.notify()

	if st.DidJustFinish {
		logrus.Debug("Track finished, looping")
		if err := c.engine.Replay(context.Background()); err != nil {
			logrus.WithError(err).Error("Error restarting track")
		}
	}
}

// State returns a copy of the playback record.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Phase returns the current lifecycle step.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Subscribe registers for state updates. Slow subscribers miss updates rather
// than blocking playback. The channel is closed by cancel or Close.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	ch <- c.snapshot()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Close releases the engine exactly once, whatever state playback is in.
// Later calls return nil.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		err = c.engine.Unload(ctx)
		if err != nil {
			logrus.WithError(err).Warn("Error unloading audio engine")
		}

		c.mu.Lock()
		c.phase = PhaseIdle
		c.state.IsPlaying = false
		for ch := range c.subs {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	})
	return err
}

func (c *Controller) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.snapshot()
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// seekable must be called with mu held.
func (c *Controller) seekable() bool {
	return !c.closed && (c.phase == PhasePlaying || c.phase == PhasePaused) && c.state.DurationMs > 0
}

// clamp must be called with mu held.
func (c *Controller) clamp(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if c.state.DurationMs > 0 && ms > c.state.DurationMs {
		return c.state.DurationMs
	}
	return ms
}

// snapshot must be called with mu held.
func (c *Controller) snapshot() State {
	st := c.state
	st.Phase = c.phase
	if st.DurationMs > 0 {
		st.Progress = float64(st.PositionMs) / float64(st.DurationMs)
	}
	return st
}

// FormatTime renders milliseconds as m:ss.
func FormatTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d:%02d", ms/60000, (ms/1000)%60)
}
