package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/snaptracks/internal/playback"
)

// ErrNotLoaded is returned by transport calls before Load or after Unload.
var ErrNotLoaded = errors.New("no track loaded")

var _ playback.Engine = (*Player)(nil)

// DecodeFunc turns a track URL into interleaved 48kHz stereo samples.
type DecodeFunc func(ctx context.Context, url string) ([]int16, error)

// Player plays one decoded track at real-time rate and implements
// playback.Engine. Frames go to the shared output channel the broadcaster
// reads; status updates are delivered from the player's own goroutine.
type Player struct {
	out    chan<- []int16
	decode DecodeFunc

	mu      sync.Mutex
	handler playback.StatusHandler
	samples []int16
	frame   int // next frame index
	playing bool
	fade    int // frames left in the current fade-in
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPlayer creates a player writing frames to out. A nil decode uses
// DecodeURL.
func NewPlayer(out chan<- []int16, decode DecodeFunc) *Player {
	if decode == nil {
		decode = DecodeURL
	}
	return &Player{out: out, decode: decode}
}

func (p *Player) SetStatusHandler(h playback.StatusHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Load decodes url and starts playing it from the beginning. A status update
// is emitted every interval until Unload.
func (p *Player) Load(ctx context.Context, url string, interval time.Duration) (playback.Status, error) {
	samples, err := p.decode(ctx, url)
	if err != nil {
		return playback.Status{}, err
	}
	if len(samples) < FrameSamples {
		return playback.Status{}, errors.New("decoded track is empty")
	}

	p.stop()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.samples = samples
	p.frame = 0
	p.playing = true
	p.fade = 0
	p.cancel = cancel
	p.done = done
	st := p.statusLocked(false)
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"url":      url,
		"frames":   len(samples) / FrameSamples,
		"duration": st.Duration,
	}).Debug("Decoded track")

	go p.run(runCtx, done, interval)
	return st, nil
}

func (p *Player) Play(ctx context.Context) error {
	return p.update(func() { p.playing = true })
}

func (p *Player) Pause(ctx context.Context) error {
	return p.update(func() { p.playing = false })
}

// SetPosition moves the read head. The next frames fade in to avoid a click.
func (p *Player) SetPosition(ctx context.Context, pos time.Duration) error {
	return p.update(func() {
		frame := int(pos / FrameDuration)
		if total := len(p.samples) / FrameSamples; frame >= total {
			frame = total - 1
		}
		if frame < 0 {
			frame = 0
		}
		p.frame = frame
		p.fade = declickFrames
	})
}

// Replay restarts the track from zero and plays.
func (p *Player) Replay(ctx context.Context) error {
	return p.update(func() {
		p.frame = 0
		p.playing = true
		p.fade = declickFrames
	})
}

// Unload stops the playout goroutine and drops the decoded samples. Safe to
// call more than once.
func (p *Player) Unload(ctx context.Context) error {
	p.stop()
	p.mu.Lock()
	p.samples = nil
	p.frame = 0
	p.playing = false
	p.mu.Unlock()
	return nil
}

func (p *Player) update(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples == nil {
		return ErrNotLoaded
	}
	fn()
	return nil
}

func (p *Player) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Player) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	frameTicker := time.NewTicker(FrameDuration)
	defer frameTicker.Stop()
	statusTicker := time.NewTicker(interval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			p.emit(false)
		case <-frameTicker.C:
			frame, finished := p.nextFrame()
			if frame != nil && p.out != nil {
				select {
				case p.out <- frame:
				case <-ctx.Done():
					return
				}
			}
			if finished {
				p.emit(true)
			}
		}
	}
}

// nextFrame returns the frame to send on this tick, or nil while paused.
// finished reports that the last frame was just played.
func (p *Player) nextFrame() (frame []int16, finished bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.samples) / FrameSamples
	if !p.playing || p.frame >= total {
		return nil, false
	}

	frame = p.samples[p.frame*FrameSamples : (p.frame+1)*FrameSamples]
	if p.fade > 0 {
		frame = FadeIn(frame, declickFrames-p.fade, declickFrames)
		p.fade--
	}
	p.frame++
	if p.frame >= total {
		p.playing = false
		finished = true
	}
	return frame, finished
}

func (p *Player) emit(finished bool) {
	p.mu.Lock()
	h := p.handler
	st := p.statusLocked(finished)
	p.mu.Unlock()

	if h != nil {
		h(st)
	}
}

func (p *Player) statusLocked(finished bool) playback.Status {
	total := len(p.samples) / FrameSamples
	return playback.Status{
		Loaded:        p.samples != nil,
		IsPlaying:     p.playing,
		Position:      time.Duration(p.frame) * FrameDuration,
		Duration:      time.Duration(total) * FrameDuration,
		DidJustFinish: finished,
	}
}
