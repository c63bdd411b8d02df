package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/snaptracks/internal/audio"
)

// Broadcaster fans out PCM frames from the player to N listeners. When the
// player goes quiet (paused, loading, or between sessions) it fills the gap
// with silent frames so encoders and clients keep their connections open.
type Broadcaster struct {
	silenceAfter time.Duration

	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	dropped atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
}

// NewBroadcaster creates a broadcaster. silenceAfter is how long the source
// may stall before silence is sent; zero disables the fill.
func NewBroadcaster(silenceAfter time.Duration) *Broadcaster {
	return &Broadcaster{
		silenceAfter: silenceAfter,
		listeners:    make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, 150), // ~3 seconds at 20ms/frame
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped is the number of frames skipped for listeners that fell behind.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Run reads frames from source and fans out to all listeners until ctx is
// done or source is closed.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	var idle <-chan time.Time
	var timer *time.Timer
	if b.silenceAfter > 0 {
		timer = time.NewTimer(b.silenceAfter)
		defer timer.Stop()
		idle = timer.C
	}
	silence := make([]int16, audio.FrameSamples)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.fanOut(frame)
			if timer != nil {
				timer.Reset(b.silenceAfter)
			}
		case <-idle:
			b.fanOut(silence)
			timer.Reset(audio.FrameDuration)
		}
	}
}

func (b *Broadcaster) fanOut(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}
