// Package readiness waits for a freshly generated media URL to become
// fetchable.
package readiness

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout  = 300 * time.Second
	DefaultInterval = 5 * time.Second
)

// TimeoutError is returned when the URL did not become ready in time.
type TimeoutError struct {
	URL      string
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s not ready after %v (%d checks)", e.URL, e.Timeout, e.Attempts)
}

// Checker performs one existence check. Any error counts as not ready.
type Checker interface {
	Check(ctx context.Context, url string) error
}

// Clock abstracts time so tests can drive the poll loop.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// HeadChecker checks a URL with an HTTP HEAD request.
type HeadChecker struct {
	Client *http.Client
}

func (h HeadChecker) Check(ctx context.Context, url string) error {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HEAD %s: %s", url, resp.Status)
	}
	return nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poller repeatedly checks a URL until it succeeds or a deadline passes.
type Poller struct {
	checker  Checker
	clock    Clock
	timeout  time.Duration
	interval time.Duration
}

// NewPoller creates a poller that issues HEAD requests. Zero durations fall
// back to the defaults.
func NewPoller(client *http.Client, timeout, interval time.Duration) *Poller {
	return newPoller(HeadChecker{Client: client}, realClock{}, timeout, interval)
}

func newPoller(checker Checker, clock Clock, timeout, interval time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{checker: checker, clock: clock, timeout: timeout, interval: interval}
}

// WaitUntilReady blocks until url answers a check successfully. Failed checks
// are not fatal; only running out of time is. Between checks the goroutine
// sleeps for the poll interval.
func (p *Poller) WaitUntilReady(ctx context.Context, url string) error {
	log := logrus.WithField("url", url)
	start := p.clock.Now()
	attempts := 0

	for elapsed := time.Duration(0); elapsed < p.timeout; elapsed = p.clock.Now().Sub(start) {
		attempts++
		err := p.check(ctx, url, p.timeout-elapsed)
		if err == nil {
			log.WithField("attempts", attempts).Info("Audio URL is ready")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithField("attempt", attempts).Debug("Waiting for audio URL to be ready...")

		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			return err
		}
	}

	log.WithField("attempts", attempts).Warn("Audio URL did not become ready in time")
	return &TimeoutError{URL: url, Timeout: p.timeout, Attempts: attempts}
}

// check runs one attempt bounded by the time left. A check that hangs past
// the deadline counts as not ready.
func (p *Poller) check(ctx context.Context, url string, remaining time.Duration) error {
	checkCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return p.checker.Check(checkCtx, url)
}
