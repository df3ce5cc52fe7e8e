// Package playback plays tutor audio through a single shared output.
// A new clip always stops the previous one; clips are never queued.
package playback

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
)

// Handle is one playing clip.
type Handle interface {
	Stop()
}

// Output is the shared audio output device.
type Output interface {
	// Suspend releases the device while nothing plays. It is a no-op when already suspended.
	Suspend() error
	// Resume reactivates a suspended output. It is a no-op when already running.
	Resume() error
	// Play starts clip and calls done from another goroutine when it ends naturally.
	Play(clip *Clip, done func()) (Handle, error)
	Close() error
}

// OutputFactory creates the shared output on first use.
type OutputFactory func() (Output, error)

// Controller owns the single playback handle. Failures are logged and
// reported to the optional failure hook, never returned.
// It is safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	newOutput OutputFactory
	output    Output
	current   Handle
	seq       uint64
	onFailure func(error)
	onStart   func(*Clip)
}

// NewController creates a controller with a lazily created output.
func NewController(newOutput OutputFactory) *Controller {
	return &Controller{newOutput: newOutput}
}

// OnFailure registers fn to be told about decode and output failures.
func (c *Controller) OnFailure(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = fn
}

// OnStart registers fn to be told when a clip starts playing.
func (c *Controller) OnStart(fn func(*Clip)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStart = fn
}

// Play decodes a base64 payload and plays it, stopping any clip already
// playing. An empty payload does nothing.
func (c *Controller) Play(payload string) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		c.fail("decode base64", err)
		return
	}
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	if c.output == nil {
		out, err := c.newOutput()
		if err != nil {
			c.failLocked("open output", err)
			return
		}
		c.output = out
	}
	if err := c.output.Resume(); err != nil {
		c.failLocked("resume output", err)
		return
	}

	clip, err := Decode(data)
	if err != nil {
		c.failLocked("decode audio", err)
		return
	}

	c.seq++
	id := c.seq
	h, err := c.output.Play(clip, func() { c.finished(id) })
	if err != nil {
		c.failLocked("start playback", err)
		return
	}
	c.current = h

	slog.Info("playback started", "content_type", clip.ContentType, "duration", clip.Duration())
	if c.onStart != nil {
		c.onStart(clip)
	}
}

// Stop stops the playing clip, if any, and suspends the output.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.stopLocked()
	c.suspendLocked()
}

// Playing reports whether a clip is currently playing.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Close stops playback and releases the output.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	if c.output == nil {
		return nil
	}
	err := c.output.Close()
	c.output = nil
	return err
}

func (c *Controller) stopLocked() {
	if c.current == nil {
		return
	}
	c.current.Stop()
	c.current = nil
	slog.Debug("playback stopped")
}

func (c *Controller) finished(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.seq && c.current != nil {
		c.current = nil
		c.suspendLocked()
	}
}

// suspendLocked idles the output once no clip is playing. Play resumes it.
func (c *Controller) suspendLocked() {
	if c.output == nil {
		return
	}
	if err := c.output.Suspend(); err != nil {
		slog.Warn("failed to suspend output", "error", err)
	}
}

func (c *Controller) fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(op, err)
}

func (c *Controller) failLocked(op string, err error) {
	slog.Warn("playback failed", "step", op, "error", err)
	if c.onFailure != nil {
		c.onFailure(err)
	}
}
