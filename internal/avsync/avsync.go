// Package avsync paces decoded video against an audio clock.
//
// Each decoded picture is compared with the audio clock: pictures more than
// AheadThreshold early are held on a single pending timer, pictures more
// than BehindThreshold late are dropped, and everything else renders at
// once. A newer delayed picture replaces the pending one.
package avsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/playout/internal/media"
)

// Default drift thresholds.
const (
	DefaultAheadThreshold  = 30 * time.Millisecond
	DefaultBehindThreshold = 60 * time.Millisecond
	minDelay               = time.Millisecond
)

// Action is the decision taken for one picture.
type Action int

// Sync decisions.
const (
	ActionRender Action = iota
	ActionDelay
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionRender:
		return "render"
	case ActionDelay:
		return "delay"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Clock is the audio reference. ClockMs returns a negative value until the
// clock has a valid reading.
type Clock interface {
	ClockMs() float64
	Active() bool
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via
// StdAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc schedules with time.AfterFunc.
func StdAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Stats counts sync decisions.
type Stats struct {
	Rendered   int64 `json:"rendered"`
	Delayed    int64 `json:"delayed"`
	Skipped    int64 `json:"skipped"`
	Superseded int64 `json:"superseded"`
}

// Config configures a Controller. Zero thresholds select the defaults and
// a nil AfterFunc selects StdAfterFunc.
type Config struct {
	AheadThreshold  time.Duration
	BehindThreshold time.Duration
	AfterFunc       AfterFunc
	Logger          *slog.Logger
}

// Controller makes render/delay/skip decisions for one stream. It is safe
// for concurrent use. render must not call Destroy.
type Controller struct {
	log    *slog.Logger
	ahead  float64
	behind float64
	after  AfterFunc
	render func(*media.VideoFrame)

	// renderMu serializes timer renders with Destroy.
	renderMu sync.Mutex

	mu        sync.Mutex
	clock     Clock
	pending   *media.VideoFrame
	timer     Timer
	gen       uint64
	destroyed bool
	stats     Stats
}

// New creates a Controller that hands pictures to render.
func New(cfg Config, render func(*media.VideoFrame)) *Controller {
	if cfg.AheadThreshold <= 0 {
		cfg.AheadThreshold = DefaultAheadThreshold
	}
	if cfg.BehindThreshold <= 0 {
		cfg.BehindThreshold = DefaultBehindThreshold
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = StdAfterFunc
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		log:    cfg.Logger.With("component", "avsync"),
		ahead:  float64(cfg.AheadThreshold) / float64(time.Millisecond),
		behind: float64(cfg.BehindThreshold) / float64(time.Millisecond),
		after:  cfg.AfterFunc,
		render: render,
	}
}

// SetClock attaches or detaches (nil) the audio reference.
func (c *Controller) SetClock(clock Clock) {
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// Process decides what to do with frame and carries it out. Render
// decisions call render before returning.
func (c *Controller) Process(frame *media.VideoFrame) Action {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ActionSkip
	}

	action := ActionRender
	var delay time.Duration
	if c.clock != nil && c.clock.Active() {
		if now := c.clock.ClockMs(); now >= 0 {
			drift := frame.PTS - now
			switch {
			case drift > c.ahead:
				action = ActionDelay
				delay = max(minDelay, time.Duration(drift*float64(time.Millisecond)))
			case drift < -c.behind:
				action = ActionSkip
			}
		}
	}

	switch action {
	case ActionDelay:
		c.schedule(frame, delay)
		c.stats.Delayed++
		c.mu.Unlock()
	case ActionSkip:
		c.stats.Skipped++
		c.mu.Unlock()
	default:
		c.stats.Rendered++
		c.mu.Unlock()
		c.render(frame)
	}
	return action
}

// schedule replaces any pending picture. c.mu must be held.
func (c *Controller) schedule(frame *media.VideoFrame, delay time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
		c.stats.Superseded++
	}
	c.gen++
	gen := c.gen
	c.pending = frame
	c.timer = c.after(delay, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if c.destroyed || gen != c.gen || c.pending == nil {
		c.mu.Unlock()
		return
	}
	frame := c.pending
	c.pending = nil
	c.timer = nil
	c.stats.Rendered++
	c.mu.Unlock()

	c.render(frame)
}

// HasPending reports whether a delayed picture is waiting.
func (c *Controller) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Stats returns decision counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Destroy cancels the pending picture. No render happens after Destroy
// returns. Destroy is idempotent.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = nil
	c.pending = nil
	c.destroyed = true
	c.mu.Unlock()

	// Wait out a timer render that already passed its checks.
	c.renderMu.Lock()
	c.renderMu.Unlock()
}
