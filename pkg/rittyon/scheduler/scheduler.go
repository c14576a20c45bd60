// Package scheduler implements rittyon's daily notification.
// Uses robfig/cron for the recurring per-minute tick; each tick checks the
// wall clock against the configured minute of day and fires at most once per
// calendar day.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	// Embedded zoneinfo so Asia/Tokyo loads on minimal container images.
	_ "time/tzdata"
)

// DailyMessage is the fixed notification text.
const DailyMessage = "@everyone\n" +
	"20時👍\n" +
	"21時⭕\n" +
	"22時😎\n" +
	"観戦👀\n" +
	"参加不可❌"

// ErrDeliveryFailed wraps send errors at fire time.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// dateLayout keys the last-fired calendar day.
const dateLayout = "2006-01-02"

// Config controls when the notification fires.
type Config struct {
	// Hour and Minute are the fire time in Timezone.
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`

	// Timezone is an IANA zone name (e.g. "Asia/Tokyo").
	Timezone string `yaml:"timezone"`

	// Tick is the cron spec of the polling tick. Defaults to every minute.
	Tick string `yaml:"tick"`

	// CatchUpMinutes lets a late tick still fire when the exact minute was
	// missed. Zero means only the exact minute fires.
	CatchUpMinutes int `yaml:"catch_up_minutes"`
}

// DefaultConfig returns the schedule the bot has always used: 19:55 JST.
func DefaultConfig() Config {
	return Config{
		Hour:     19,
		Minute:   55,
		Timezone: "Asia/Tokyo",
		Tick:     "* * * * *",
	}
}

// Validate checks ranges and that the timezone and tick parse.
func (c Config) Validate() error {
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("scheduler: hour %d out of range 0-23", c.Hour)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("scheduler: minute %d out of range 0-59", c.Minute)
	}
	if c.CatchUpMinutes < 0 || c.CatchUpMinutes >= 24*60 {
		return fmt.Errorf("scheduler: catch_up_minutes %d out of range 0-1439", c.CatchUpMinutes)
	}
	if _, err := time.LoadLocation(c.timezone()); err != nil {
		return fmt.Errorf("scheduler: timezone %q: %w", c.Timezone, err)
	}
	if _, err := tickParser.Parse(c.tick()); err != nil {
		return fmt.Errorf("scheduler: tick %q: %w", c.Tick, err)
	}
	return nil
}

func (c Config) timezone() string {
	if c.Timezone == "" {
		return "Asia/Tokyo"
	}
	return c.Timezone
}

func (c Config) tick() string {
	if c.Tick == "" {
		return "* * * * *"
	}
	return c.Tick
}

var tickParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// DeliverFunc sends message to a channel. The Discord shell provides it.
type DeliverFunc func(ctx context.Context, channelID, message string) error

// Notifier holds the notification target and fires the daily message.
// State: Idle (no target) or Armed (target set).
type Notifier struct {
	cfg     Config
	loc     *time.Location
	deliver DeliverFunc
	message string

	// now is the clock used by cron-driven ticks.
	now func() time.Time

	// target is the channel ID; empty means Idle.
	target string

	// lastFired is the calendar date (in loc) of the last fire.
	lastFired string

	cron       *cron.Cron
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
	mu         sync.Mutex
}

// New creates an Idle notifier. The config must be valid.
func New(cfg Config, deliver DeliverFunc, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.timezone())
	if err != nil {
		return nil, err
	}
	return &Notifier{
		cfg:        cfg,
		loc:        loc,
		deliver:    deliver,
		message:    DailyMessage,
		now:        time.Now,
		jobTimeout: 30 * time.Second,
		logger:     logger.With("component", "scheduler"),
	}, nil
}

// SetTarget arms the notifier for channelID, replacing any previous target.
// The channel is not checked here; an unreachable channel fails at fire time.
func (n *Notifier) SetTarget(channelID string) {
	n.mu.Lock()
	prev := n.target
	n.target = channelID
	n.mu.Unlock()

	n.logger.Info("notification target set", "channel_id", channelID, "previous", prev)
}

// Target returns the current target and whether the notifier is armed.
func (n *Notifier) Target() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target, n.target != ""
}

// Tick evaluates the schedule at now and delivers the message if it is due.
// Returns true when this tick fired, whether or not delivery succeeded.
func (n *Notifier) Tick(ctx context.Context, now time.Time) bool {
	local := now.In(n.loc)

	n.mu.Lock()
	target := n.target
	fireDate, due := n.dueLocked(local)
	if target == "" || !due {
		n.mu.Unlock()
		return false
	}
	// Record the fire before delivering so a concurrent or repeated tick in
	// the same minute cannot send twice.
	n.lastFired = fireDate
	n.mu.Unlock()

	n.logger.Info("firing daily notification", "channel_id", target, "date", fireDate)

	if n.deliver == nil {
		n.logger.Error("no delivery configured, notification dropped", "channel_id", target)
		return true
	}
	if err := n.deliver(ctx, target, n.message); err != nil {
		err = fmt.Errorf("%w: channel %s: %w", ErrDeliveryFailed, target, err)
		n.logger.Error("daily notification not delivered", "channel_id", target, "error", err)
	}
	return true
}

// dueLocked reports whether local falls in a fire window that has not fired
// yet, and the calendar date that window belongs to. A catch-up window that
// starts late in the evening runs past midnight, so the previous day's window
// is checked too. Caller holds n.mu.
func (n *Notifier) dueLocked(local time.Time) (string, bool) {
	window := time.Duration(n.cfg.CatchUpMinutes+1) * time.Minute
	for _, days := range []int{0, -1} {
		day := local.AddDate(0, 0, days)
		fireAt := time.Date(day.Year(), day.Month(), day.Day(), n.cfg.Hour, n.cfg.Minute, 0, 0, n.loc)
		if local.Before(fireAt) || !local.Before(fireAt.Add(window)) {
			continue
		}
		date := fireAt.Format(dateLayout)
		if n.lastFired == date {
			return "", false
		}
		return date, true
	}
	return "", false
}

// Status describes the notifier for health reporting.
type Status struct {
	Armed     bool      `json:"armed"`
	Target    string    `json:"target,omitempty"`
	LastFired string    `json:"last_fired,omitempty"`
	NextFire  time.Time `json:"next_fire"`
	Running   bool      `json:"running"`
}

// Status returns a snapshot of the notifier state.
func (n *Notifier) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		Armed:     n.target != "",
		Target:    n.target,
		LastFired: n.lastFired,
		NextFire:  n.nextFireLocked(n.now().In(n.loc)),
		Running:   n.cron != nil,
	}
}

// nextFireLocked returns the next fire time at or after local.
func (n *Notifier) nextFireLocked(local time.Time) time.Time {
	fireAt := time.Date(local.Year(), local.Month(), local.Day(), n.cfg.Hour, n.cfg.Minute, 0, 0, n.loc)
	if n.lastFired == fireAt.Format(dateLayout) || local.After(fireAt) {
		fireAt = fireAt.AddDate(0, 0, 1)
	}
	return fireAt
}

// Start begins ticking. Ticks run on cron's goroutines and never block
// command handling.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cron != nil {
		return errors.New("scheduler: already started")
	}

	n.ctx, n.cancel = context.WithCancel(ctx)

	c := cron.New(cron.WithLocation(n.loc), cron.WithParser(tickParser))
	if _, err := c.AddFunc(n.cfg.tick(), n.runTick); err != nil {
		n.cancel()
		return fmt.Errorf("scheduler: invalid tick %q: %w", n.cfg.Tick, err)
	}
	c.Start()
	n.cron = c

	n.logger.Info("scheduler started",
		"fire_at", fmt.Sprintf("%02d:%02d", n.cfg.Hour, n.cfg.Minute),
		"timezone", n.loc.String(),
		"tick", n.cfg.tick(),
	)
	return nil
}

func (n *Notifier) runTick() {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("scheduler tick panicked", "panic", r)
		}
	}()

	n.mu.Lock()
	parent := n.ctx
	n.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, n.jobTimeout)
	defer cancel()
	n.Tick(ctx, n.now())
}

// Stop gracefully shuts down the scheduler.
func (n *Notifier) Stop() {
	n.mu.Lock()
	c := n.cron
	n.cron = nil
	cancel := n.cancel
	n.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		// Wait for running ticks to finish (with timeout).
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			n.logger.Warn("scheduler stop timed out")
		}
	}
	if cancel != nil {
		cancel()
	}
	n.logger.Info("scheduler stopped")
}
