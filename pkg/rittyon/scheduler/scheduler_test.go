package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type delivery struct {
	Channel string
	Message string
}

type recorder struct {
	mu   sync.Mutex
	sent []delivery
	fail error
}

func (r *recorder) deliver(_ context.Context, channelID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivery{channelID, message})
	return r.fail
}

func (r *recorder) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]delivery, len(r.sent))
	copy(out, r.sent)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNotifier(t *testing.T, cfg Config, rec *recorder) *Notifier {
	t.Helper()
	n, err := New(cfg, rec.deliver, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return n
}

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

// tickDay ticks once per minute across the whole day starting at midnight
// and returns how many ticks fired.
func tickDay(n *Notifier, day time.Time, perMinute int) int {
	fired := 0
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	for m := 0; m < 24*60; m++ {
		for k := 0; k < perMinute; k++ {
			at := start.Add(time.Duration(m)*time.Minute + time.Duration(k)*time.Second)
			if n.Tick(context.Background(), at) {
				fired++
			}
		}
	}
	return fired
}

func TestTick_FiresExactlyOncePerDay(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("chan-1")

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
	if got := tickDay(n, day, 1); got != 1 {
		t.Fatalf("fired %d times in a day, want 1", got)
	}

	want := []delivery{{"chan-1", DailyMessage}}
	if diff := cmp.Diff(want, rec.deliveries()); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}

	// The next day fires again.
	if got := tickDay(n, day.AddDate(0, 0, 1), 1); got != 1 {
		t.Errorf("second day fired %d times, want 1", got)
	}
}

func TestTick_FiresOnlyAtTargetMinute(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("chan-1")

	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 3, 10, 18, 59, 59, 0, loc), false},
		{time.Date(2026, 3, 10, 19, 1, 0, 0, loc), false},
		{time.Date(2026, 3, 10, 7, 0, 0, 0, loc), false},
		{time.Date(2026, 3, 10, 19, 0, 30, 0, loc), true},
	}
	for _, tt := range tests {
		if got := n.Tick(context.Background(), tt.at); got != tt.want {
			t.Errorf("Tick(%s) = %v, want %v", tt.at.Format(time.TimeOnly), got, tt.want)
		}
	}
}

func TestTick_DuplicateTicksInSameMinute(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("chan-1")

	// Three ticks per minute, as a jittery tick source might produce.
	if got := tickDay(n, time.Date(2026, 3, 10, 0, 0, 0, 0, tokyo(t)), 3); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestTick_IdleNeverFires(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := newTestNotifier(t, DefaultConfig(), rec)

	if got := tickDay(n, time.Date(2026, 3, 10, 0, 0, 0, 0, tokyo(t)), 1); got != 0 {
		t.Errorf("idle notifier fired %d times", got)
	}
	if _, armed := n.Target(); armed {
		t.Error("notifier should be idle")
	}
	if len(rec.deliveries()) != 0 {
		t.Error("no delivery expected while idle")
	}
}

func TestTick_TargetSetAfterFireMinute(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)

	// Unset when the minute passes.
	n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 0, 0, 0, loc))
	n.SetTarget("late")
	for m := 1; m < 5*60; m++ {
		n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 0, 0, 0, loc).Add(time.Duration(m)*time.Minute))
	}
	if len(rec.deliveries()) != 0 {
		t.Errorf("got %d deliveries, want none", len(rec.deliveries()))
	}
}

func TestTick_RearmRoutesToNewChannel(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)

	n.SetTarget("old")
	n.Tick(context.Background(), time.Date(2026, 3, 10, 12, 0, 0, 0, loc))
	n.SetTarget("new")
	n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 0, 0, 0, loc))

	want := []delivery{{"new", DailyMessage}}
	if diff := cmp.Diff(want, rec.deliveries()); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestTick_DeliveryFailureKeepsArmed(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{fail: errors.New("403 Forbidden")}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("forbidden")

	if !n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 0, 0, 0, loc)) {
		t.Fatal("expected fire attempt")
	}
	if _, armed := n.Target(); !armed {
		t.Error("delivery failure must not disarm")
	}
	// The failed attempt consumes the day; the next day tries again.
	if n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 0, 30, 0, loc)) {
		t.Error("must not retry within the same day")
	}
	if !n.Tick(context.Background(), time.Date(2026, 3, 11, 19, 0, 0, 0, loc)) {
		t.Error("next day should fire")
	}
}

func TestTick_ConvertsToConfiguredZone(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	cfg := DefaultConfig() // 19:55 Asia/Tokyo
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("chan")

	// 10:55 UTC is 19:55 JST.
	if !n.Tick(context.Background(), time.Date(2026, 3, 10, 10, 55, 0, 0, time.UTC)) {
		t.Error("expected fire at 10:55 UTC")
	}
}

func TestTick_CatchUpWindow(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	cfg.CatchUpMinutes = 2
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("chan")

	// The 19:00 tick was missed; 19:02 still falls inside the window.
	if n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 3, 0, 0, loc)) {
		t.Error("19:03 is outside a 2 minute catch-up window")
	}
	if !n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 2, 0, 0, loc)) {
		t.Error("19:02 should catch up")
	}
}

func TestTick_CatchUpAcrossMidnight(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 23, 58
	cfg.CatchUpMinutes = 5
	n := newTestNotifier(t, cfg, rec)
	n.SetTarget("chan")

	// The 23:58 tick on Jan 1 was missed; 00:01 on Jan 2 still belongs to it.
	if !n.Tick(context.Background(), time.Date(2026, 1, 2, 0, 1, 0, 0, loc)) {
		t.Fatal("00:01 should catch up the previous evening's fire")
	}
	if got := n.Status().LastFired; got != "2026-01-01" {
		t.Errorf("LastFired = %q, want the fire date 2026-01-01", got)
	}
	if n.Tick(context.Background(), time.Date(2026, 1, 2, 0, 2, 0, 0, loc)) {
		t.Error("window already fired")
	}

	// Jan 2's own fire is unaffected by the late catch-up.
	if !n.Tick(context.Background(), time.Date(2026, 1, 2, 23, 58, 0, 0, loc)) {
		t.Error("Jan 2 23:58 should fire")
	}
	if got := len(rec.deliveries()); got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"hour too big", func(c *Config) { c.Hour = 24 }, true},
		{"negative minute", func(c *Config) { c.Minute = -1 }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
		{"bad tick", func(c *Config) { c.Tick = "every minute" }, true},
		{"descriptor tick", func(c *Config) { c.Tick = "@every 30s" }, false},
		{"negative catch-up", func(c *Config) { c.CatchUpMinutes = -1 }, true},
		{"catch-up a full day", func(c *Config) { c.CatchUpMinutes = 24 * 60 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	loc := tokyo(t)
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Hour, cfg.Minute = 19, 0
	n := newTestNotifier(t, cfg, rec)
	n.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, loc) }

	st := n.Status()
	if st.Armed || st.Running {
		t.Errorf("fresh notifier status = %+v", st)
	}
	if want := time.Date(2026, 3, 10, 19, 0, 0, 0, loc); !st.NextFire.Equal(want) {
		t.Errorf("NextFire = %v, want %v", st.NextFire, want)
	}

	n.SetTarget("chan")
	n.Tick(context.Background(), time.Date(2026, 3, 10, 19, 0, 0, 0, loc))
	st = n.Status()
	if !st.Armed || st.LastFired != "2026-03-10" {
		t.Errorf("status after fire = %+v", st)
	}
	if want := time.Date(2026, 3, 11, 19, 0, 0, 0, loc); !st.NextFire.Equal(want) {
		t.Errorf("NextFire = %v, want %v", st.NextFire, want)
	}
}

func TestStartStop(t *testing.T) {
	rec := &recorder{}
	n := newTestNotifier(t, DefaultConfig(), rec)

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := n.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if !n.Status().Running {
		t.Error("Status().Running should be true after Start")
	}
	n.Stop()
	if n.Status().Running {
		t.Error("Status().Running should be false after Stop")
	}
	// Stop is idempotent.
	n.Stop()
}
