package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rittyon/rittyonbot/pkg/rittyon/persona"
)

func newTestOrchestrator(gen Generator, timeout time.Duration) (*Orchestrator, *SessionStore) {
	store := newTestStore(DefaultMaxHistory)
	return NewOrchestrator(store, persona.Builtin(), gen, timeout, testLogger()), store
}

func TestConverse_Success(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: &Response{Text: "hi there"}}
	o, store := newTestOrchestrator(gen, time.Second)

	got, err := o.Converse(context.Background(), User{ID: "u1", DisplayName: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Converse() error: %v", err)
	}
	if want := FormatReply("Alice", "boke", "hi there"); got != want {
		t.Errorf("Converse() = %q, want %q", got, want)
	}

	bokeCtx, _ := persona.Builtin().ContextFor("boke")
	if diff := cmp.Diff([]string{bokeCtx}, gen.sentPrimes()); diff != "" {
		t.Errorf("priming mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hello"}, gen.sentPrompts()); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hello"}, historyTexts(store.Get("u1"))); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestConverse_FreshChatPerTurnCarriesHistory(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: &Response{Text: "ok"}}
	o, _ := newTestOrchestrator(gen, time.Second)
	user := User{ID: "u1", DisplayName: "Alice"}

	for _, p := range []string{"first", "second", "third"} {
		if _, err := o.Converse(context.Background(), user, p); err != nil {
			t.Fatalf("Converse(%q) error: %v", p, err)
		}
	}

	if gen.chats != 3 {
		t.Errorf("opened %d chats, want 3", gen.chats)
	}
	primes := gen.sentPrimes()
	last := primes[len(primes)-1]
	for _, p := range []string{"first", "second"} {
		if !strings.Contains(last, p) {
			t.Errorf("priming %q does not mention earlier prompt %q", last, p)
		}
	}
	if strings.Contains(last, "third") {
		t.Error("priming must not include the prompt being sent")
	}
}

func TestConverse_Failures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		gen     *fakeGenerator
		timeout time.Duration
		kind    error
		msg     string
	}{
		{
			name: "start chat fails",
			gen:  &fakeGenerator{startErr: boom},
			kind: ErrPrimingFailed,
			msg:  MsgPrimingFailed,
		},
		{
			name: "priming is rejected",
			gen:  &fakeGenerator{primeErr: boom},
			kind: ErrPrimingFailed,
			msg:  MsgPrimingFailed,
		},
		{
			name: "prompt fails",
			gen:  &fakeGenerator{promptErr: boom},
			kind: ErrGenerationFailed,
			msg:  MsgGenerationFailed,
		},
		{
			name: "quota on prompt",
			gen:  &fakeGenerator{promptErr: fmt.Errorf("%w: 429", ErrQuotaExceeded)},
			kind: ErrQuotaExceeded,
			msg:  MsgQuotaExceeded,
		},
		{
			name: "quota on priming",
			gen:  &fakeGenerator{primeErr: fmt.Errorf("%w: 429", ErrQuotaExceeded)},
			kind: ErrQuotaExceeded,
			msg:  MsgQuotaExceeded,
		},
		{
			name:    "prompt times out",
			gen:     &fakeGenerator{block: true},
			timeout: 20 * time.Millisecond,
			kind:    ErrGenerationFailed,
			msg:     MsgGenerationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			o, store := newTestOrchestrator(tt.gen, timeout)
			store.AppendTurn("u1", Turn{Role: RoleUser, Text: "earlier"})

			got, err := o.Converse(context.Background(), User{ID: "u1", DisplayName: "Alice"}, "hello")
			if err == nil {
				t.Fatalf("Converse() = %q, want error", got)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("error %v is not %v", err, tt.kind)
			}
			var te *TurnError
			if !errors.As(err, &te) {
				t.Errorf("error %T is not a *TurnError", err)
			}
			if m := UserMessage(err); m != tt.msg {
				t.Errorf("UserMessage() = %q, want %q", m, tt.msg)
			}
			if diff := cmp.Diff([]string{"earlier"}, historyTexts(store.Get("u1"))); diff != "" {
				t.Errorf("failed turn changed history (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConverse_TimeoutKeepsCause(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(&fakeGenerator{block: true}, 10*time.Millisecond)

	_, err := o.Converse(context.Background(), User{ID: "u1"}, "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v should wrap context.DeadlineExceeded", err)
	}
}

func TestConverse_ModeChangeDuringTurnDiscardsPrompt(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: &Response{Text: "late"}}
	o, store := newTestOrchestrator(gen, time.Second)
	gen.onPrompt = func() {
		if err := store.SetMode("u1", "samurai"); err != nil {
			t.Errorf("SetMode: %v", err)
		}
	}

	if _, err := o.Converse(context.Background(), User{ID: "u1", DisplayName: "Alice"}, "hello"); err != nil {
		t.Fatalf("Converse() error: %v", err)
	}
	s := store.Get("u1")
	if s.Mode() != "samurai" {
		t.Errorf("Mode() = %q, want samurai", s.Mode())
	}
	if s.HistoryLen() != 0 {
		t.Errorf("stale turn was recorded: %v", historyTexts(s))
	}
}

func TestConverse_ResetDuringTurnDiscardsPrompt(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: &Response{Text: "late"}}
	o, store := newTestOrchestrator(gen, time.Second)
	store.AppendTurn("u1", Turn{Role: RoleUser, Text: "old"})
	gen.onPrompt = func() { store.ResetHistory("u1") }

	if _, err := o.Converse(context.Background(), User{ID: "u1"}, "hello"); err != nil {
		t.Fatalf("Converse() error: %v", err)
	}
	if got := store.Get("u1").HistoryLen(); got != 0 {
		t.Errorf("HistoryLen() = %d, want 0", got)
	}
}

func TestConverse_EmptyReply(t *testing.T) {
	t.Parallel()
	o, _ := newTestOrchestrator(&fakeGenerator{reply: nil}, time.Second)

	got, err := o.Converse(context.Background(), User{ID: "u1", DisplayName: "Bob"}, "hello")
	if err != nil {
		t.Fatalf("Converse() error: %v", err)
	}
	if !strings.HasSuffix(got, EmptyReply) {
		t.Errorf("Converse() = %q, want empty-reply placeholder", got)
	}
}

func TestFormatReply(t *testing.T) {
	t.Parallel()
	got := FormatReply("Alice", "tsundere", "べ、別に…")
	want := "**Alice**（tsundereモード）\nべ、別に…"
	if got != want {
		t.Errorf("FormatReply() = %q, want %q", got, want)
	}
}

func TestBuildPrimingText(t *testing.T) {
	t.Parallel()
	if got := buildPrimingText("ctx", nil); got != "ctx" {
		t.Errorf("buildPrimingText without history = %q", got)
	}
	got := buildPrimingText("ctx", []Turn{{Text: "a"}, {Text: "b"}})
	if !strings.HasPrefix(got, "ctx\n\n") || strings.Index(got, "- a") > strings.Index(got, "- b") {
		t.Errorf("buildPrimingText with history = %q", got)
	}
}
