package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rittyon/rittyonbot/pkg/rittyon/persona"
)

// User identifies who is talking.
type User struct {
	ID          string
	DisplayName string
}

// Orchestrator drives one conversation turn at a time per call: it primes a
// provider chat with the user's personality, submits the prompt, and records
// the prompt in the session window.
type Orchestrator struct {
	store       *SessionStore
	catalog     *persona.Catalog
	generator   Generator
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewOrchestrator wires an orchestrator. callTimeout <= 0 uses DefaultCallTimeout.
func NewOrchestrator(store *SessionStore, catalog *persona.Catalog, gen Generator, callTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Orchestrator{
		store:       store,
		catalog:     catalog,
		generator:   gen,
		callTimeout: callTimeout,
		logger:      logger.With("component", "conversation"),
	}
}

// Converse runs one turn for user and returns the formatted reply. On
// failure it returns a *TurnError and leaves the session untouched.
func (o *Orchestrator) Converse(ctx context.Context, user User, prompt string) (string, error) {
	turnID := uuid.NewString()
	logger := o.logger.With("turn_id", turnID, "user_id", user.ID)

	session := o.store.GetOrCreate(user.ID)
	mode, history, epoch := session.snapshot()

	personaCtx, err := o.catalog.ContextFor(mode)
	if err != nil {
		// Sessions only ever hold catalog modes; treat a miss as a priming failure.
		logger.Error("session mode missing from catalog", "mode", mode, "error", err)
		return "", &TurnError{Kind: ErrPrimingFailed, Err: err}
	}

	start := time.Now()

	chat, err := callAsync(ctx, o.callTimeout, o.generator.StartChat)
	if err != nil {
		logger.Warn("opening provider chat failed", "error", err)
		return "", classifyTurnError(ErrPrimingFailed, err)
	}

	priming := buildPrimingText(personaCtx, history)
	if _, err := callAsync(ctx, o.callTimeout, func(ctx context.Context) (*Response, error) {
		return chat.Send(ctx, priming)
	}); err != nil {
		logger.Warn("priming exchange failed", "mode", mode, "error", err)
		return "", classifyTurnError(ErrPrimingFailed, err)
	}

	resp, err := callAsync(ctx, o.callTimeout, func(ctx context.Context) (*Response, error) {
		return chat.Send(ctx, prompt)
	})
	if err != nil {
		logger.Warn("generation failed", "mode", mode, "error", err)
		return "", classifyTurnError(ErrGenerationFailed, err)
	}

	text, source := resp.Reply()
	if source == ReplyFromRaw {
		logger.Warn("provider returned no text, replying with raw response", "mode", mode)
	}

	if !o.store.AppendTurnIfCurrent(user.ID, epoch, Turn{Role: RoleUser, Text: prompt}) {
		logger.Info("session context changed during turn, prompt not recorded")
	}

	logger.Info("turn completed",
		"mode", mode,
		"reply_source", source.String(),
		"reply_len", len(text),
		"duration", time.Since(start),
	)
	return FormatReply(user.DisplayName, mode, text), nil
}

// FormatReply renders a reply for chat.
func FormatReply(displayName, mode, text string) string {
	return fmt.Sprintf("**%s**（%sモード）\n%s", displayName, mode, text)
}

// buildPrimingText renders the priming exchange: the personality context,
// followed by the user's recent prompts when there are any.
func buildPrimingText(personaCtx string, history []Turn) string {
	if len(history) == 0 {
		return personaCtx
	}
	var sb strings.Builder
	sb.WriteString(personaCtx)
	sb.WriteString("\n\nこのユーザーの最近の発言（古い順）:\n")
	for _, t := range history {
		sb.WriteString("- ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
