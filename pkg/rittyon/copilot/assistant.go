// Package copilot implements rittyon's conversational core: per-user sessions,
// the conversation orchestrator, the Gemini provider adapter, configuration
// loading, and the Assistant that answers each bot command.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/rittyon/rittyonbot/pkg/rittyon/channels"
	"github.com/rittyon/rittyonbot/pkg/rittyon/channels/discord"
	"github.com/rittyon/rittyonbot/pkg/rittyon/persona"
)

var _ discord.Handler = (*Assistant)(nil)

// TargetSetter receives the notification channel chosen by /setchannel.
type TargetSetter interface {
	SetTarget(channelID string)
}

// Assistant answers bot commands. Every method returns the text to send back;
// errors are already turned into user-facing messages.
type Assistant struct {
	catalog      *persona.Catalog
	sessions     *SessionStore
	orchestrator *Orchestrator
	generator    Generator
	notifier     TargetSetter
	logger       *slog.Logger

	// pick returns a random index in [0, n). Replaced in tests.
	pick func(n int) int
}

// NewAssistant wires the command handlers around shared state owned by the
// caller.
func NewAssistant(catalog *persona.Catalog, sessions *SessionStore, gen Generator, notifier TargetSetter, callTimeout time.Duration, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		catalog:      catalog,
		sessions:     sessions,
		orchestrator: NewOrchestrator(sessions, catalog, gen, callTimeout, logger),
		generator:    gen,
		notifier:     notifier,
		logger:       logger.With("component", "assistant"),
		pick:         rand.IntN,
	}
}

// Sessions returns the session store.
func (a *Assistant) Sessions() *SessionStore { return a.sessions }

// SetChannel arms the daily notification for channelID. mention is how the
// channel is rendered in the confirmation.
func (a *Assistant) SetChannel(channelID, mention string) string {
	a.notifier.SetTarget(channelID)
	a.logger.Info("notification channel set", "channel_id", channelID)
	if mention == "" {
		mention = "<#" + channelID + ">"
	}
	return fmt.Sprintf("送信先チャンネルを **%s** に設定しました。", mention)
}

// SetMode picks a random mode from the catalog for userID.
func (a *Assistant) SetMode(userID string) string {
	modes := a.catalog.Modes()
	mode := modes[a.pick(len(modes))]
	if err := a.sessions.SetMode(userID, mode); err != nil {
		a.logger.Error("set mode failed", "user_id", userID, "mode", mode, "error", err)
		return UserMessage(err)
	}
	return fmt.Sprintf("モードを **%s** に設定しました！会話履歴もリセットされています。", mode)
}

// Reset clears userID's conversation history.
func (a *Assistant) Reset(userID string) string {
	a.sessions.ResetHistory(userID)
	return "会話履歴をリセットしました。"
}

// ListModes renders the catalog.
func (a *Assistant) ListModes() string {
	var sb strings.Builder
	sb.WriteString("使えるモード一覧:\n")
	for _, m := range a.catalog.Modes() {
		sb.WriteString("・")
		sb.WriteString(m)
		if m == a.catalog.Default() {
			sb.WriteString("（初期モード）")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Converse runs one conversation turn and returns the reply split into
// chat-sized chunks. Failures are returned as a single apology chunk.
func (a *Assistant) Converse(ctx context.Context, user User, prompt string) []string {
	reply, err := a.orchestrator.Converse(ctx, user, prompt)
	if err != nil {
		var te *TurnError
		if errors.As(err, &te) {
			a.logger.Warn("turn abandoned", "user_id", user.ID, "kind", te.Kind.Error())
		}
		return []string{UserMessage(err)}
	}
	return channels.SplitMessage(reply, channels.DiscordMaxMessageLength)
}

// Chat is Converse keyed by plain identifiers, as the Discord shell calls it.
func (a *Assistant) Chat(ctx context.Context, userID, displayName, prompt string) []string {
	return a.Converse(ctx, User{ID: userID, DisplayName: displayName}, prompt)
}

// Diagnostics lists the provider's models. Only admins may run it, and for
// them provider errors are shown verbatim.
func (a *Assistant) Diagnostics(ctx context.Context, isAdmin bool) []string {
	if !isAdmin {
		return []string{"このコマンドは管理者のみ使用できます。"}
	}

	models, err := callAsync(ctx, a.orchestrator.callTimeout, a.generator.ListModels)
	if err != nil {
		a.logger.Warn("model listing failed", "error", err)
		return []string{fmt.Sprintf("モデル一覧の取得に失敗しました。\n`%T`: %v", rootCause(err), err)}
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	var sb strings.Builder
	fmt.Fprintf(&sb, "利用可能なモデル (%d件):\n", len(models))
	for _, m := range models {
		fmt.Fprintf(&sb, "- %s", m.Name)
		if m.DisplayName != "" {
			fmt.Fprintf(&sb, " (%s)", m.DisplayName)
		}
		if len(m.SupportedActions) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(m.SupportedActions, ", "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "アクティブなセッション: %d", a.sessions.Count())
	return channels.SplitMessage(sb.String(), channels.DiscordMaxMessageLength)
}

// rootCause follows single-error wrapping down to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
