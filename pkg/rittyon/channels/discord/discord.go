// Package discord implements rittyon's Discord shell using discordgo.
//
// Features:
//   - Slash command registration (global or per guild)
//   - Quick commands answered inline, slow ones deferred and followed up
//   - Replies split at Discord's 2000 character limit
//   - Plain channel sends for the daily notification
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rittyon/rittyonbot/pkg/rittyon/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// GuildID registers the slash commands for one guild only, which makes
	// them available immediately. Empty registers them globally.
	GuildID string `yaml:"guild_id"`

	// AdminUsers are user IDs allowed to run admin commands in addition to
	// members with the Administrator permission.
	AdminUsers []string `yaml:"admin_users"`

	// ResponseTimeoutSeconds bounds a deferred command (chat, models).
	ResponseTimeoutSeconds int `yaml:"response_timeout_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResponseTimeoutSeconds: 180,
	}
}

func (c Config) responseTimeout() time.Duration {
	if c.ResponseTimeoutSeconds <= 0 {
		return 180 * time.Second
	}
	return time.Duration(c.ResponseTimeoutSeconds) * time.Second
}

// Handler answers the bot's commands. Every method returns the text to
// send; long replies are already split into chunks.
type Handler interface {
	SetChannel(channelID, mention string) string
	SetMode(userID string) string
	Reset(userID string) string
	ListModes() string
	Chat(ctx context.Context, userID, displayName, prompt string) []string
	Diagnostics(ctx context.Context, isAdmin bool) []string
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	session *discordgo.Session

	// connected tracks connection state.
	connected atomic.Bool

	// lastEvent tracks the last gateway event timestamp for health.
	lastEvent atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// botName is "username#discriminator" once Ready arrives.
	botName atomic.Value // string

	// inflight tracks deferred command goroutines. Add happens under mu, and
	// only while closing is false.
	inflight sync.WaitGroup
	closing  bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, handler Handler, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "discord"),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	// Slash commands need no privileged intents.
	session.Identify.Intents = discordgo.IntentsGuilds

	session.AddHandler(d.onReady)
	session.AddHandler(d.onInteractionCreate)
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.logger.Warn("discord: gateway disconnected, waiting for reconnect")
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		d.connected.Store(true)
		d.logger.Info("discord: gateway resumed")
	})

	// Open the WebSocket connection.
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.closing = false
	d.mu.Unlock()
	d.connected.Store(true)

	return nil
}

// Disconnect closes the Discord gateway connection. Deferred commands get a
// few seconds to post their follow-ups.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.logger.Warn("discord: in-flight commands still running at shutdown")
	}

	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	var err error
	if session != nil {
		err = session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return err
}

// Send sends a text message to the specified channel.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return channels.ErrChannelDisconnected
	}

	chunks := channels.SplitMessage(message.Content, channels.DiscordMaxMessageLength)
	for i, chunk := range chunks {
		msgSend := &discordgo.MessageSend{
			Content: chunk,
			// The daily notification pings @everyone.
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
			},
		}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if _, err := session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
		}
	}
	d.errorCount.Store(0)
	return nil
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	var name string
	if v := d.botName.Load(); v != nil {
		name = v.(string)
	}
	return channels.HealthStatus{
		Connected:   d.connected.Load(),
		LastEventAt: lastAt,
		ErrorCount:  int(d.errorCount.Load()),
		ConnectedAs: name,
	}
}

// ---------- Event Handlers ----------

func (d *Discord) onReady(s *discordgo.Session, r *discordgo.Ready) {
	d.connected.Store(true)
	d.lastEvent.Store(time.Now())
	user := r.User
	d.botName.Store(user.Username + "#" + user.Discriminator)
	d.logger.Info("discord: connected", "bot", user.Username+"#"+user.Discriminator, "id", user.ID)

	synced, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, d.cfg.GuildID, slashCommands())
	if err != nil {
		d.errorCount.Add(1)
		d.logger.Error("discord: registering slash commands failed", "guild_id", d.cfg.GuildID, "error", err)
		return
	}
	d.logger.Info("discord: slash commands synced", "count", len(synced), "guild_id", d.cfg.GuildID)
}

func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	d.lastEvent.Store(time.Now())

	userID := interactionUserID(i.Interaction)
	if userID == "" {
		respond(s, i, "ユーザーを特定できませんでした。", true)
		return
	}

	data := i.ApplicationCommandData()
	d.logger.Debug("discord: command received", "command", data.Name, "user_id", userID, "guild_id", i.GuildID)

	switch data.Name {
	case cmdSetChannel:
		opt := findOption(data.Options, "channel")
		if opt == nil {
			respond(s, i, "チャンネルを指定してください。", true)
			return
		}
		ch := opt.ChannelValue(s)
		respond(s, i, d.handler.SetChannel(ch.ID, ch.Mention()), false)

	case cmdSetMode:
		respond(s, i, d.handler.SetMode(userID), false)

	case cmdReset:
		respond(s, i, d.handler.Reset(userID), false)

	case cmdModes:
		respond(s, i, d.handler.ListModes(), true)

	case cmdChat:
		prompt := ""
		if opt := findOption(data.Options, "prompt"); opt != nil {
			prompt = opt.StringValue()
		}
		name := interactionDisplayName(i.Interaction)
		d.deferred(s, i, false, func(ctx context.Context) []string {
			return d.handler.Chat(ctx, userID, name, prompt)
		})

	case cmdModels:
		admin := isAdmin(i.Interaction, d.cfg.AdminUsers)
		d.deferred(s, i, true, func(ctx context.Context) []string {
			return d.handler.Diagnostics(ctx, admin)
		})

	default:
		respond(s, i, "不明なコマンドです。", true)
	}
}

// deferred acknowledges the interaction within Discord's 3s limit, runs fn
// in the background and posts its chunks in order.
func (d *Discord) deferred(s *discordgo.Session, i *discordgo.InteractionCreate, ephemeral bool, fn func(ctx context.Context) []string) {
	if !d.beginInflight() {
		respond(s, i, "ただいま停止処理中です。しばらくしてからもう一度お試しください。", true)
		return
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		d.errorCount.Add(1)
		d.logger.Warn("discord: failed to ack interaction", "error", err)
		d.inflight.Done()
		return
	}

	parent := d.ctx
	if parent == nil {
		parent = context.Background()
	}

	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(parent, d.cfg.responseTimeout())
		defer cancel()

		chunks := fn(ctx)
		if len(chunks) == 0 {
			chunks = []string{"（返事がありませんでした）"}
		}

		first := chunks[0]
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &first}); err != nil {
			d.errorCount.Add(1)
			d.logger.Warn("discord: failed to edit interaction response", "error", err)
			return
		}
		for _, chunk := range chunks[1:] {
			params := &discordgo.WebhookParams{Content: chunk}
			if ephemeral {
				params.Flags = discordgo.MessageFlagsEphemeral
			}
			if _, err := s.FollowupMessageCreate(i.Interaction, true, params); err != nil {
				d.errorCount.Add(1)
				d.logger.Warn("discord: failed to send follow-up", "error", err)
				return
			}
		}
	}()
}

// beginInflight registers a deferred command. It refuses once Disconnect has
// started.
func (d *Discord) beginInflight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return false
	}
	d.inflight.Add(1)
	return true
}

// respond answers an interaction immediately.
func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// ---------- Helpers ----------

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// interactionDisplayName prefers the guild nickname, then the global display
// name, then the username.
func interactionDisplayName(i *discordgo.Interaction) string {
	var u *discordgo.User
	if i.Member != nil {
		if i.Member.Nick != "" {
			return i.Member.Nick
		}
		u = i.Member.User
	}
	if u == nil {
		u = i.User
	}
	if u == nil {
		return "名無し"
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// isAdmin reports whether the caller has the Administrator permission in the
// guild or is listed in adminUsers.
func isAdmin(i *discordgo.Interaction, adminUsers []string) bool {
	if slices.Contains(adminUsers, interactionUserID(i)) {
		return true
	}
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func findOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o != nil && o.Name == name {
			return o
		}
	}
	return nil
}

// Compile-time interface verification.
var _ channels.Channel = (*Discord)(nil)
