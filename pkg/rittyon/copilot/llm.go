// Package copilot – llm.go defines the text-generation capability the
// conversation orchestrator depends on, and its Gemini implementation.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Generator opens provider chats and describes the provider.
type Generator interface {
	// StartChat opens a new, empty provider conversation.
	StartChat(ctx context.Context) (Chat, error)

	// ListModels returns the models the credentials can see.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Chat is one provider conversation. Messages sent on the same Chat are
// prior turns of each other.
type Chat interface {
	Send(ctx context.Context, text string) (*Response, error)
}

// ModelInfo describes one provider model for diagnostics.
type ModelInfo struct {
	Name             string
	DisplayName      string
	SupportedActions []string
}

// Response is a provider reply. Providers fill whichever fields they have;
// Reply applies the extraction precedence.
type Response struct {
	// Text is the provider's primary text field.
	Text string

	// Candidates holds the text of each candidate output, in provider order.
	Candidates []string

	// Raw is a stringified form of the whole provider response.
	Raw string
}

// ReplySource tells which Response field a reply was taken from.
type ReplySource int

const (
	ReplyFromText ReplySource = iota
	ReplyFromCandidate
	ReplyFromRaw
	ReplyEmpty
)

func (s ReplySource) String() string {
	switch s {
	case ReplyFromText:
		return "text"
	case ReplyFromCandidate:
		return "candidate"
	case ReplyFromRaw:
		return "raw"
	default:
		return "empty"
	}
}

// EmptyReply is returned when a response carries nothing at all.
const EmptyReply = "(empty response)"

// MaxRawReply caps the raw fallback, in runes, so a dump of the provider
// response never runs to many chat messages.
const MaxRawReply = 500

// Reply extracts the reply text: Text, then the first non-empty candidate,
// then Raw truncated to MaxRawReply runes. It never fails.
func (r *Response) Reply() (string, ReplySource) {
	if r == nil {
		return EmptyReply, ReplyEmpty
	}
	if strings.TrimSpace(r.Text) != "" {
		return r.Text, ReplyFromText
	}
	for _, c := range r.Candidates {
		if strings.TrimSpace(c) != "" {
			return c, ReplyFromCandidate
		}
	}
	if strings.TrimSpace(r.Raw) != "" {
		return truncateRunes(r.Raw, MaxRawReply), ReplyFromRaw
	}
	return EmptyReply, ReplyEmpty
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// ---------- Gemini ----------

// DefaultModel is the Gemini model used when the config leaves it empty.
const DefaultModel = "gemini-2.5-flash"

// GeminiGenerator implements Generator on google.golang.org/genai.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiGenerator creates a Gemini API client for apiKey.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		model:  model,
		logger: logger.With("component", "gemini"),
	}, nil
}

// Model returns the configured model name.
func (g *GeminiGenerator) Model() string { return g.model }

// StartChat opens a Gemini chat session with no history.
func (g *GeminiGenerator) StartChat(ctx context.Context) (Chat, error) {
	chat, err := g.client.Chats.Create(ctx, g.model, nil, nil)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return &geminiChat{chat: chat, logger: g.logger}, nil
}

// ListModels pages through every model visible to the API key.
func (g *GeminiGenerator) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out []ModelInfo
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return out, classifyProviderError(err)
		}
		out = append(out, ModelInfo{
			Name:             m.Name,
			DisplayName:      m.DisplayName,
			SupportedActions: m.SupportedActions,
		})
	}
	return out, nil
}

type geminiChat struct {
	chat   *genai.Chat
	logger *slog.Logger
}

func (c *geminiChat) Send(ctx context.Context, text string) (*Response, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return responseFromGemini(resp), nil
}

// responseFromGemini flattens a GenerateContentResponse into a Response.
func responseFromGemini(resp *genai.GenerateContentResponse) *Response {
	if resp == nil {
		return &Response{}
	}
	out := &Response{Text: resp.Text()}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			sb.WriteString(p.Text)
		}
		out.Candidates = append(out.Candidates, sb.String())
	}
	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = string(raw)
	} else {
		out.Raw = fmt.Sprintf("%+v", resp)
	}
	return out
}

// classifyProviderError wraps quota and rate-limit signals with
// ErrQuotaExceeded. Other errors pass through unchanged.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if isQuotaError(err) {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return err
}

func isQuotaError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isQuotaAPIError(apiErr) {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && isQuotaAPIError(*apiErrPtr) {
		return true
	}

	// Fall back to the message for errors that lost their type on the way.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429")
}

func isQuotaAPIError(e genai.APIError) bool {
	return e.Code == 429 || strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED")
}

var _ Generator = (*GeminiGenerator)(nil)
