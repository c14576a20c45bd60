package copilot

import (
	"errors"
	"fmt"

	"github.com/rittyon/rittyonbot/pkg/rittyon/persona"
)

// Turn failure kinds. A failed Converse returns a *TurnError whose Kind is
// one of these.
var (
	// ErrPrimingFailed means the personality context could not be established.
	ErrPrimingFailed = errors.New("priming exchange failed")

	// ErrQuotaExceeded means the provider signalled a rate or quota limit.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrGenerationFailed means the prompt call itself failed.
	ErrGenerationFailed = errors.New("generation failed")
)

// TurnError is a classified conversation failure. errors.Is matches both the
// kind and the underlying provider error.
type TurnError struct {
	Kind error
	Err  error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *TurnError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classifyTurnError decides the failure kind for a call made at stage.
// stageKind is ErrPrimingFailed or ErrGenerationFailed; a quota signal wins
// over both.
func classifyTurnError(stageKind, err error) *TurnError {
	if errors.Is(err, ErrQuotaExceeded) {
		return &TurnError{Kind: ErrQuotaExceeded, Err: err}
	}
	return &TurnError{Kind: stageKind, Err: err}
}

// User-facing messages.
const (
	MsgPrimingFailed    = "ごめんなさい、キャラクターの準備に失敗しました。少し時間をおいてからもう一度話しかけてください。"
	MsgQuotaExceeded    = "ごめんなさい、いまはAIの利用上限に達しています。しばらくしてからもう一度試してください。"
	MsgGenerationFailed = "ごめんなさい、返事を考えている途中でエラーが起きました。もう一度試してください。"
	MsgUnknownMode      = "そのモードは存在しません。"
	MsgInternal         = "ごめんなさい、うまく処理できませんでした。"
)

// UserMessage maps an error to the apology shown in chat.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return MsgQuotaExceeded
	case errors.Is(err, ErrPrimingFailed):
		return MsgPrimingFailed
	case errors.Is(err, ErrGenerationFailed):
		return MsgGenerationFailed
	case errors.Is(err, persona.ErrUnknownMode):
		return MsgUnknownMode
	default:
		return MsgInternal
	}
}
