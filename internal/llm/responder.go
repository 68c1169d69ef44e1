package llm

import (
	"context"
	"log/slog"

	"github.com/talgya/tamagochai/internal/companion"
	"github.com/talgya/tamagochai/internal/emotion"
)

const replyMaxTokens = 300

// Responder voices replies through the API and falls back to another
// responder when the client is disabled or a call fails.
type Responder struct {
	Client   *Client
	Fallback companion.Responder
	Logger   *slog.Logger
}

// NewResponder wraps client. A nil client always uses the fallback.
func NewResponder(client *Client) *Responder {
	return &Responder{Client: client, Fallback: companion.EchoResponder{}, Logger: slog.Default()}
}

// Reply implements companion.Responder.
func (r *Responder) Reply(ctx context.Context, p companion.Prompt) (string, error) {
	if !r.Client.Enabled() {
		return r.Fallback.Reply(ctx, p)
	}

	system := SystemPrompt(Persona{
		Name:      p.Name,
		Stage:     p.Stage,
		TotalXP:   p.TotalXP,
		DaysAlive: p.DaysAlive,
		Emotion:   emotion.Describe(p.Emotion),
		Mood:      p.Mood,
	})
	text, err := r.Client.Complete(ctx, system, p.Text, replyMaxTokens)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.Logger.Warn("llm reply failed, using fallback", "name", p.Name, "error", err)
		return r.Fallback.Reply(ctx, p)
	}
	return text, nil
}
