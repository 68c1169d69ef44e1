package companion

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/talgya/tamagochai/internal/emotion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

// QualityMessageLength is the length above which a message earns quality XP.
const QualityMessageLength = 50

// Prompt is everything a Responder needs to voice a reply.
type Prompt struct {
	Name      string
	Stage     evolution.Stage
	TotalXP   int64
	DaysAlive int
	Emotion   emotion.State
	Mood      string
	Text      string
}

// Responder produces the companion's reply to a user message.
type Responder interface {
	Reply(ctx context.Context, p Prompt) (string, error)
}

// EchoResponder is a Responder that needs no text generator.
type EchoResponder struct{}

func (EchoResponder) Reply(_ context.Context, p Prompt) (string, error) {
	return fmt.Sprintf("(%s) I heard you.", emotion.Describe(p.Emotion)), nil
}

// MessageResult is the outcome of HandleMessage.
type MessageResult struct {
	Result
	Reply       string `json:"reply"`
	LongAbsence bool   `json:"long_absence"`
}

// HandleMessage processes one user message: a long-absence reaction if the
// companion has been left alone, the message bundle, message XP, quality XP
// for substantial messages, and the interaction counters, all as one unit.
// The reply is generated after the unit commits. A failing Responder is
// replaced by EchoResponder, so an error always means nothing was written.
func (c *Companion) HandleMessage(ctx context.Context, id, text string) (*MessageResult, error) {
	userMods, _ := hormone.Bundle(hormone.UserMessageReceived)
	absenceMods, _ := hormone.Bundle(hormone.LongAbsence)

	var (
		ent    Entity
		absent bool
	)
	u, err := c.mutate(ctx, id, func(u *unit) error {
		var err error
		if ent, err = u.repo.Entity(u.ctx, id); err != nil {
			return err
		}
		absent = !ent.LastInteraction.IsZero() && u.now.Sub(ent.LastInteraction) > c.absenceAfter
		if absent {
			if err := u.apply(absenceMods, EventLongAbsence); err != nil {
				return err
			}
		}
		if err := u.apply(userMods, EventUserMessage); err != nil {
			return err
		}
		if _, err := u.grant(evolution.MessageSent, nil); err != nil {
			return err
		}
		if n := utf8.RuneCountInString(text); n > QualityMessageLength {
			if _, err := u.grant(evolution.MessageQuality, map[string]any{"length": n}); err != nil {
				return err
			}
		}
		return u.repo.TouchInteraction(u.ctx, id, u.now, 1)
	})
	if err != nil {
		return nil, err
	}
	if absent {
		c.log.Info("companion greeted after long absence", "entity", id, "since", ent.LastInteraction)
	}

	res := c.result(id, u)
	stage, xp := ent.Stage, ent.TotalXP
	for _, g := range u.grants {
		xp = g.TotalXP
		if g.Transition != nil {
			stage = g.Transition.To
		}
	}

	p := Prompt{
		Name:      ent.Name,
		Stage:     stage,
		TotalXP:   xp,
		DaysAlive: int(u.now.Sub(ent.CreatedAt)/(24*time.Hour)) + 1,
		Emotion:   res.Emotion,
		Mood:      c.hormones.Describe(res.Levels),
		Text:      text,
	}
	// The unit has committed; a failed reply must not read as a failed message.
	reply, err := c.responder.Reply(ctx, p)
	if err != nil {
		c.log.Warn("reply generation failed, using echo voice", "entity", id, "error", err)
		reply, _ = EchoResponder{}.Reply(ctx, p)
	}
	return &MessageResult{Result: *res, Reply: reply, LongAbsence: absent}, nil
}
