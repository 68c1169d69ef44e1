package companion

import (
	"context"
	"fmt"
	"sort"

	"github.com/talgya/tamagochai/internal/emotion"
	"github.com/talgya/tamagochai/internal/evolution"
	"github.com/talgya/tamagochai/internal/hormone"
)

// EventSpec ties a semantic event to a modifier bundle, an XP source, or both.
type EventSpec struct {
	Bundle string
	Source evolution.Source
}

// Named events understood by ApplyNamedEvent.
const (
	EventUserMessage         = "user_message"
	EventPositiveInteraction = "positive_interaction"
	EventNegativeInteraction = "negative_interaction"
	EventLongAbsence         = "long_absence"
	EventBatteryLow          = "battery_low"
	EventBatteryCritical     = "battery_critical"
	EventBatteryCharging     = "battery_charging"
	EventNightTime           = "night_time"
	EventMorningGreeting     = "morning_greeting"
	EventMemoryCreated       = "memory_created"
	EventFlashMemory         = "flash_memory"
	EventEmotionShared       = "emotion_shared"
	EventDeepConversation    = "deep_conversation"
	EventStreak              = "streak"
	EventMilestone           = "milestone"
)

// Events is the catalog of named events.
var Events = map[string]EventSpec{
	EventUserMessage:         {Bundle: hormone.UserMessageReceived, Source: evolution.MessageSent},
	EventPositiveInteraction: {Bundle: hormone.PositiveInteraction},
	EventNegativeInteraction: {Bundle: hormone.NegativeInteraction},
	EventLongAbsence:         {Bundle: hormone.LongAbsence},
	EventBatteryLow:          {Bundle: hormone.BatteryLow},
	EventBatteryCritical:     {Bundle: hormone.BatteryCritical},
	EventBatteryCharging:     {Bundle: hormone.BatteryCharging},
	EventNightTime:           {Bundle: hormone.NightTime},
	EventMorningGreeting:     {Bundle: hormone.MorningGreeting, Source: evolution.DailyLogin},
	EventMemoryCreated:       {Bundle: hormone.MemoryCreated, Source: evolution.MemoryCreated},
	EventFlashMemory:         {Bundle: hormone.FlashMemory, Source: evolution.MemoryCreated},
	EventEmotionShared:       {Bundle: hormone.PositiveInteraction, Source: evolution.EmotionShared},
	EventDeepConversation:    {Source: evolution.ConversationDepth},
	EventStreak:              {Source: evolution.StreakBonus},
	EventMilestone:           {Source: evolution.MilestoneReached},
}

// EventNames returns the catalog keys, sorted.
func EventNames() []string {
	names := make([]string, 0, len(Events))
	for n := range Events {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Result describes the state after a mutation.
type Result struct {
	Levels  hormone.Levels     `json:"levels"`
	Emotion emotion.State      `json:"emotion"`
	Grants  []*evolution.Grant `json:"grants,omitempty"`
}

func (c *Companion) result(id string, u *unit) *Result {
	st := c.formulas.Derive(u.state.Levels)
	c.remember(id, st, u.now)
	return &Result{Levels: u.state.Levels, Emotion: st, Grants: u.grants}
}

// ApplyNamedEvent applies the bundle and XP source registered for name as
// one unit. A refused XP grant still applies the bundle.
func (c *Companion) ApplyNamedEvent(ctx context.Context, id, name string) (*Result, error) {
	spec, ok := Events[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	var mods []hormone.Modifier
	if spec.Bundle != "" {
		mods, ok = hormone.Bundle(spec.Bundle)
		if !ok {
			return nil, fmt.Errorf("event %s: missing bundle %s", name, spec.Bundle)
		}
	}

	u, err := c.mutate(ctx, id, func(u *unit) error {
		if len(mods) > 0 {
			if err := u.apply(mods, name); err != nil {
				return err
			}
		}
		if spec.Source != "" {
			if _, err := u.grant(spec.Source, map[string]any{"event": name}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Debug("event applied", "entity", id, "event", name, "xp_grants", len(u.grants))
	return c.result(id, u), nil
}

// ApplyModifiers applies arbitrary modifiers after decay, labelled trigger.
func (c *Companion) ApplyModifiers(ctx context.Context, id string, mods []hormone.Modifier, trigger string) (*Result, error) {
	u, err := c.mutate(ctx, id, func(u *unit) error {
		return u.apply(mods, trigger)
	})
	if err != nil {
		return nil, err
	}
	return c.result(id, u), nil
}

// GrantXP awards XP from src. It returns (nil, nil) when rate limited.
func (c *Companion) GrantXP(ctx context.Context, id string, src evolution.Source, metadata map[string]any) (*evolution.Grant, error) {
	var g *evolution.Grant
	_, err := c.mutate(ctx, id, func(u *unit) error {
		var err error
		g, err = u.grant(src, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Decay brings id's hormone levels up to date without applying anything
// else. It is what periodic sessions run on every tick.
func (c *Companion) Decay(ctx context.Context, id string) (hormone.Levels, error) {
	u, err := c.mutate(ctx, id, nil)
	if err != nil {
		return hormone.Levels{}, err
	}
	return u.state.Levels, nil
}
