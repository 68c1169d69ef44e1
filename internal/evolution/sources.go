package evolution

import (
	"fmt"
	"time"
)

// Source is a kind of activity that earns XP.
type Source string

const (
	MessageSent       Source = "message_sent"
	MessageQuality    Source = "message_quality"
	ConversationDepth Source = "conversation_depth"
	DailyLogin        Source = "daily_login"
	StreakBonus       Source = "streak_bonus"
	MemoryCreated     Source = "memory_created"
	EmotionShared     Source = "emotion_shared"
	MilestoneReached  Source = "milestone_reached"
)

// SourceConfig controls how much a source pays and how often.
type SourceConfig struct {
	BaseXP      int64
	Cooldown    time.Duration
	DailyLimit  int // 0 means unlimited
	Description string
}

// Sources is the XP source table.
type Sources map[Source]SourceConfig

// DefaultSources returns the standard XP source table.
func DefaultSources() Sources {
	return Sources{
		MessageSent:       {5, 30 * time.Second, 100, "Send a message"},
		MessageQuality:    {10, time.Minute, 50, "Substantial message (over 50 characters)"},
		ConversationDepth: {25, 5 * time.Minute, 20, "Extended conversation"},
		DailyLogin:        {50, 24 * time.Hour, 1, "Daily check-in"},
		StreakBonus:       {20, 24 * time.Hour, 1, "Streak bonus"},
		MemoryCreated:     {15, 2 * time.Minute, 30, "Memory created"},
		EmotionShared:     {10, time.Minute, 50, "Shared an emotion"},
		MilestoneReached:  {100, 0, 0, "Milestone reached"},
	}
}

// Mode is the development mode, which scales every grant.
type Mode string

const (
	Production Mode = "production"
	Prototype  Mode = "prototype"
	Testing    Mode = "testing"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Production, Prototype, Testing:
		return m, nil
	}
	return "", fmt.Errorf("unknown development mode %q", s)
}

// Multiplier returns the XP multiplier for m.
func (m Mode) Multiplier() float64 {
	switch m {
	case Prototype:
		return 10
	case Testing:
		return 100
	}
	return 1
}
