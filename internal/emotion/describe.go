package emotion

import (
	"fmt"
	"strings"
)

// Polarity groups emotions by how they feel.
type Polarity string

const (
	Positive    Polarity = "positive"
	Negative    Polarity = "negative"
	NeutralMood Polarity = "neutral"
)

// Expression is the avatar face used to render an emotion.
type Expression string

type tagInfo struct {
	display    string
	polarity   Polarity
	expression Expression
}

var tagTable = map[Tag]tagInfo{
	Neutral:  {"Neutral", NeutralMood, "neutral"},
	Happy:    {"Happy", Positive, "happy"},
	Sad:      {"Sad", Negative, "sad"},
	Angry:    {"Angry", Negative, "angry"},
	Scared:   {"Scared", Negative, "scared"},
	Loving:   {"Loving", Positive, "loving"},
	Excited:  {"Excited", Positive, "happy"},
	Tired:    {"Tired", Negative, "sad"},
	Curious:  {"Curious", Positive, "neutral"},
	Confused: {"Confused", NeutralMood, "neutral"},
}

// PolarityOf classifies tag.
func PolarityOf(tag Tag) Polarity {
	if info, ok := tagTable[tag]; ok {
		return info.polarity
	}
	return NeutralMood
}

// ExpressionOf returns the avatar expression for tag.
func ExpressionOf(tag Tag) Expression {
	if info, ok := tagTable[tag]; ok {
		return info.expression
	}
	return "neutral"
}

var intensityPrefix = map[Intensity]string{
	Subtle:       "slightly",
	Moderate:     "",
	Strong:       "very",
	Overwhelming: "extremely",
}

// Describe renders s as a short phrase such as "slightly happy".
func Describe(s State) string {
	name := string(s.Primary)
	if info, ok := tagTable[s.Primary]; ok {
		name = info.display
	}
	name = strings.ToLower(name)
	if p := intensityPrefix[s.Intensity]; p != "" {
		return fmt.Sprintf("%s %s", p, name)
	}
	return name
}
