package hormone

import "sort"

// Predefined modifier bundle names.
const (
	UserMessageReceived = "user_message_received"
	PositiveInteraction = "positive_interaction"
	NegativeInteraction = "negative_interaction"
	LongAbsence         = "long_absence"
	BatteryLow          = "battery_low"
	BatteryCritical     = "battery_critical"
	BatteryCharging     = "battery_charging"
	NightTime           = "night_time"
	MorningGreeting     = "morning_greeting"
	MemoryCreated       = "memory_created"
	FlashMemory         = "flash_memory"
)

var bundles = map[string][]Modifier{
	UserMessageReceived: {
		{Hormone: Dopamine, Delta: 8},
		{Hormone: Oxytocin, Delta: 5},
		{Hormone: Serotonin, Delta: 3},
	},
	PositiveInteraction: {
		{Hormone: Dopamine, Delta: 12},
		{Hormone: Serotonin, Delta: 8},
		{Hormone: Endorphins, Delta: 6},
	},
	NegativeInteraction: {
		{Hormone: Cortisol, Delta: 15},
		{Hormone: Serotonin, Delta: -10},
		{Hormone: Dopamine, Delta: -8},
	},
	LongAbsence: {
		{Hormone: Oxytocin, Delta: -20},
		{Hormone: Serotonin, Delta: -10},
		{Hormone: Cortisol, Delta: 10},
	},
	BatteryLow: {
		{Hormone: Cortisol, Delta: 10},
		{Hormone: Adrenaline, Delta: 5},
	},
	BatteryCritical: {
		{Hormone: Cortisol, Delta: 20},
		{Hormone: Adrenaline, Delta: 15},
		{Hormone: Serotonin, Delta: -10},
	},
	BatteryCharging: {
		{Hormone: Cortisol, Delta: -10},
		{Hormone: Serotonin, Delta: 5},
	},
	NightTime: {
		{Hormone: Adrenaline, Delta: -10},
		{Hormone: Serotonin, Delta: -5},
	},
	MorningGreeting: {
		{Hormone: Dopamine, Delta: 10},
		{Hormone: Serotonin, Delta: 8},
		{Hormone: Cortisol, Delta: 5},
	},
	MemoryCreated: {
		{Hormone: Dopamine, Delta: 10},
		{Hormone: Oxytocin, Delta: 8},
	},
	FlashMemory: {
		{Hormone: Dopamine, Delta: 20},
		{Hormone: Endorphins, Delta: 15},
		{Hormone: Oxytocin, Delta: 10},
	},
}

// Bundle returns a copy of the named modifier bundle with Source set to name.
func Bundle(name string) ([]Modifier, bool) {
	b, ok := bundles[name]
	if !ok {
		return nil, false
	}
	out := make([]Modifier, len(b))
	for i, m := range b {
		m.Source = name
		out[i] = m
	}
	return out, true
}

// BundleNames returns all bundle names, sorted.
func BundleNames() []string {
	names := make([]string, 0, len(bundles))
	for n := range bundles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
