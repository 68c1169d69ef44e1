package companion

// tracked reports how many entities have a lock, a cached emotion and an
// emotion history in memory.
func (c *Companion) tracked() (locks, cached, histories int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks), len(c.cache), len(c.history)
}

// Tracked exposes tracked to the external test package.
var Tracked = (*Companion).tracked
