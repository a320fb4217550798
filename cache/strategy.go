package cache

import (
	"fmt"
	"strings"
)

// Strategy selects which storage tiers a cache uses.
type Strategy int

const (
	// StrategyMemory keeps entries only in the in-process LRU.
	StrategyMemory Strategy = iota
	// StrategyDisk keeps entries only as files in Options.Dir.
	StrategyDisk
	// StrategyHybrid writes both tiers and promotes disk hits into memory.
	StrategyHybrid
)

// ParseStrategy parses "memory", "disk" or "hybrid" (case-insensitive).
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory":
		return StrategyMemory, nil
	case "disk":
		return StrategyDisk, nil
	case "hybrid":
		return StrategyHybrid, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyMemory:
		return "memory"
	case StrategyDisk:
		return "disk"
	case StrategyHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func (s Strategy) usesMemory() bool { return s == StrategyMemory || s == StrategyHybrid }
func (s Strategy) usesDisk() bool   { return s == StrategyDisk || s == StrategyHybrid }

func (s Strategy) valid() bool { return s >= StrategyMemory && s <= StrategyHybrid }
