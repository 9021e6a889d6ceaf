package sender

import "strings"

// Named aggressiveness tiers controlling how many endpoints one wave hits.
const (
	StrategyConservative = "conservative"
	StrategyBalanced     = "balanced"
	StrategyAggressive   = "aggressive"
)

const defaultWaveSize = 2

// MicroBatch maps a strategy name to its wave size. Pure and total:
// conservative=1, balanced=2, aggressive=3, anything else (including blank)
// falls back to 2. Case insensitive.
func MicroBatch(strategy string) int {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case StrategyConservative:
		return 1
	case StrategyBalanced:
		return 2
	case StrategyAggressive:
		return 3
	default:
		return defaultWaveSize
	}
}
