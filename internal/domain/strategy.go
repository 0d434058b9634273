package domain

import (
	"fmt"
	"strings"
)

// Strategy selects how the dispatcher trades durability for latency
type Strategy string

const (
	// StrategyOutbox persists every event before transform and publish.
	StrategyOutbox Strategy = "OUTBOX"
	// StrategyReliable persists every event and transforms before acknowledging.
	StrategyReliable Strategy = "RELIABLE"
	// StrategyLightweight persists only failures.
	StrategyLightweight Strategy = "LIGHTWEIGHT"
)

// ParseStrategy converts a case-insensitive name into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown strategy %q", s)
	}
	return strategy, nil
}

func (s Strategy) Valid() bool {
	switch s {
	case StrategyOutbox, StrategyReliable, StrategyLightweight:
		return true
	}
	return false
}

// UnmarshalText lets configuration loaders decode a Strategy directly.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Strategy) String() string {
	return string(s)
}
