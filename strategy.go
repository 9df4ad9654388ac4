package diffuse

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Strategy selects the closed-form curve a beta schedule follows.
type Strategy int

const (
	StrategyLinear    Strategy = iota + 1 // Linear interpolation between the range bounds.
	StrategyConstant                      // Every beta equals the range end.
	StrategyQuadratic                     // Linear in sqrt-beta space, then squared.
	StrategySigmoid                       // Sigmoid warm-up between the range bounds.
	StrategyCosine                        // Cosine alpha-bar schedule; ignores the range.
)

var (
	strategyNames = [...]string{
		StrategyLinear:    "linear",
		StrategyConstant:  "constant",
		StrategyQuadratic: "quadratic",
		StrategySigmoid:   "sigmoid",
		StrategyCosine:    "cosine",
	}
	strategyByName = map[string]Strategy{
		"linear":    StrategyLinear,
		"constant":  StrategyConstant,
		"quadratic": StrategyQuadratic,
		"sigmoid":   StrategySigmoid,
		"cosine":    StrategyCosine,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Strategy(0)
	_ json.Marshaler           = Strategy(0)
	_ json.Unmarshaler         = (*Strategy)(nil)
	_ encoding.TextMarshaler   = Strategy(0)
	_ encoding.TextUnmarshaler = (*Strategy)(nil)
)

// ParseStrategy converts a strategy name ("linear", "cosine", ...) to a
// Strategy. Unknown names return ErrInvalidConfig.
func ParseStrategy(name string) (Strategy, error) {
	s, ok := strategyByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown schedule strategy %q", ErrInvalidConfig, name)
	}
	return s, nil
}

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	return s >= StrategyLinear && s <= StrategyCosine
}

// String returns the name of the strategy. For invalid values it returns
// "Strategy(n)".
func (s Strategy) String() string {
	if s.IsValid() {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: invalid strategy %d", ErrInvalidConfig, int(s))
	}
	return []byte(strategyNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalJSON implements json.Marshaler. Strategy serializes as a JSON string.
func (s Strategy) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler. Expects a JSON string.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: invalid strategy: %s", ErrInvalidConfig, data)
	}
	return s.UnmarshalText([]byte(str))
}
