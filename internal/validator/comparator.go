package validator

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// ComparisonConfig tunes the tolerant comparator used to compare
// submitted output against expected output.
type ComparisonConfig struct {
	FloatTolerance    float64
	RelativeTolerance float64
	StringCaseSensitive bool
	IgnoreWhitespace  bool
	ListOrderMatters  bool
}

// DefaultComparisonConfig returns the default tolerance settings.
func DefaultComparisonConfig() ComparisonConfig {
	return ComparisonConfig{
		FloatTolerance:      1e-9,
		RelativeTolerance:   1e-9,
		StringCaseSensitive: true,
		IgnoreWhitespace:    false,
		ListOrderMatters:    true,
	}
}

// Comparator compares decoded JSON values (the Go equivalents of Python's
// dynamically-typed expected/actual outputs) under configurable tolerance.
type Comparator struct {
	cfg ComparisonConfig
}

// NewComparator constructs a Comparator with cfg.
func NewComparator(cfg ComparisonConfig) *Comparator {
	return &Comparator{cfg: cfg}
}

// Compare reports whether expected and actual (both decoded via
// encoding/json, so numbers are float64, objects are map[string]any,
// arrays are []any) match under the configured tolerance.
func (c *Comparator) Compare(expected, actual json.RawMessage) bool {
	var e, a interface{}
	if err := json.Unmarshal(expected, &e); err != nil {
		return false
	}
	if err := json.Unmarshal(actual, &a); err != nil {
		return false
	}
	return c.compareValues(e, a)
}

func (c *Comparator) compareValues(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch e := expected.(type) {
	case float64:
		af, ok := actual.(float64)
		if !ok {
			return false
		}
		return c.compareFloats(e, af)
	case string:
		as, ok := actual.(string)
		if !ok {
			return false
		}
		return c.compareStrings(e, as)
	case bool:
		ab, ok := actual.(bool)
		return ok && e == ab
	case []interface{}:
		aa, ok := actual.([]interface{})
		if !ok {
			return false
		}
		return c.compareLists(e, aa)
	case map[string]interface{}:
		am, ok := actual.(map[string]interface{})
		if !ok {
			return false
		}
		return c.compareMaps(e, am)
	default:
		return expected == actual
	}
}

func (c *Comparator) compareFloats(expected, actual float64) bool {
	if math.IsNaN(expected) && math.IsNaN(actual) {
		return true
	}
	if math.IsInf(expected, 0) && math.IsInf(actual, 0) {
		return expected == actual
	}
	if math.Abs(expected-actual) <= c.cfg.FloatTolerance {
		return true
	}
	if expected != 0 {
		relErr := math.Abs((expected - actual) / expected)
		return relErr <= c.cfg.RelativeTolerance
	}
	return false
}

func (c *Comparator) compareStrings(expected, actual string) bool {
	if !c.cfg.StringCaseSensitive {
		expected = strings.ToLower(expected)
		actual = strings.ToLower(actual)
	}
	if c.cfg.IgnoreWhitespace {
		expected = stripWhitespace(expected)
		actual = stripWhitespace(actual)
	}
	return expected == actual
}

func stripWhitespace(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !strings.ContainsRune(" \t\n\r\v\f", r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (c *Comparator) compareLists(expected, actual []interface{}) bool {
	if len(expected) != len(actual) {
		return false
	}
	if !c.cfg.ListOrderMatters {
		expected = sortedCopy(expected)
		actual = sortedCopy(actual)
	}
	for i := range expected {
		if !c.compareValues(expected[i], actual[i]) {
			return false
		}
	}
	return true
}

func (c *Comparator) compareMaps(expected, actual map[string]interface{}) bool {
	if len(expected) != len(actual) {
		return false
	}
	for k, ev := range expected {
		av, ok := actual[k]
		if !ok {
			return false
		}
		if !c.compareValues(ev, av) {
			return false
		}
	}
	return true
}

// sortedCopy sorts a slice of decoded JSON scalars for order-insensitive
// comparison, falling back to the original order when elements aren't
// uniformly comparable, since Go has no implicit ordering on interface{}.
func sortedCopy(values []interface{}) []interface{} {
	out := append([]interface{}(nil), values...)
	allFloat := true
	for _, v := range out {
		if _, ok := v.(float64); !ok {
			allFloat = false
			break
		}
	}
	if allFloat {
		sort.Slice(out, func(i, j int) bool { return out[i].(float64) < out[j].(float64) })
		return out
	}
	allString := true
	for _, v := range out {
		if _, ok := v.(string); !ok {
			allString = false
			break
		}
	}
	if allString {
		sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
		return out
	}
	return out
}
