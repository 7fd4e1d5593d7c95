package metrics

import "fmt"

// Tag creates a formatted DataDog tag string in "key:value" format.
func Tag(key, value string) string {
	return fmt.Sprintf("%s:%s", key, value)
}

// MethodTag creates an HTTP method tag.
func MethodTag(method string) string {
	return Tag("method", method)
}

// OutcomeTag creates a request outcome tag (success/failure).
func OutcomeTag(outcome string) string {
	return Tag("outcome", outcome)
}

// CodeTag creates an error code tag.
func CodeTag(code string) string {
	return Tag("code", code)
}

// CircuitStateTag creates a circuit breaker state tag.
func CircuitStateTag(state string) string {
	return Tag("circuit_state", state)
}

// CircuitStateName maps the numeric gauge value back to a state name.
func CircuitStateName(v int) string {
	switch v {
	case 0:
		return "closed"
	case 1:
		return "open"
	case 2:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitStateValue maps a state name to the numeric gauge value.
func CircuitStateValue(state string) int {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// MergeTags returns base followed by extra without aliasing base.
func MergeTags(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	if len(base) == 0 {
		return extra
	}
	merged := make([]string, 0, len(base)+len(extra))
	merged = append(merged, base...)
	return append(merged, extra...)
}
