package roadevents

import (
	"errors"
	"fmt"
	"strings"
)

// Policy selects how event activity is evaluated against observations.
type Policy string

const (
	// PolicyAggregated treats every valid event as a static point for the
	// whole study period. Event timing is ignored.
	PolicyAggregated Policy = "aggregated"
	// PolicyFineGrained evaluates activity at each observation's exact
	// timestamp.
	PolicyFineGrained Policy = "fine_grained"
	// PolicyHourly evaluates activity at the observation timestamp floored
	// to the event bucket, so observations sharing an hour share a result.
	PolicyHourly Policy = "hourly"
)

var ErrUnknownPolicy = errors.New("unknown road event policy")

// Policies lists every supported policy.
func Policies() []Policy {
	return []Policy{PolicyAggregated, PolicyFineGrained, PolicyHourly}
}

// ParsePolicy accepts a policy name case-insensitively. "fine-grained" is
// accepted as an alias.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); p {
	case PolicyAggregated, PolicyFineGrained, PolicyHourly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// TimeAware reports whether the policy depends on observation timestamps.
func (p Policy) TimeAware() bool {
	return p == PolicyFineGrained || p == PolicyHourly
}

func (p Policy) String() string { return string(p) }
