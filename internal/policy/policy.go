// Package policy resolves effective attendance policies from the global
// default and optional per-schedule overrides.
package policy

// Policy holds the temporal rules applied when classifying attendance.
type Policy struct {
	LateThresholdMinutes  int `json:"late_threshold_minutes"`
	DuplicateCheckMinutes int `json:"duplicate_check_minutes"`
}

// Override carries per-schedule values; each field is independently
// optional and falls back to the default when nil.
type Override struct {
	LateThresholdMinutes  *int
	DuplicateCheckMinutes *int
}

// Default is used when no settings row exists yet.
var Default = Policy{
	LateThresholdMinutes:  30,
	DuplicateCheckMinutes: 120,
}

// Resolve merges an override into a base policy field by field. It never
// mutates its inputs; the result is recomputed per query.
func Resolve(base Policy, o Override) Policy {
	out := base
	if o.LateThresholdMinutes != nil {
		out.LateThresholdMinutes = *o.LateThresholdMinutes
	}
	if o.DuplicateCheckMinutes != nil {
		out.DuplicateCheckMinutes = *o.DuplicateCheckMinutes
	}
	return out
}
