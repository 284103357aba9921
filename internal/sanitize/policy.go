package sanitize

import "strings"

// PurposePolicy maps a declared processing purpose to the entity types that
// may be kept in clear for it. Spans of an allowed type are dropped before
// the entity layer decides whether a value is redacted.
type PurposePolicy map[string][]string

// DefaultPurposes returns the stock purpose table.
func DefaultPurposes() PurposePolicy {
	return PurposePolicy{
		"analytics":       {},
		"fraud_detection": {EntityIP, EntityEmail},
		"marketing":       {EntityEmail},
		"internal_audit":  {EntityEmail, EntityIP, "DATE_TIME", "ORGANIZATION"},
		"research":        {"DATE_TIME"},
	}
}

// Known reports whether purpose has an entry.
func (p PurposePolicy) Known(purpose string) bool {
	_, ok := p[strings.ToLower(strings.TrimSpace(purpose))]
	return ok
}

// Allowed returns a predicate reporting whether an entity type may be kept
// for purpose. It returns nil when nothing is allowed, including for an
// empty or unknown purpose.
func (p PurposePolicy) Allowed(purpose string) func(label string) bool {
	types := p[strings.ToLower(strings.TrimSpace(purpose))]
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToUpper(t)] = true
	}
	return func(label string) bool { return set[strings.ToUpper(label)] }
}
