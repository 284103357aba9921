// Package agepolicy redacts date-of-birth values that belong to minors under
// one or more jurisdictional age thresholds.
package agepolicy

import (
	"strings"
	"time"
)

// DefaultDateFormat is the layout DOB values are parsed with.
const DefaultDateFormat = "2006-01-02"

// Threshold is a named minimum age. A subject strictly younger than Age is a
// minor under Policy.
type Threshold struct {
	Policy string `koanf:"policy" json:"policy"`
	Age    int    `koanf:"age" json:"age"`
}

// DefaultThresholds returns the stock policy table, in output order.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{"HIPAA", 18},
		{"COPPA", 13},
		{"CCPA", 16},
		{"GDPR", 16},
		{"PIPEDA", 18},
		{"LGPD", 18},
		{"PDPA_SG", 13},
		{"PDPA_TH", 10},
		{"FERPA", 18},
	}
}

// DefaultAliases returns the column names treated as date of birth.
func DefaultAliases() []string {
	return []string{"dob", "date_of_birth", "birthdate", "birth_date"}
}

// Options configures a Redactor. Zero fields take the defaults.
type Options struct {
	Aliases    []string
	DateFormat string
	Thresholds []Threshold
	Now        func() time.Time
}

// Redactor is immutable after New and safe for concurrent use.
type Redactor struct {
	aliases    map[string]bool
	format     string
	thresholds []Threshold
	now        func() time.Time
}

// New builds a Redactor from opts.
func New(opts Options) *Redactor {
	if len(opts.Aliases) == 0 {
		opts.Aliases = DefaultAliases()
	}
	if opts.DateFormat == "" {
		opts.DateFormat = DefaultDateFormat
	}
	if len(opts.Thresholds) == 0 {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	aliases := make(map[string]bool, len(opts.Aliases))
	for _, a := range opts.Aliases {
		aliases[normalize(a)] = true
	}
	return &Redactor{
		aliases:    aliases,
		format:     opts.DateFormat,
		thresholds: append([]Threshold(nil), opts.Thresholds...),
		now:        opts.Now,
	}
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// IsDOBColumn reports whether column is one of the configured aliases.
func (r *Redactor) IsDOBColumn(column string) bool {
	return r.aliases[normalize(column)]
}

// Redact returns the replacement marker for value and true when value is the
// birth date of a minor under at least one policy. Non-DOB columns and
// values that do not parse pass through.
func (r *Redactor) Redact(column, value string) (string, bool) {
	if !r.IsDOBColumn(column) {
		return value, false
	}
	dob, err := time.Parse(r.format, strings.TrimSpace(value))
	if err != nil {
		return value, false
	}
	age := Age(dob, r.now())

	var labels []string
	for _, t := range r.thresholds {
		if age < t.Age {
			labels = append(labels, "REDACTED_"+t.Policy+"-MINOR")
		}
	}
	if len(labels) == 0 {
		return value, false
	}
	return "[" + strings.Join(labels, ", ") + "]", true
}

// Age is the number of whole years between dob and now. It is not yet
// incremented on the day before the birthday.
func Age(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
