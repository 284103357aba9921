// Package features turns each column of a table.Document into a fixed
// vector of numeric features. The vector layout is versioned; scorers
// trained against one version check the names they receive.
package features

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// SchemaVersion identifies the feature layout below.
const SchemaVersion = "v1"

// SchemaV1 lists the feature names in canonical order.
var SchemaV1 = []string{
	"length",
	"num_underscores",
	"num_digits",
	"has_at",
	"has_email_keyword",
	"pct_email_like",
	"pct_phone_like",
	"pct_ssn_like",
	"pct_ip_like",
	"avg_digits_per_val",
	"avg_val_len",
	"has_dob_pattern",
	"has_gender_term",
	"has_street_suffix",
	"has_city_name",
	"has_known_name",
	"has_zip_pattern",
	"has_phone_pattern",
}

var (
	emailRe = regexp.MustCompile(`[^@]+@[^@]+\.[^@]+`)
	phoneRe = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	ssnRe   = regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)
	ipRe    = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}`)
	dobRe   = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	zipRe   = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
)

// Options controls sampling and the term gazetteers.
type Options struct {
	SampleSize     int
	GenderTerms    []string
	StreetSuffixes []string
	Cities         []string
	KnownNames     []string
}

// DefaultOptions returns the settings the bundled models were trained with.
func DefaultOptions() Options {
	return Options{
		SampleSize:     3,
		GenderTerms:    []string{"male", "female", "man", "woman", "boy", "girl"},
		StreetSuffixes: []string{"st", "street", "ave", "road", "rd", "blvd", "ln", "lane"},
		Cities:         []string{"new york", "los angeles", "chicago", "houston", "phoenix"},
		KnownNames:     []string{"john", "jane", "smith", "doe"},
	}
}

// Row is the feature vector of one column.
type Row struct {
	Column string
	Values []float64
}

// Table is a feature matrix: one row per document column, one value per
// entry of Names.
type Table struct {
	Names []string
	Rows  []Row
}

// Extractor computes SchemaV1 features. It is safe for concurrent use.
type Extractor struct {
	opts Options
}

// New returns an Extractor. Empty gazetteers and a non-positive sample size
// fall back to the defaults.
func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.SampleSize <= 0 {
		opts.SampleSize = def.SampleSize
	}
	if len(opts.GenderTerms) == 0 {
		opts.GenderTerms = def.GenderTerms
	}
	if len(opts.StreetSuffixes) == 0 {
		opts.StreetSuffixes = def.StreetSuffixes
	}
	if len(opts.Cities) == 0 {
		opts.Cities = def.Cities
	}
	if len(opts.KnownNames) == 0 {
		opts.KnownNames = def.KnownNames
	}
	opts.GenderTerms = lower(opts.GenderTerms)
	opts.StreetSuffixes = lower(opts.StreetSuffixes)
	opts.Cities = lower(opts.Cities)
	opts.KnownNames = lower(opts.KnownNames)
	return &Extractor{opts: opts}
}

// Extract returns one feature row per column of doc, in column order.
func (e *Extractor) Extract(doc *table.Document) Table {
	out := Table{
		Names: append([]string(nil), SchemaV1...),
		Rows:  make([]Row, doc.NumColumns()),
	}
	for i := 0; i < doc.NumColumns(); i++ {
		col := doc.ColumnAt(i)
		out.Rows[i] = Row{Column: col.Name, Values: e.column(col.Name, e.sample(col.Values))}
	}
	return out
}

// sample returns the first SampleSize non-null values as strings.
func (e *Extractor) sample(values []table.Value) []string {
	out := make([]string, 0, e.opts.SampleSize)
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		out = append(out, v.String())
		if len(out) == e.opts.SampleSize {
			break
		}
	}
	return out
}

func (e *Extractor) column(name string, sample []string) []float64 {
	var digits int
	for _, r := range name {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return []float64{
		float64(utf8.RuneCountInString(name)),
		float64(strings.Count(name, "_")),
		float64(digits),
		boolf(strings.Contains(name, "@")),
		boolf(strings.Contains(strings.ToLower(name), "email")),
		pctMatch(emailRe, sample),
		pctMatch(phoneRe, sample),
		pctMatch(ssnRe, sample),
		pctMatch(ipRe, sample),
		avg(sample, countDigits),
		avg(sample, utf8.RuneCountInString),
		boolf(anyMatch(dobRe, sample)),
		boolf(anyTerm(e.opts.GenderTerms, sample)),
		boolf(anyTerm(e.opts.StreetSuffixes, sample)),
		boolf(anyTerm(e.opts.Cities, sample)),
		boolf(anyTerm(e.opts.KnownNames, sample)),
		boolf(anyMatch(zipRe, sample)),
		boolf(anyMatch(phoneRe, sample)),
	}
}

func pctMatch(re *regexp.Regexp, sample []string) float64 {
	if len(sample) == 0 {
		return 0
	}
	var n int
	for _, s := range sample {
		if re.MatchString(s) {
			n++
		}
	}
	return float64(n) / float64(len(sample))
}

func anyMatch(re *regexp.Regexp, sample []string) bool {
	for _, s := range sample {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// anyTerm is a case-insensitive substring test.
func anyTerm(terms, sample []string) bool {
	for _, s := range sample {
		ls := strings.ToLower(s)
		for _, t := range terms {
			if strings.Contains(ls, t) {
				return true
			}
		}
	}
	return false
}

func avg(sample []string, f func(string) int) float64 {
	if len(sample) == 0 {
		return 0
	}
	var sum int
	for _, s := range sample {
		sum += f(s)
	}
	return float64(sum) / float64(len(sample))
}

func countDigits(s string) int {
	var n int
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
