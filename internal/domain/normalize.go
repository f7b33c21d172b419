package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// UnknownTime marks a date that could not be parsed.
var UnknownTime = time.Time{}

var (
	cwePattern   = regexp.MustCompile(`(?i)CWE-\d+`)
	// scoreToken matches a bare score, optionally written out of ten.
	scoreToken = regexp.MustCompile(`^(\d+(?:\.\d+)?)(?:/10(?:\.0)?)?$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006/01/02",
	"2006.01.02",
	"2006年01月02日",
}

// ValidationError describes a field that was present but could not be interpreted.
// It is reported for diagnostics only; normalization substitutes a default.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Normalize converts p into a NormalizedRecord. It never fails.
func Normalize(p DetailPayload) NormalizedRecord {
	rec, _ := NormalizeWithIssues(p)
	return rec
}

// NormalizeWithIssues converts p and reports the fields that fell back to defaults.
func NormalizeWithIssues(p DetailPayload) (NormalizedRecord, []*ValidationError) {
	var issues []*ValidationError

	score, err := ParseScore(p.CVSSScore)
	if err != nil && strings.TrimSpace(p.CVSSScore) != "" {
		issues = append(issues, &ValidationError{Field: "cvss_score", Value: p.CVSSScore, Err: err})
	}

	published, err := ParseDate(p.DisclosureDate)
	if err != nil && strings.TrimSpace(p.DisclosureDate) != "" {
		issues = append(issues, &ValidationError{Field: "disclosure_date", Value: p.DisclosureDate, Err: err})
	}

	modified := published
	if strings.TrimSpace(p.ModifiedDate) != "" {
		modified, err = ParseDate(p.ModifiedDate)
		if err != nil {
			issues = append(issues, &ValidationError{Field: "modified_date", Value: p.ModifiedDate, Err: err})
		}
	}

	return NormalizedRecord{
		CVEID:            strings.TrimSpace(p.CVEID),
		Title:            strings.TrimSpace(p.Title),
		Severity:         SeverityFromScore(score),
		CVSSScore:        score,
		PublishedDate:    published,
		LastModified:     modified,
		Description:      strings.TrimSpace(p.Description),
		Solution:         strings.TrimSpace(p.Solution),
		AffectedProducts: cleanList(p.AffectedProducts),
		CWEIDs:           ParseCWEIDs(p.CWEType),
		References:       cleanList(p.References),
	}, issues
}

// ParseScore extracts a CVSS score in [0, 10]. Vector strings and version
// labels are ignored and the last standalone number wins, so "CVSS 3.1 9.8"
// yields 9.8. Unparsable input yields 0.
func ParseScore(raw string) (float64, error) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("()[],;|（）【】", r)
	})
	found := false
	for i := len(tokens) - 1; i >= 0; i-- {
		m := scoreToken.FindStringSubmatch(tokens[i])
		if m == nil {
			continue
		}
		found = true
		score, err := strconv.ParseFloat(m[1], 64)
		if err == nil && score >= 0 && score <= 10 {
			return score, nil
		}
	}
	if found {
		return 0, fmt.Errorf("score out of range in %q", raw)
	}
	return 0, fmt.Errorf("no numeric score in %q", raw)
}

// ParseDate parses a source date. Unparsable input yields UnknownTime.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UnknownTime, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return UnknownTime, fmt.Errorf("unrecognized date format %q", raw)
}

// IsUnknownTime reports whether t is the unknown-date sentinel.
func IsUnknownTime(t time.Time) bool {
	return t.IsZero()
}

// ParseCWEIDs extracts CWE identifiers, upper-cased and de-duplicated in order.
func ParseCWEIDs(raw string) []string {
	matches := cwePattern.FindAllString(raw, -1)
	ids := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		id := strings.ToUpper(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
