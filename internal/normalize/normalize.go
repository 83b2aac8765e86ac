// Package normalize turns raw place field values into comparison keys. Two
// values are "the same" exactly when their keys are equal. Every function is
// idempotent.
package normalize

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/place-resolver/internal/model"
)

var (
	lower        = cases.Lower(language.Und)
	multiSpaceRe = regexp.MustCompile(`\s+`)
)

type abbrev struct {
	re   *regexp.Regexp
	repl string
}

var addressAbbrevs = []abbrev{
	{regexp.MustCompile(`\bstreet\b`), "st"},
	{regexp.MustCompile(`\bavenue\b`), "ave"},
	{regexp.MustCompile(`\bboulevard\b`), "blvd"},
	{regexp.MustCompile(`\broad\b`), "rd"},
	{regexp.MustCompile(`\bdrive\b`), "dr"},
	{regexp.MustCompile(`\blane\b`), "ln"},
	{regexp.MustCompile(`\bplace\b`), "pl"},
	{regexp.MustCompile(`\bcourt\b`), "ct"},
	{regexp.MustCompile(`\bsuite\b`), "ste"},
}

func fold(s string) string {
	return lower.String(norm.NFC.String(s))
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// Name lowercases, replaces everything but letters, digits and whitespace
// with a space, and collapses whitespace. "Bob's Diner" and "BOB S DINER"
// share a key.
func Name(v string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		// Combining marks stay attached to their letter.
		if unicode.Is(unicode.Mn, r) {
			return r
		}
		return ' '
	}, fold(v))
	return collapse(s)
}

// Address lowercases, abbreviates street suffix words, and collapses
// whitespace.
func Address(v string) string {
	s := fold(strings.TrimSpace(v))
	for _, a := range addressAbbrevs {
		s = a.re.ReplaceAllString(s, a.repl)
	}
	return collapse(s)
}

// Phone keeps digits only, with a single leading '+' when the input starts
// with one.
func Phone(v string) string {
	v = strings.TrimSpace(v)
	var b strings.Builder
	if strings.HasPrefix(v, "+") {
		b.WriteByte('+')
	}
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Website returns the lowercase host without a leading "www.". Input that
// does not parse to a host falls back to its lowercase-trimmed form.
func Website(v string) string {
	if host := Domain(v); host != "" {
		return host
	}
	return fold(strings.TrimSpace(v))
}

// Domain returns the normalized host of v, or "" when v has none.
func Domain(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "://") {
		v = "https://" + v
	}
	u, err := url.Parse(v)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

// Hours compares schedules by content. Structured hours (a JSON object or
// array) are re-encoded with sorted object keys and no whitespace, so the
// same schedule compares equal whatever key order it was stored with. Free
// text is lowercased and trimmed.
func Hours(v string) string {
	t := strings.TrimSpace(v)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		if s, ok := canonicalJSON(t); ok {
			return s
		}
	}
	return fold(t)
}

func canonicalJSON(s string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}

// Description lowercases and collapses whitespace.
func Description(v string) string {
	return collapse(fold(v))
}

// Field dispatches to the normalizer for f.
func Field(f model.Field, v string) string {
	switch f {
	case model.FieldName:
		return Name(v)
	case model.FieldAddress:
		return Address(v)
	case model.FieldPhone:
		return Phone(v)
	case model.FieldWebsite:
		return Website(v)
	case model.FieldHours:
		return Hours(v)
	case model.FieldDescription:
		return Description(v)
	}
	return fold(strings.TrimSpace(v))
}
