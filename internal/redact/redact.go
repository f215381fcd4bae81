// Package redact detects and masks personally identifying substrings in
// free text before it reaches any downstream component.
//
// Detection is a single synchronous regex pass over ordered structured
// patterns (email, phone, SSN, etc.). Every match is replaced with a fixed
// placeholder token such as [EMAIL_REDACTED]. Placeholders contain no digits
// and match none of the patterns, so redaction is idempotent: running it
// over already-redacted text produces no new replacements.
package redact

import (
	"regexp"

	"companion-core/internal/logger"
	"companion-core/internal/metrics"
)

// PIIType classifies the kind of sensitive data found.
type PIIType string

// Supported PII types for detection and redaction.
const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "creditCard"
	PIIIPAddress  PIIType = "ipAddress"
	PIIAddress    PIIType = "address"
	PIIURL        PIIType = "url"
)

// pattern pairs a compiled regex with its PII type and placeholder token.
type pattern struct {
	re      *regexp.Regexp
	piiType PIIType
	token   string
}

// Redactor holds the compiled patterns.
type Redactor struct {
	patterns []pattern
	log      *logger.Logger
	metrics  *metrics.Metrics // nil = no metrics
}

// Result carries the redacted text plus detection metadata. The set of
// matched types is kept even though the original substrings are gone, so
// callers can report "PII was present" without retaining the PII itself.
type Result struct {
	Text  string
	Found []PIIType // first-occurrence order, deduplicated
}

// HasPII reports whether any personally identifying content was detected.
func (r Result) HasPII() bool { return len(r.Found) > 0 }

// New creates a Redactor. metrics may be nil.
func New(log *logger.Logger, m *metrics.Metrics) *Redactor {
	r := &Redactor{log: log, metrics: m}
	r.compilePatterns()
	return r
}

// compilePatterns builds the ordered pattern list. Order matters: more
// specific patterns (email, SSN, card) run before the looser phone pattern
// so a structured value is consumed by its own placeholder first.
func (r *Redactor) compilePatterns() {
	specs := []struct {
		expr    string
		piiType PIIType
		token   string
	}{
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, PIIEmail, "[EMAIL_REDACTED]"},
		{`\b\d{3}-\d{2}-\d{4}\b`, PIISSN, "[SSN_REDACTED]"},
		{`\b(?:\d{4}[\-\s]?){3}\d{4}\b`, PIICreditCard, "[CARD_REDACTED]"},
		{`(\+?1?[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})`, PIIPhone, "[PHONE_REDACTED]"},
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, PIIIPAddress, "[IP_REDACTED]"},
		{`\bhttps?://[^\s<>"]+`, PIIURL, "[URL_REDACTED]"},
		{`(?i)\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`, PIIAddress, "[ADDRESS_REDACTED]"},
	}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			if r.log != nil {
				r.log.Warnf("compile_pattern", "could not compile %q: %v", s.expr, err)
			}
			continue
		}
		r.patterns = append(r.patterns, pattern{re: re, piiType: s.piiType, token: s.token})
	}
}

// Redact replaces all detected PII in text with fixed placeholder tokens and
// returns the cleaned text plus the set of matched types.
func (r *Redactor) Redact(text string) Result {
	if text == "" {
		return Result{Text: text}
	}

	res := Result{Text: text}
	seen := make(map[PIIType]bool, len(r.patterns))
	for _, p := range r.patterns {
		matched := false
		res.Text = p.re.ReplaceAllStringFunc(res.Text, func(string) string {
			matched = true
			return p.token
		})
		if matched {
			if !seen[p.piiType] {
				seen[p.piiType] = true
				res.Found = append(res.Found, p.piiType)
			}
			if r.metrics != nil {
				r.metrics.RecordRedaction(string(p.piiType))
			}
		}
	}

	if len(res.Found) > 0 && r.log != nil {
		r.log.Debugf("redact", "masked %d PII type(s)", len(res.Found))
	}
	return res
}
