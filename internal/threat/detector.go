// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package threat provides pattern-based detection of malicious input.
//
// The detectors match a fixed set of canonical XSS and SQL injection
// signatures. They are classifiers, not parsers: false negatives against
// heavily obfuscated payloads are an accepted limitation. Sanitization is
// additive (strip, don't reject) and idempotent.
package threat

import (
	"regexp"
	"strings"
)

// Type identifies which detector matched an input.
type Type string

const (
	TypeXSS          Type = "xss"
	TypeSQLInjection Type = "sql_injection"
	TypeSuspicious   Type = "suspicious_activity"
)

// xssPatterns match markup-execution vectors: script tags, inline event
// handlers, javascript: URIs, and embeddable active content.
var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)<\s*/\s*script`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed|form|svg)\b`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

// sqlPatterns match keyword/operator sequences consistent with injection:
// UNION SELECT chains, stacked statements, tautologies, and comment
// terminators adjacent to quotes.
var sqlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s\w()]*\bselect\b`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|create|insert|update|exec|grant)\b`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+'?\d`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+'[^']*'\s*=\s*'`),
	regexp.MustCompile(`(?i)\b(or|and)\b\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`'\s*--`),
	regexp.MustCompile(`(?s)'\s*/\*`),
	regexp.MustCompile(`(?s)\*/\s*'`),
	regexp.MustCompile(`(?i)\bexec\s*\(?\s*(s|x)p_\w+`),
	regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`),
}

// DetectXSS reports whether input contains a known XSS vector.
func DetectXSS(input string) bool {
	for _, p := range xssPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

// DetectSQLInjection reports whether input contains a known injection pattern.
func DetectSQLInjection(input string) bool {
	for _, p := range sqlPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

// Scan runs both detectors and returns the first matching type.
func Scan(input string) (Type, bool) {
	if DetectXSS(input) {
		return TypeXSS, true
	}
	if DetectSQLInjection(input) {
		return TypeSQLInjection, true
	}
	return "", false
}

// allowedTags is the safe markup subset preserved by SanitizeHTML.
// Attributes are never preserved, so an allowed tag cannot carry an
// event handler or URI attribute through sanitization.
var allowedTags = map[string]bool{
	"p":      true,
	"b":      true,
	"i":      true,
	"em":     true,
	"strong": true,
	"br":     true,
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<\s*style\b[^>]*>.*?<\s*/\s*style\s*>`)
	tagRe         = regexp.MustCompile(`<\s*(/?)\s*([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)
)

// SanitizeHTML strips disallowed tags and all attributes, preserving the
// allow-listed subset as bare tags. The result is a fixpoint:
// SanitizeHTML(SanitizeHTML(x)) == SanitizeHTML(x).
func SanitizeHTML(input string) string {
	out := input
	// Iterate to a fixpoint so tag fragments reassembled by a removal
	// (e.g. "<scr<script>ipt>") cannot survive a single pass. Every pass
	// strictly shortens the string when it changes anything, so this
	// terminates.
	for {
		next := sanitizePass(out)
		if next == out {
			return out
		}
		out = next
	}
}

func sanitizePass(input string) string {
	out := scriptBlockRe.ReplaceAllString(input, "")
	out = styleBlockRe.ReplaceAllString(out, "")

	return tagRe.ReplaceAllStringFunc(out, func(tag string) string {
		m := tagRe.FindStringSubmatch(tag)
		name := strings.ToLower(m[2])
		if !allowedTags[name] {
			return ""
		}
		// Re-emit the tag bare, dropping every attribute.
		if m[1] == "/" {
			return "</" + name + ">"
		}
		return "<" + name + ">"
	})
}
