// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package logging

import "strings"

// Sanitization helpers for security-relevant log fields. Audit events carry
// the full values; process logs carry the masked forms produced here.

// SanitizeUserID masks a user ID for privacy.
// Example: "user-12345678" -> "user...5678"
func SanitizeUserID(userID string) string {
	if userID == "" {
		return ""
	}
	if len(userID) <= 8 {
		return "***"
	}
	return userID[:4] + "..." + userID[len(userID)-4:]
}

// SanitizeToken masks a token, showing only first and last 4 characters.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizePayload truncates and flattens a suspicious input payload so it can
// be logged without reproducing a multi-line attack string in the log stream.
func SanitizePayload(payload string) string {
	payload = strings.ReplaceAll(payload, "\n", " ")
	payload = strings.ReplaceAll(payload, "\r", "")
	return TruncateString(payload, 200)
}

// SanitizeError removes potentially sensitive information from error messages.
func SanitizeError(err string) string {
	sensitive := []string{"password", "secret", "token", "key", "bearer", "authorization", "cookie"}

	lowerErr := strings.ToLower(err)
	for _, pattern := range sensitive {
		if strings.Contains(lowerErr, pattern) {
			return "redacted error"
		}
	}
	return TruncateString(err, 200)
}

// TruncateString truncates a string to a maximum length.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
