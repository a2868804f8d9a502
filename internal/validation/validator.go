// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package validation composes the threat detectors with field-specific rules
// into structured validation verdicts.
//
// Validation never mutates the caller's value and never returns an error
// through the error channel: outcomes are values. Free-text content is
// sanitized additively (strip, don't reject); titles are rejected hard,
// because silently rewriting a title changes user-intended content.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SNU-SE/sentinel/internal/metrics"
	"github.com/SNU-SE/sentinel/internal/threat"
)

// Kind selects the rule set applied to a value.
type Kind string

const (
	KindGeneric Kind = "generic"
	KindTitle   Kind = "title"
	KindContent Kind = "content"
	KindFile    Kind = "file"
)

// Error codes reported in FieldError.Code.
const (
	CodeXSSAttempt        = "XSS_ATTEMPT"
	CodeSQLInjection      = "SQL_INJECTION"
	CodeSuspiciousPattern = "SUSPICIOUS_PATTERN"
	CodeRequired          = "REQUIRED"
	CodeTooLong           = "TOO_LONG"
	CodeInvalidCharacters = "INVALID_CHARACTERS"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidMimeType   = "INVALID_MIME_TYPE"
	CodeExtensionMismatch = "EXTENSION_MISMATCH"
	CodeInvalidFileMeta   = "INVALID_FILE_META"
)

// FieldError is a single structured validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the verdict for one validation call. SanitizedValue is a
// candidate the caller may persist instead of the original; the original is
// never modified.
type Result struct {
	IsValid        bool         `json:"is_valid"`
	SanitizedValue string       `json:"sanitized_value,omitempty"`
	Errors         []FieldError `json:"errors,omitempty"`
}

// FileMeta describes an uploaded file's metadata.
type FileMeta struct {
	Name     string `validate:"required,max=255"`
	Size     int64  `validate:"gt=0"`
	MimeType string `validate:"required"`
}

// Options configures field rules.
type Options struct {
	MaxTitleLength   int
	MaxContentLength int
	MaxFileSize      int64
	AllowedMimeTypes []string
}

// DefaultOptions returns the rule defaults used when an option is zero.
func DefaultOptions() Options {
	return Options{
		MaxTitleLength:   200,
		MaxContentLength: 50000,
		MaxFileSize:      10 << 20,
		AllowedMimeTypes: []string{"application/pdf", "text/plain", "text/csv", "image/png", "image/jpeg", "image/gif"},
	}
}

// titleDisallowed are characters rejected in titles regardless of whether a
// threat pattern matches; markup and quoting characters have no business in
// a title.
const titleDisallowed = "<>\"'&;\\"

// extensionMime maps known file extensions to their expected MIME type.
var extensionMime = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// Validator applies field rules on top of the threat detectors.
type Validator struct {
	opts     Options
	allowed  map[string]bool
	validate *validator.Validate
}

// New creates a Validator with the given options; zero options fall back to
// defaults.
func New(opts Options) *Validator {
	def := DefaultOptions()
	if opts.MaxTitleLength <= 0 {
		opts.MaxTitleLength = def.MaxTitleLength
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = def.MaxContentLength
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = def.MaxFileSize
	}
	if len(opts.AllowedMimeTypes) == 0 {
		opts.AllowedMimeTypes = def.AllowedMimeTypes
	}

	allowed := make(map[string]bool, len(opts.AllowedMimeTypes))
	for _, mt := range opts.AllowedMimeTypes {
		allowed[strings.ToLower(mt)] = true
	}

	return &Validator{
		opts:     opts,
		allowed:  allowed,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate applies the rule set for kind to value. KindFile is not valid
// here; use ValidateFile for file metadata.
func (v *Validator) Validate(kind Kind, value string) Result {
	switch kind {
	case KindTitle:
		return v.validateTitle(value)
	case KindContent:
		return v.validateContent(value)
	default:
		return v.validateGeneric(value)
	}
}

// validateGeneric runs the threat detectors and passes the value through
// unchanged when clean.
func (v *Validator) validateGeneric(value string) Result {
	if errs := detectThreats("input", value); len(errs) > 0 {
		return invalid(errs)
	}
	return Result{IsValid: true, SanitizedValue: value}
}

// validateContent sanitizes additively: clean content comes back
// HTML-sanitized rather than rejected; only detector hits reject.
func (v *Validator) validateContent(value string) Result {
	if len(value) > v.opts.MaxContentLength {
		return invalid([]FieldError{{
			Field:   "content",
			Code:    CodeTooLong,
			Message: fmt.Sprintf("content must be at most %d characters", v.opts.MaxContentLength),
		}})
	}
	if errs := detectThreats("content", value); len(errs) > 0 {
		return invalid(errs)
	}
	return Result{IsValid: true, SanitizedValue: threat.SanitizeHTML(value)}
}

// validateTitle rejects hard: sanitizing a title would silently change what
// the user typed.
func (v *Validator) validateTitle(value string) Result {
	if strings.TrimSpace(value) == "" {
		return invalid([]FieldError{{Field: "title", Code: CodeRequired, Message: "title is required"}})
	}
	if len(value) > v.opts.MaxTitleLength {
		return invalid([]FieldError{{
			Field:   "title",
			Code:    CodeTooLong,
			Message: fmt.Sprintf("title must be at most %d characters", v.opts.MaxTitleLength),
		}})
	}
	if i := strings.IndexAny(value, titleDisallowed); i >= 0 {
		return invalid([]FieldError{{
			Field:   "title",
			Code:    CodeInvalidCharacters,
			Message: fmt.Sprintf("title contains disallowed character %q", value[i]),
		}})
	}
	if errs := detectThreats("title", value); len(errs) > 0 {
		return invalid(errs)
	}
	return Result{IsValid: true, SanitizedValue: value}
}

// ValidateFile checks file metadata against the MIME allow-list, the size
// cap, and extension/MIME agreement.
func (v *Validator) ValidateFile(meta FileMeta) Result {
	if err := v.validate.Struct(meta); err != nil {
		var errs []FieldError
		for _, fe := range extractFieldErrors(err) {
			errs = append(errs, fe)
		}
		return invalid(errs)
	}

	var errs []FieldError

	if threatType, hit := threat.Scan(meta.Name); hit {
		errs = append(errs, FieldError{
			Field:   "name",
			Code:    threatCode(threatType),
			Message: "file name contains a suspicious pattern",
		})
	}

	if meta.Size > v.opts.MaxFileSize {
		errs = append(errs, FieldError{
			Field:   "size",
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file exceeds the maximum size of %d bytes", v.opts.MaxFileSize),
		})
	}

	mime := strings.ToLower(strings.TrimSpace(meta.MimeType))
	if !v.allowed[mime] {
		errs = append(errs, FieldError{
			Field:   "mimeType",
			Code:    CodeInvalidMimeType,
			Message: fmt.Sprintf("MIME type %q is not allowed", meta.MimeType),
		})
	}

	ext := strings.ToLower(filepath.Ext(meta.Name))
	if expected, known := extensionMime[ext]; known && expected != mime {
		errs = append(errs, FieldError{
			Field:   "name",
			Code:    CodeExtensionMismatch,
			Message: fmt.Sprintf("extension %s does not match MIME type %q", ext, meta.MimeType),
		})
	}

	if len(errs) > 0 {
		return invalid(errs)
	}
	return Result{IsValid: true, SanitizedValue: meta.Name}
}

// detectThreats maps detector hits onto field errors.
func detectThreats(field, value string) []FieldError {
	threatType, hit := threat.Scan(value)
	if !hit {
		return nil
	}
	code := threatCode(threatType)
	return []FieldError{{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf("%s contains a pattern matching %s", field, strings.ReplaceAll(code, "_", " ")),
	}}
}

func threatCode(t threat.Type) string {
	switch t {
	case threat.TypeXSS:
		return CodeXSSAttempt
	case threat.TypeSQLInjection:
		return CodeSQLInjection
	default:
		return CodeSuspiciousPattern
	}
}

// extractFieldErrors converts go-playground validator errors to FieldErrors.
func extractFieldErrors(err error) []FieldError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "file", Code: CodeInvalidFileMeta, Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Code:    CodeInvalidFileMeta,
			Message: fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag()),
		})
	}
	return out
}

func invalid(errs []FieldError) Result {
	for _, e := range errs {
		metrics.ValidationFailures.WithLabelValues(e.Code).Inc()
	}
	return Result{IsValid: false, Errors: errs}
}
