// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard validates and sanitizes inbound user text before any
// model or tool call is made.
//
// Validation is pure and side-effect-free. A failure short-circuits the
// run and the input is never charged against conversation history.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxMessageLength is the default maximum input length in code
// points (not bytes).
const DefaultMaxMessageLength = 2000

// Validation failure taxonomy. All are user-facing and non-retryable.
var (
	// ErrEmptyInput is returned for empty or whitespace-only input.
	ErrEmptyInput = errors.New("input is empty")

	// ErrInputTooLong is returned when input exceeds the configured
	// maximum length.
	ErrInputTooLong = errors.New("input exceeds maximum length")

	// ErrInjectionPattern is returned when input matches the injection
	// deny-list.
	ErrInjectionPattern = errors.New("input contains a disallowed pattern")
)

// denyPatterns is the injection-style deny-list: script tags, javascript:
// URIs, inline event-handler attributes, and data:text/html URIs.
// Compiled once at package init; matching is case-insensitive.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<\s*script\b`),
	regexp.MustCompile(`(?is)<\s*/\s*script\s*>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*['"]`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
}

// Config configures the input validator.
type Config struct {
	// MaxMessageLength is the maximum input length in code points.
	// Default: DefaultMaxMessageLength.
	MaxMessageLength int
}

// Validator validates and sanitizes inbound user text.
//
// Thread Safety: Safe for concurrent use (stateless after construction).
type Validator struct {
	maxLength int
}

// New creates a validator with the given configuration.
func New(cfg Config) *Validator {
	maxLength := cfg.MaxMessageLength
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &Validator{maxLength: maxLength}
}

// Validate checks raw input and returns the sanitized text.
//
// # Description
//
// Rules, applied in order:
//  1. Reject empty or whitespace-only input.
//  2. Reject input longer than the configured maximum (code points).
//  3. Strip control characters except newline and tab.
//  4. Reject input matching the injection deny-list.
//
// # Inputs
//
//   - raw: The raw user text.
//
// # Outputs
//
//   - string: Sanitized text, safe to append to conversation history.
//   - error: ErrEmptyInput, ErrInputTooLong, or ErrInjectionPattern.
func (v *Validator) Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyInput
	}
	if n := utf8.RuneCountInString(raw); n > v.maxLength {
		return "", fmt.Errorf("%w: %d code points (max %d)", ErrInputTooLong, n, v.maxLength)
	}

	sanitized := stripControl(raw)
	if strings.TrimSpace(sanitized) == "" {
		return "", ErrEmptyInput
	}

	for _, pattern := range denyPatterns {
		if pattern.MatchString(sanitized) {
			return "", ErrInjectionPattern
		}
	}
	return sanitized, nil
}

// stripControl removes control characters except newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
