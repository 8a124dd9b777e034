// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	v := New(Config{})

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"simple text", "where is my order?", nil},
		{"unicode text", "අයවලුන් · চা · LKR 1,450", nil},
		{"empty", "", ErrEmptyInput},
		{"whitespace only", "   \n\t  ", ErrEmptyInput},
		{"too long", strings.Repeat("x", DefaultMaxMessageLength+1), ErrInputTooLong},
		{"at the limit", strings.Repeat("x", DefaultMaxMessageLength), nil},
		{"script tag", "hello <script>alert(1)</script>", ErrInjectionPattern},
		{"script tag spaced", "< ScRiPt >alert(1)", ErrInjectionPattern},
		{"javascript uri", "click javascript:doEvil()", ErrInjectionPattern},
		{"event handler", `<img onerror="steal()">`, ErrInjectionPattern},
		{"data html uri", "see data:text/html,<h1>x</h1>", ErrInjectionPattern},
		{"harmless angle brackets", "is 5 < 10 and 10 > 5?", nil},
		{"word containing on", "the carton is online", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate(%q) unexpected error: %v", tt.input, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStripsControlCharacters(t *testing.T) {
	v := New(Config{})

	out, err := v.Validate("hello\x00world\x07!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "helloworld!" {
		t.Errorf("expected control characters stripped, got %q", out)
	}

	// Newlines and tabs survive.
	out, err = v.Validate("line one\n\tline two")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "line one\n\tline two" {
		t.Errorf("newline/tab should be preserved, got %q", out)
	}
}

func TestValidateControlOnlyInput(t *testing.T) {
	v := New(Config{})
	if _, err := v.Validate("\x00\x01\x02"); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput after stripping, got %v", err)
	}
}

func TestValidateCodePointLimitNotBytes(t *testing.T) {
	v := New(Config{MaxMessageLength: 10})

	// 10 three-byte runes: 30 bytes but exactly 10 code points.
	input := strings.Repeat("ම", 10)
	if _, err := v.Validate(input); err != nil {
		t.Errorf("10 code points should pass a 10 code-point limit: %v", err)
	}
	if _, err := v.Validate(input + "ම"); !errors.Is(err, ErrInputTooLong) {
		t.Errorf("11 code points should fail, got %v", err)
	}
}
