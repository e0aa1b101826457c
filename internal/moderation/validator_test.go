package moderation

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "hello", false},
		{"empty", "", true},
		{"blank", " \n\t", true},
		{"long", strings.Repeat("😀", 5000), false},
		{"invalid utf8", "bad \xff byte", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrepareText(t *testing.T) {
	// Largest message the platform delivers passes through untouched.
	full := strings.Repeat("😀", 3990) + " discord.gg/abc"
	if got := PrepareText(full); got != full {
		t.Errorf("PrepareText() cut a %d byte message", len(full))
	}

	if got := PrepareText("bad \xff byte"); got != "bad � byte" {
		t.Errorf("PrepareText() = %q", got)
	}

	long := strings.Repeat("é", MaxMatchBytes)
	got := PrepareText(long)
	if len(got) > MaxMatchBytes {
		t.Errorf("PrepareText() len = %d, want <= %d", len(got), MaxMatchBytes)
	}
	if !utf8.ValidString(got) {
		t.Error("PrepareText() split a rune")
	}
}
