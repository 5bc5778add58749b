package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateSubject_RuneBoundary(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		wantLen int
	}{
		{"short untouched", "hello", 5},
		{"ascii cut at limit", strings.Repeat("a", MaxSubjectLen+10), MaxSubjectLen},
		// "é" is two bytes; an odd filler length puts the limit mid-rune.
		{"multibyte backs off", "a" + strings.Repeat("é", MaxSubjectLen), MaxSubjectLen - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateSubject(tt.subject)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncation produced invalid UTF-8: %q", got[len(got)-4:])
			}
		})
	}
}

func TestTruncateMessageID_RuneBoundary(t *testing.T) {
	id := strings.Repeat("x", MaxMessageIDLen-1) + "漢字"
	got := TruncateMessageID(id)
	if len(got) != MaxMessageIDLen-1 {
		t.Errorf("len = %d, want %d", len(got), MaxMessageIDLen-1)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation produced invalid UTF-8: %q", got)
	}

	plain := strings.Repeat("x", MaxMessageIDLen+20)
	if got := TruncateMessageID(plain); len(got) != MaxMessageIDLen {
		t.Errorf("ascii len = %d, want %d", len(got), MaxMessageIDLen)
	}
}
