package ui

import (
	"strings"
	"testing"
	"time"
)

func TestPadName(t *testing.T) {
	if got := PadName("ab", 5); got != "ab   " {
		t.Errorf("PadName = %q", got)
	}
	if got := PadName("日本", 6); got != "日本  " {
		t.Errorf("PadName wide = %q", got)
	}
	if got := PadName("toolong", 3); got != "toolong" {
		t.Errorf("PadName overflow = %q", got)
	}
}

func TestJobTag(t *testing.T) {
	got := JobTag("build", 8)
	if !strings.Contains(got, "build") || !strings.HasSuffix(got, "   ") {
		t.Errorf("JobTag = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Microsecond, "500 μs"},
		{850 * time.Millisecond, "850 ms"},
		{1240 * time.Millisecond, "1.24 s"},
		{125 * time.Second, "2 m 5 s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
