package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int
		want string
	}{
		{0, "0ms"},
		{1, "1ms"},
		{100, "100ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{5000, "5.0s"},
		{59000, "59.0s"},
		{60000, "1m0.0s"},
		{61000, "1m1.0s"},
		{90000, "1m30.0s"},
		{120000, "2m0.0s"},
		{125500, "2m5.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatDuration(tt.ms)
			if got != tt.want {
				t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormatMillis(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0ms"},
		{12.4, "12ms"},
		{12.6, "13ms"},
		{1499.9, "1.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatMillis(tt.ms)
			if got != tt.want {
				t.Errorf("FormatMillis(%v) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := FormatElapsed(1500 * time.Millisecond); got != "1.5s" {
		t.Errorf("FormatElapsed(1.5s) = %q, want %q", got, "1.5s")
	}
	if got := FormatElapsed(250*time.Millisecond + 400*time.Microsecond); got != "250ms" {
		t.Errorf("FormatElapsed(250.4ms) = %q, want %q", got, "250ms")
	}
}

func TestFormatConfidence(t *testing.T) {
	if got := FormatConfidence(0.9); got != "0.90" {
		t.Errorf("FormatConfidence(0.9) = %q, want %q", got, "0.90")
	}
}
