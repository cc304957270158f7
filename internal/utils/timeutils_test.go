package utils

import (
	"testing"
	"time"
)

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		-time.Second:                    "overdue",
		45 * time.Second:                "45s",
		10*time.Minute + 30*time.Second: "10m30s",
		2*time.Hour + 5*time.Minute:     "2h05m",
	}
	for in, want := range cases {
		if got := HumanDuration(in); got != want {
			t.Fatalf("HumanDuration(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestParseRFC3339(t *testing.T) {
	if _, err := ParseRFC3339(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
	got, err := ParseRFC3339("2024-01-02T15:04:05Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Year() != 2024 || got.Hour() != 15 {
		t.Fatalf("unexpected time: %v", got)
	}
}
