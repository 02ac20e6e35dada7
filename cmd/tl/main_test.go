package main

import (
	"testing"

	"timeline/internal/metrics"
)

func TestRenderBar(t *testing.T) {
	pos := metrics.Position{Percentage: 50, DayNumber: 6, TotalDays: 11}
	marks := []metrics.MilestonePosition{{Percentage: 100}}
	got := []rune(renderBar(pos, marks, 11))
	if len(got) != 13 {
		t.Fatalf("expected 13 runes, got %d", len(got))
	}
	if got[6] != '▼' {
		t.Fatalf("expected today marker at 6, got %q", string(got))
	}
	if got[11] != '◆' {
		t.Fatalf("expected milestone marker at end, got %q", string(got))
	}

	before := []rune(renderBar(metrics.Position{TotalDays: 11, IsBeforeStart: true}, nil, 11))
	for _, r := range before {
		if r == '▼' {
			t.Fatalf("unexpected today marker before start: %q", string(before))
		}
	}
}

func TestHoursPair(t *testing.T) {
	if got := hoursPair(50, 1234.5); got != "50 / 1,234.5 h" {
		t.Fatalf("unexpected hours pair %q", got)
	}
}
