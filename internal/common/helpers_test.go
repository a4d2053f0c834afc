package common

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUTCDate(t *testing.T) {
	// Момент до полуночи UTC в восточном поясе — день определяется по UTC
	moscow := time.FixedZone("MSK", 3*60*60)
	in := time.Date(2026, 3, 15, 1, 30, 0, 0, moscow) // 14 марта 22:30 UTC
	got := UTCDate(in)
	want := date(2026, 3, 14)
	if !got.Equal(want) {
		t.Errorf("UTCDate(%v) = %v, ожидалось %v", in, got, want)
	}
}

func TestSameDay(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		want bool
	}{
		{"одинаковые моменты", date(2026, 1, 5), date(2026, 1, 5), true},
		{"разное время одного дня", time.Date(2026, 1, 5, 0, 1, 0, 0, time.UTC), time.Date(2026, 1, 5, 23, 59, 0, 0, time.UTC), true},
		{"соседние дни", time.Date(2026, 1, 5, 23, 59, 0, 0, time.UTC), time.Date(2026, 1, 6, 0, 1, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameDay(tt.a, tt.b); got != tt.want {
				t.Errorf("SameDay(%v, %v) = %v, ожидалось %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIsYesterday(t *testing.T) {
	tests := []struct {
		name       string
		day, today time.Time
		want       bool
	}{
		{"ровно вчера", date(2026, 1, 4), date(2026, 1, 5), true},
		{"сегодня", date(2026, 1, 5), date(2026, 1, 5), false},
		{"позавчера", date(2026, 1, 3), date(2026, 1, 5), false},
		{"через границу месяца", date(2026, 1, 31), date(2026, 2, 1), true},
		{"через границу года", date(2025, 12, 31), date(2026, 1, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsYesterday(tt.day, tt.today); got != tt.want {
				t.Errorf("IsYesterday(%v, %v) = %v, ожидалось %v", tt.day, tt.today, got, tt.want)
			}
		})
	}
}

func TestNextMidnight(t *testing.T) {
	in := time.Date(2026, 1, 5, 18, 30, 0, 0, time.UTC)
	want := date(2026, 1, 6)
	if got := NextMidnight(in); !got.Equal(want) {
		t.Errorf("NextMidnight(%v) = %v, ожидалось %v", in, got, want)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(100); got != "+100 беситос" {
		t.Errorf("FormatAmount(100) = %q", got)
	}
	if got := FormatAmount(-50); got != "-50 беситос" {
		t.Errorf("FormatAmount(-50) = %q", got)
	}
}

func TestPluralizeDays(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "день"}, {2, "дня"}, {4, "дня"}, {5, "дней"},
		{11, "дней"}, {12, "дней"}, {14, "дней"},
		{21, "день"}, {22, "дня"}, {25, "дней"}, {111, "дней"},
	}
	for _, tt := range tests {
		if got := PluralizeDays(tt.n); got != tt.want {
			t.Errorf("PluralizeDays(%d) = %q, ожидалось %q", tt.n, got, tt.want)
		}
	}
}

func TestPluralizeRewards(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "награда"}, {2, "награды"}, {5, "наград"}, {11, "наград"}, {21, "награда"},
	}
	for _, tt := range tests {
		if got := PluralizeRewards(tt.n); got != tt.want {
			t.Errorf("PluralizeRewards(%d) = %q, ожидалось %q", tt.n, got, tt.want)
		}
	}
}
