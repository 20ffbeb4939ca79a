package ui

import (
	"strings"
	"testing"
	"time"
)

func TestRoomView(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	view := RoomView("calm-fox-kite", []RoomMember{
		{Name: "Alice", JoinedAt: now.Add(-90 * time.Second)},
		{Name: "Bob", JoinedAt: now.Add(-2 * time.Hour)},
	}, now)

	for _, want := range []string{"calm-fox-kite", "2 participants", "Alice", "1m 30s", "Bob", "2h 0m"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRoomViewEmpty(t *testing.T) {
	view := RoomView("r", nil, time.Now())
	if !strings.Contains(view, "Nobody is here yet") {
		t.Fatalf("view=%q, want empty notice", view)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much too long", 5, "much…"},
		{"ünïcödé", 4, "ünï…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncate(%q, %d)=%q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
