package identgrammar

import (
	"strings"
	"testing"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"simple alnum", "room1", true},
		{"underscore and hyphen", "room_1-2", true},
		{"single char", "a", true},
		{"max length 64", strings.Repeat("a", 64), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 65), false},
		{"contains space", "room 1", false},
		{"contains slash", "room/1", false},
		{"contains dot", "room.1", false},
		{"unicode", "room-é", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Valid(tc.id); got != tc.want {
				t.Errorf("Valid(%q) = %v, want %v", tc.id, got, tc.want)
			}
		})
	}
}
