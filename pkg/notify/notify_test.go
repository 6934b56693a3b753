package notify

import "testing"

func TestTargetKey(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Room("c-42"), "room:c-42"},
		{User("u7"), "user:u7"},
		{Role("agent"), "role:agent"},
		{Everyone(), "all"},
	}
	for _, tt := range tests {
		if got := tt.target.Key(); got != tt.want {
			t.Errorf("Key(%+v) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
