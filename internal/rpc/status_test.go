package rpc

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"queued to sent", StatusQueued, StatusSent, true},
		{"queued to delivered skips sent", StatusQueued, StatusDelivered, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"queued to timeout", StatusQueued, StatusTimeout, true},
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"sent to successful", StatusSent, StatusSuccessful, true},
		{"sent to timeout", StatusSent, StatusTimeout, true},
		{"sent to expired", StatusSent, StatusExpired, true},
		{"delivered to successful", StatusDelivered, StatusSuccessful, true},
		{"delivered to expired", StatusDelivered, StatusExpired, true},
		{"delivered to timeout not allowed", StatusDelivered, StatusTimeout, false},
		{"backward delivered to sent", StatusDelivered, StatusSent, false},
		{"backward sent to queued", StatusSent, StatusQueued, false},
		{"successful is terminal", StatusSuccessful, StatusExpired, false},
		{"timeout is terminal", StatusTimeout, StatusSuccessful, false},
		{"expired is terminal", StatusExpired, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusSent, false},
		{"self transition rejected", StatusSent, StatusSent, false},
		{"unknown state has no moves", Status("BOGUS"), StatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSuccessful, StatusTimeout, StatusExpired, StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	live := []Status{StatusQueued, StatusSent, StatusDelivered}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusQueued.Valid() {
		t.Error("StatusQueued.Valid() = false, want true")
	}
	if Status("DELETED").Valid() {
		t.Error("DELETED should not be a stored status")
	}
	if Status("").Valid() {
		t.Error("empty status should be invalid")
	}
}
