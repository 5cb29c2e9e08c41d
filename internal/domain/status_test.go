package domain

import "testing"

func TestCanTransition(t *testing.T) {
	all := []DeliveryStatus{StatusQueued, StatusSent, StatusFailed, StatusDead}
	allowed := map[[2]DeliveryStatus]bool{
		{StatusQueued, StatusSent}:   true,
		{StatusQueued, StatusFailed}: true,
		{StatusQueued, StatusDead}:   true,
		{StatusFailed, StatusSent}:   true,
		{StatusFailed, StatusFailed}: true,
		{StatusFailed, StatusDead}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]DeliveryStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v; want %v", from, to, got, want)
			}
		}
	}
}

func TestStatus_ValidTerminal(t *testing.T) {
	if DeliveryStatus("BOGUS").Valid() {
		t.Fatal("unknown status reported valid")
	}
	if !StatusSent.Terminal() || !StatusDead.Terminal() {
		t.Fatal("SENT and DEAD must be terminal")
	}
	if StatusQueued.Terminal() || StatusFailed.Terminal() {
		t.Fatal("QUEUED and FAILED must not be terminal")
	}
}
