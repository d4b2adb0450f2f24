package wa

import "testing"

func TestIsLogoutReason(t *testing.T) {
	tests := []struct {
		reason string
		want   bool
	}{
		{ReasonLoggedOut, true},
		{ReasonTempBanned, true},
		{ReasonStreamReplaced, false},
		{ReasonStreamError, false},
		{ReasonConnectionClosed, false},
		// Unknown reasons from a future backend version fail safe
		{"some_new_reason", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsLogoutReason(tt.reason); got != tt.want {
			t.Errorf("IsLogoutReason(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}
