package modelfetch

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateTransferring, "transferring"},
		{StateVerifying, "verifying"},
		{StateFinalizing, "finalizing"},
		{StateSucceeded, "succeeded"},
		{StateFailed, "failed"},
		{StateCancelled, "cancelled"},
		{State(-1), "unknown"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
			}
		})
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StatePending:      false,
		StateTransferring: false,
		StateVerifying:    false,
		StateFinalizing:   false,
		StateSucceeded:    true,
		StateFailed:       true,
		StateCancelled:    true,
	}

	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		checksum Checksum
		wantZero bool
		want     string
	}{
		{
			name:     "empty",
			checksum: Checksum{},
			wantZero: true,
			want:     "",
		},
		{
			name:     "algorithm without value",
			checksum: Checksum{Algorithm: "md5"},
			wantZero: true,
			want:     "",
		},
		{
			name:     "md5",
			checksum: Checksum{Algorithm: "md5", Value: "abc"},
			want:     "md5:abc",
		},
		{
			name:     "sha256",
			checksum: Checksum{Algorithm: "sha256", Value: "def"},
			want:     "sha256:def",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.checksum.IsZero(); got != tt.wantZero {
				t.Errorf("IsZero() = %v, want %v", got, tt.wantZero)
			}
			if got := tt.checksum.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
