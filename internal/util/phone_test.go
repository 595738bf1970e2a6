package util

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"15551234567", "15551234567"},
		{"whatsapp:+15551234567", "15551234567"},
		{"", ""},
		{"no digits", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	inputs := []string{"+1 (555) 123-4567", "whatsapp:+44 20 7946 0958", "12-34", "abc"}
	for _, in := range inputs {
		once := NormalizePhone(in)
		if twice := NormalizePhone(once); twice != once {
			t.Errorf("NormalizePhone not idempotent for %q: %q != %q", in, twice, once)
		}
	}
	if NormalizePhone("+1 (555) 123-4567") != NormalizePhone("15551234567") {
		t.Error("equivalent phone representations must share one identity")
	}
}
