package cryptoutil

import (
	"strings"
	"testing"
)

const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestSHA256Hex_KnownVector(t *testing.T) {
	if got := SHA256Hex([]byte{}); got != emptySHA256 {
		t.Fatalf("SHA256Hex(empty) = %q, want %q", got, emptySHA256)
	}
	got := SHA256Hex([]byte("Test"))
	if got != strings.ToLower(got) || len(got) != 64 {
		t.Fatalf("SHA256Hex = %q, want 64 lowercase hex chars", got)
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{16, emptySHA256[:16]},
		{0, ""},
		{-1, ""},
		{64, emptySHA256},
		{100, emptySHA256},
	}
	for _, tt := range tests {
		if got := Fingerprint("", tt.n); got != tt.want {
			t.Errorf("Fingerprint(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("Mozilla/5.0", 16)
	if a != Fingerprint("Mozilla/5.0", 16) {
		t.Fatal("same input should give the same fingerprint")
	}
	if a == Fingerprint("curl/8.0", 16) {
		t.Fatal("different inputs collided")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"admin", "admin", true},
		{"admin", "Admin", false},
		{"admin", "admin ", false},
		{"", "", true},
		{"", "x", false},
	}
	for _, tt := range tests {
		if got := ConstantTimeEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("ConstantTimeEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
