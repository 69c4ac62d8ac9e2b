package access

import (
	"errors"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rsecret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "Sup3rsecret" {
		t.Fatalf("hash must not equal plaintext")
	}
	if err := VerifyPassword(hash, "Sup3rsecret"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"Sup3rsecret", true},
		{"short1A", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
	}
	for _, tc := range cases {
		err := CheckPasswordStrength(tc.password)
		if tc.ok && err != nil {
			t.Fatalf("%q should pass: %v", tc.password, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%q should fail", tc.password)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("strength error should match ErrInvalidInput")
			}
		}
	}
}
