package domain

import (
	"errors"
	"testing"
)

func TestValidateMFACode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{" 123456", false},
		{"", false},
		{"１２３４５６", false},
	}
	for _, tt := range tests {
		err := ValidateMFACode(tt.code)
		if tt.valid && err != nil {
			t.Errorf("ValidateMFACode(%q) = %v, want nil", tt.code, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidCodeFormat) {
			t.Errorf("ValidateMFACode(%q) = %v, want ErrInvalidCodeFormat", tt.code, err)
		}
	}
}

func TestParseMFAChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    MFAChannel
		wantErr bool
	}{
		{"", MFAChannelEmail, false},
		{"email", MFAChannelEmail, false},
		{"TEXT", MFAChannelText, false},
		{" sms ", MFAChannelText, false},
		{"pigeon", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMFAChannel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMFAChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMFAChannel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if MFAChannelText.WebMethod() != "text" || MFAChannelEmail.WebMethod() != "email" {
		t.Error("WebMethod should lower-case the channel")
	}
}
