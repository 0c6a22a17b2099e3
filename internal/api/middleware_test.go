package api

import (
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"missing", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"lowercase scheme", "bearer abc123", ""},
		{"extra whitespace", "Bearer   abc123  ", "abc123"},
		{"bare scheme", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(r); got != tt.want {
				t.Errorf("extractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("secret", "secret") {
		t.Error("Expected equal strings to match")
	}
	if constantTimeEqual("secret", "secrex") {
		t.Error("Expected different strings to not match")
	}
	if constantTimeEqual("secret", "secret-longer") {
		t.Error("Expected different lengths to not match")
	}
	if constantTimeEqual("secret", "") {
		t.Error("Expected empty string to not match")
	}
}
