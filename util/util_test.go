package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		forwarded string
		realIP    string
		want      string
	}{
		{"203.0.113.7, 10.0.0.1", "", "203.0.113.7"},
		{"  198.51.100.2 ", "10.0.0.9", "198.51.100.2"},
		{"", "192.0.2.44", "192.0.2.44"},
		{"", "", UnknownIP},
		{" , 10.0.0.1", "192.0.2.1", "192.0.2.1"},
	}
	for _, test := range tests {
		r := httptest.NewRequest("POST", "/api/newsletter/subscribe", nil)
		if test.forwarded != "" {
			r.Header.Set("X-Forwarded-For", test.forwarded)
		}
		if test.realIP != "" {
			r.Header.Set("X-Real-IP", test.realIP)
		}
		if got := ClientIP(r); got != test.want {
			t.Errorf("ClientIP(%q, %q) = %q, want %q", test.forwarded, test.realIP, got, test.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Me@Bücher.Example ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "me@xn--bcher-kva.example" {
		t.Errorf("NormalizeEmail = %s", got)
	}
	if _, err := NormalizeEmail("no-domain"); err == nil {
		t.Error("Expected an error for an address without @")
	}
}

func TestMaskEmail(t *testing.T) {
	if got := MaskEmail("someone@example.com"); got != "s***@example.com" {
		t.Errorf("MaskEmail = %s", got)
	}
	if got := MaskEmail("@example.com"); got != "***" {
		t.Errorf("MaskEmail = %s", got)
	}
}

func TestRequire(t *testing.T) {
	errs := Errors{}
	Require("FAKE_ENV_VAR", "", &errs)
	Require("OTHER_FAKE_ENV_VAR", "set", &errs)
	if len(errs) != 1 {
		t.Errorf("Expected exactly one error, got %d", len(errs))
	}
}
