package billing

import (
	"net/http/httptest"
	"testing"
)

func TestAttributionFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/checkout?plan=pro&utm_source=newsletter&gclid=abc123", nil)
	r.RemoteAddr = "203.0.113.7:52814"
	r.Header.Set("User-Agent", "test-agent/1.0")

	attr := AttributionFromRequest(r)

	want := map[string]string{
		"client_ip":  "203.0.113.7",
		"user_agent": "test-agent/1.0",
		"utm_source": "newsletter",
		"gclid":      "abc123",
	}
	if len(attr) != len(want) {
		t.Fatalf("got %d attribution entries, want %d: %v", len(attr), len(want), attr)
	}
	for k, v := range want {
		if attr[k] != v {
			t.Errorf("attr[%q] = %q, want %q", k, attr[k], v)
		}
	}
}

func TestAttributionFromRequest_ForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/checkout", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")

	attr := AttributionFromRequest(r)
	if attr["client_ip"] != "198.51.100.9" {
		t.Errorf("client_ip = %q, want first forwarded hop", attr["client_ip"])
	}
}
