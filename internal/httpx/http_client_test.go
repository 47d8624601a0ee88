package httpx

import (
	"testing"
	"time"
)

func TestExternalHTTPClientTimeout(t *testing.T) {
	if externalHTTPClient == nil {
		t.Fatal("externalHTTPClient must not be nil")
	}
	if externalHTTPClient.Timeout != defaultExternalHTTPTimeout {
		t.Fatalf("externalHTTPClient timeout = %s, want %s", externalHTTPClient.Timeout, defaultExternalHTTPTimeout)
	}
	if ExternalHTTPClient() != externalHTTPClient {
		t.Fatal("ExternalHTTPClient must return the shared client")
	}
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	cases := []struct {
		seconds int
		want    time.Duration
	}{
		{0, defaultExternalHTTPTimeout},
		{-3, defaultExternalHTTPTimeout},
		{45, 45 * time.Second},
	}
	for _, tc := range cases {
		got := ConfigureExternalHTTPClient(tc.seconds)
		if got != tc.want {
			t.Fatalf("ConfigureExternalHTTPClient(%d) = %s, want %s", tc.seconds, got, tc.want)
		}
		if externalHTTPClient.Timeout != tc.want {
			t.Fatalf("configured timeout = %s, want %s", externalHTTPClient.Timeout, tc.want)
		}
	}
}
