// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package testhelper

import (
	"net/http"
	"os"
	"testing"
)

// TestOnlineAPIURL is a URL that is reachable when running the online integration tests.
const TestOnlineAPIURL = "https://nominatim.openstreetmap.org/status"

// integrationEnv enables tests that talk to live APIs when set to "true".
const integrationEnv = "PERFORM_ONLINE_TEST"

// MockRoundTripper lets tests replace the transport of an HTTP client with a function.
type MockRoundTripper struct {
	Fn func(req *http.Request) (*http.Response, error)
}

func (m MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fn(req)
}

// PerformIntegrationTests skips the calling test unless online tests were requested.
func PerformIntegrationTests(t *testing.T) {
	t.Helper()
	if os.Getenv(integrationEnv) != "true" {
		t.Skipf("skipping online integration test, set %s=true to enable", integrationEnv)
	}
}

// FileResponse returns a round trip function that answers every request with the given
// status code and the contents of the given file.
func FileResponse(t *testing.T, status int, path string) func(*http.Request) (*http.Response, error) {
	t.Helper()
	return func(*http.Request) (*http.Response, error) {
		data, err := os.Open(path)
		if err != nil {
			t.Fatalf("failed to open JSON response file: %s", err)
		}
		return &http.Response{
			StatusCode: status,
			Body:       data,
			Header:     make(http.Header),
		}, nil
	}
}
