/*
	This file contains functions useful for testing ndv in other packages.
	Unfortunately, due to the way Go handles compilation of *_test.go files,
	these functions cannot be in server_test.go since they will be unavailable
	to test files in external packages.  So these functions are exported and
	contain the "Test" keyword.
*/

package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// OpenTestServer initializes the server with default settings plus the given
// root and TOML configuration, which may be empty.  The server is shut down when
// the test finishes.
func OpenTestServer(t *testing.T, root, config string) {
	tc = defaultConfig()
	if config != "" {
		if err := decodeTestConfig(config); err != nil {
			t.Fatalf("bad test config: %v\n", err)
		}
	}
	tc.Server.Root = root
	if err := Initialize(context.Background()); err != nil {
		t.Fatalf("couldn't initialize test server on %s: %v\n", root, err)
	}
	t.Cleanup(func() {
		Shutdown()
		tc = defaultConfig()
	})
}

// TestHTTPResponse returns a response from a test run of the ndv server.
// Use TestHTTP if you just want the response body bytes.
func TestHTTPResponse(t *testing.T, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	ServeSingleHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func TestHTTP(t *testing.T, method, urlStr string, payload io.Reader) []byte {
	resp := TestHTTPResponse(t, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func TestBadHTTP(t *testing.T, method, urlStr string, payload io.Reader, status int) {
	resp := TestHTTPResponse(t, method, urlStr, payload)
	if resp.Code != status {
		t.Fatalf("Expected status %d for %s on %q, got %d instead: %s\n", status, method, urlStr, resp.Code, resp.Body.String())
	}
}
